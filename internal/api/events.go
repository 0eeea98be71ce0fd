package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/remote-lab-core/internal/audit"
)

// Event types published to WebSocket subscribers and MQTT.
// Firmware events are "firmware." followed by the toolchain action.
const (
	EventDeviceCreated  = "device.created"
	eventFirmwarePrefix = "firmware."
)

// FirmwareEvent is the payload of a firmware.<action> event.
type FirmwareEvent struct {
	DeviceID    string `json:"device_id"`
	Action      string `json:"action"`
	ProjectPath string `json:"project_path"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Time        string `json:"time"`
}

// eventChanSize bounds events waiting for the broker. A full queue drops the
// event instead of slowing the request.
const eventChanSize = 256

// eventPublisher is the broker side of event delivery. *mqtt.Client satisfies it.
type eventPublisher interface {
	IsConnected() bool
	PublishEvent(deviceID, eventType string, payload any) error
}

// brokerEvent is an event queued for the broker.
type brokerEvent struct {
	deviceID  uuid.UUID
	eventType string
	payload   any
	requestID string
}

// setPublisher enables broker delivery through p.
func (s *Server) setPublisher(p eventPublisher) {
	s.publisher = p
	s.eventCh = make(chan brokerEvent, eventChanSize)
}

// emit broadcasts an event to WebSocket subscribers and queues it for the
// broker. Publishing happens on a background goroutine, so a slow broker
// never holds up the request.
func (s *Server) emit(ctx context.Context, deviceID uuid.UUID, eventType string, payload any) {
	s.hub.Broadcast(eventType, payload)

	if s.eventCh == nil {
		return
	}
	ev := brokerEvent{
		deviceID:  deviceID,
		eventType: eventType,
		payload:   payload,
		requestID: requestIDFromContext(ctx),
	}
	select {
	case s.eventCh <- ev:
	default:
		s.logger.Warn("event queue full, event dropped", "event", eventType, "device_id", deviceID)
	}
}

// drainEvents publishes queued events under each device's event topic while
// the broker is connected. After ctx is cancelled it flushes what is already
// queued. Publish failures are logged only.
func (s *Server) drainEvents(ctx context.Context) {
	for {
		select {
		case ev := <-s.eventCh:
			s.publishEvent(ev)
		case <-ctx.Done():
			for n := len(s.eventCh); n > 0; n-- {
				s.publishEvent(<-s.eventCh)
			}
			return
		}
	}
}

func (s *Server) publishEvent(ev brokerEvent) {
	if !s.publisher.IsConnected() {
		return
	}
	if err := s.publisher.PublishEvent(ev.deviceID.String(), ev.eventType, ev.payload); err != nil {
		s.logger.Warn("event publish failed",
			"event", ev.eventType,
			"device_id", ev.deviceID,
			"error", err,
			"request_id", ev.requestID,
		)
	}
}

// firmwareEvent emits and audits the outcome of a firmware action.
func (s *Server) firmwareEvent(ctx context.Context, deviceID uuid.UUID, action, projectPath string, err error) {
	ev := FirmwareEvent{
		DeviceID:    deviceID.String(),
		Action:      action,
		ProjectPath: projectPath,
		Success:     err == nil,
		Time:        time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}

	s.emit(ctx, deviceID, eventFirmwarePrefix+action, ev)

	details := map[string]any{
		"project_path": projectPath,
		"success":      ev.Success,
	}
	if ev.Error != "" {
		details["error"] = ev.Error
	}
	s.auditLog(ctx, eventFirmwarePrefix+action, deviceID.String(), details)
}

// recordRegistryStats writes the current device counts to InfluxDB, if configured.
func (s *Server) recordRegistryStats(ctx context.Context) {
	if s.influx == nil || !s.influx.IsConnected() {
		return
	}
	stats, err := s.registry.Stats(ctx)
	if err != nil {
		s.logger.Warn("registry stats unavailable", "error", err)
		return
	}
	s.influx.WriteRegistryStats(stats)
}

// auditEntry builds an API-sourced audit entry for a device.
func auditEntry(ctx context.Context, action, deviceID string, details map[string]any) audit.AuditLog {
	return audit.AuditLog{
		Action:     action,
		EntityType: "device",
		EntityID:   deviceID,
		Subject:    subjectFromContext(ctx),
		Source:     audit.SourceAPI,
		Details:    details,
	}
}
