package mqtt

import "errors"

// Errors returned by the event publisher. Check them with errors.Is().
var (
	// ErrNotConnected is returned when the broker link is down. Events
	// published while disconnected are dropped, not queued.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned by Connect when the broker cannot be reached.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps broker rejections, timeouts and payloads that
	// cannot be encoded or exceed maxPayloadSize.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS is returned for a QoS level other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic, or an event without a
	// device ID or event type.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
