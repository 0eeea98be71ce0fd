package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/remote-lab-core/internal/device"
)

// createDeviceRequest is the body of POST /devices.
// board_type and project_path may be omitted or null.
type createDeviceRequest struct {
	Name        string  `json:"name"`
	BoardID     string  `json:"board_id"`
	BoardType   *string `json:"board_type"`
	ProjectPath *string `json:"project_path"`
}

// handleListDevices returns every registered device as a JSON array.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDeviceID(w, r)
	if !ok {
		return
	}

	dev, found, err := s.registry.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get device", "id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}
	if !found {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.registry.Create(r.Context(), device.CreateParams{
		Name:        req.Name,
		BoardID:     req.BoardID,
		BoardType:   req.BoardType,
		ProjectPath: req.ProjectPath,
	})
	if err != nil {
		if errors.Is(err, device.ErrPartialToolchainConfig) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		writeInternalError(w, "failed to create device")
		return
	}

	s.emit(r.Context(), dev.ID, EventDeviceCreated, dev)
	s.auditLog(r.Context(), "device.create", dev.ID.String(), map[string]any{
		"name":       dev.Name,
		"configured": dev.IsToolchainConfigured(),
	})
	s.recordRegistryStats(r.Context())

	writeJSON(w, http.StatusCreated, dev)
}

// parseDeviceID reads the {id} URL parameter, writing a 400 when it is not a UUID.
func parseDeviceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid device ID")
		return uuid.Nil, false
	}
	return id, true
}
