package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/remote-lab-core/internal/device"
	"github.com/nerrad567/remote-lab-core/internal/toolchain"
)

// createMainMessage is the output reported by a successful create-main.
const createMainMessage = "Basic main.cpp created successfully"

// CommandResponse is the body of every firmware endpoint, success or failure.
type CommandResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// uploadRequest is the optional body of POST /devices/{id}/upload.
type uploadRequest struct {
	Port string `json:"port"`
}

// initRequest is the body of POST /devices/{id}/init.
type initRequest struct {
	Board string `json:"board"`
}

// firmwareOp runs one toolchain action against a project directory.
type firmwareOp func(ctx context.Context, projectPath string) (string, error)

// handleBuildFirmware compiles the device's project.
func (s *Server) handleBuildFirmware(w http.ResponseWriter, r *http.Request) {
	s.runFirmware(w, r, toolchain.ActionBuild, "Build failed", s.toolchain.BuildProject)
}

// handleUploadFirmware flashes the device, optionally through an explicit serial port.
func (s *Server) handleUploadFirmware(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeCommandError(w, http.StatusBadRequest, "Invalid JSON body", "")
		return
	}

	s.runFirmware(w, r, toolchain.ActionUpload, "Upload failed", func(ctx context.Context, path string) (string, error) {
		return s.toolchain.UploadFirmware(ctx, path, req.Port)
	})
}

// handleInitProject creates the project directory and initialises it for a board.
func (s *Server) handleInitProject(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCommandError(w, http.StatusBadRequest, "Invalid JSON body", "")
		return
	}
	if req.Board == "" {
		writeCommandError(w, http.StatusBadRequest, "board is required", "")
		return
	}

	s.runFirmware(w, r, toolchain.ActionInit, "Project initialization failed", func(ctx context.Context, path string) (string, error) {
		return s.toolchain.InitProject(ctx, path, req.Board)
	})
}

// handleCleanProject removes build artefacts.
func (s *Server) handleCleanProject(w http.ResponseWriter, r *http.Request) {
	s.runFirmware(w, r, toolchain.ActionClean, "Clean failed", s.toolchain.CleanProject)
}

// handleProjectInfo reports the resolved project configuration.
func (s *Server) handleProjectInfo(w http.ResponseWriter, r *http.Request) {
	s.runFirmware(w, r, toolchain.ActionProjectInfo, "Failed to get project info", s.toolchain.ProjectInfo)
}

// handleCreateMain writes the starter src/main.cpp into the project.
func (s *Server) handleCreateMain(w http.ResponseWriter, r *http.Request) {
	s.runFirmware(w, r, toolchain.ActionCreateMain, "Failed to create main file", func(_ context.Context, path string) (string, error) {
		if err := s.toolchain.CreateBasicMain(path); err != nil {
			return "", err
		}
		return createMainMessage, nil
	})
}

// runFirmware resolves the device's project, runs op and writes the CommandResponse.
//
// Status mapping:
//   - 400: malformed device ID, or a bare device with no project
//   - 404: no such device
//   - 503: the server is shutting down
//   - 504: the toolchain command outlived its deadline
//   - 500: store failure, or any other toolchain failure
//
// Every outcome that reaches the toolchain is published as a firmware.<action>
// event and audited.
func (s *Server) runFirmware(w http.ResponseWriter, r *http.Request, action, failPrefix string, op firmwareOp) {
	ctx := r.Context()

	dev, ok := s.lookupFirmwareDevice(w, r)
	if !ok {
		return
	}
	projectPath, ok := dev.Project()
	if !ok {
		writeCommandError(w, http.StatusBadRequest, "Device has no project path configured", "")
		return
	}

	if !s.jobs.begin() {
		writeCommandError(w, http.StatusServiceUnavailable, "Server is shutting down", "")
		return
	}
	output, err := op(ctx, projectPath)
	s.jobs.done()
	s.firmwareEvent(ctx, dev.ID, action, projectPath, err)

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, toolchain.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		s.logger.Warn("firmware action failed",
			"action", action,
			"device_id", dev.ID,
			"status", status,
			"error", err,
			"request_id", requestIDFromContext(ctx),
		)
		writeCommandError(w, status, fmt.Sprintf("%s: %v", failPrefix, err), toolchain.OutputOf(err))
		return
	}

	writeJSON(w, http.StatusOK, CommandResponse{Success: true, Output: output})
}

// lookupFirmwareDevice parses {id} and loads the device, writing a
// CommandResponse on any failure.
func (s *Server) lookupFirmwareDevice(w http.ResponseWriter, r *http.Request) (device.Device, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeCommandError(w, http.StatusBadRequest, "Invalid device ID", "")
		return device.Device{}, false
	}

	dev, found, err := s.registry.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get device", "id", id, "error", err)
		writeCommandError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get device: %v", err), "")
		return device.Device{}, false
	}
	if !found {
		writeCommandError(w, http.StatusNotFound, "Device not found", "")
		return device.Device{}, false
	}
	return dev, true
}

// writeCommandError writes a failed CommandResponse.
func writeCommandError(w http.ResponseWriter, status int, message, output string) {
	writeJSON(w, status, CommandResponse{
		Success: false,
		Output:  output,
		Error:   message,
	})
}
