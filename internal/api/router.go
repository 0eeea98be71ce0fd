package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthProbeTimeout bounds the toolchain probe made by /health.
const healthProbeTimeout = 15 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Health check and metrics (no auth required)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	// Protected routes (open when no JWT secret is configured)
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/project", s.handleProjectInfo)
				r.Post("/build", s.handleBuildFirmware)
				r.Post("/upload", s.handleUploadFirmware)
				r.Post("/init", s.handleInitProject)
				r.Post("/clean", s.handleCleanProject)
				r.Post("/create-main", s.handleCreateMain)
			})
		})

		if s.audit != nil {
			r.Get("/audit", s.handleListAuditLogs)
		}

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath returns the configured WebSocket path.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// ToolchainHealth reports toolchain availability in /health.
type ToolchainHealth struct {
	Binary    string `json:"binary"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Toolchain ToolchainHealth `json:"toolchain"`
}

// handleHealth returns the server health status.
// The service is "degraded" when the toolchain cannot be found; it still
// answers 200 because device registry operations keep working.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Toolchain: ToolchainHealth{Binary: s.toolchain.Binary()},
	}

	probe, err := s.toolchain.Check(ctx)
	if err != nil {
		resp.Status = "degraded"
		resp.Toolchain.Error = err.Error()
	} else {
		resp.Toolchain.Available = true
		resp.Toolchain.Version = probe.Version
		resp.Toolchain.Path = probe.Path
	}

	writeJSON(w, http.StatusOK, resp)
}
