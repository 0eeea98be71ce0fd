package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/remote-lab-core/internal/audit"
	"github.com/nerrad567/remote-lab-core/internal/device"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/config"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/logging"
	"github.com/nerrad567/remote-lab-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/remote-lab-core/internal/toolchain"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown. After it, request contexts are cancelled so
// running toolchain commands have their process groups terminated.
const gracefulShutdownTimeout = 10 * time.Second

// jobDrainTimeout bounds the wait for cancelled firmware commands to exit.
// It covers the runner's SIGTERM grace period before SIGKILL.
const jobDrainTimeout = 15 * time.Second

// Toolchain is the firmware toolchain as used by the API.
// *toolchain.Runner satisfies it.
type Toolchain interface {
	Binary() string
	Check(ctx context.Context) (toolchain.ProbeResult, error)
	BuildProject(ctx context.Context, projectPath string) (string, error)
	UploadFirmware(ctx context.Context, projectPath, port string) (string, error)
	CleanProject(ctx context.Context, projectPath string) (string, error)
	ProjectInfo(ctx context.Context, projectPath string) (string, error)
	InitProject(ctx context.Context, projectPath, board string) (string, error)
	CreateBasicMain(projectPath string) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Registry  *device.Registry
	Toolchain Toolchain
	MQTT      *mqtt.Client     // optional: events are published when connected
	Influx    *influxdb.Client // optional: registry stats after each create
	Audit     *audit.Recorder  // optional: enables the audit trail and GET /audit
	DB        *sql.DB          // optional: pool stats in /metrics
	Version   string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	registry  *device.Registry
	toolchain Toolchain
	mqtt      *mqtt.Client
	publisher eventPublisher
	eventCh   chan brokerEvent
	influx    *influxdb.Client
	audit     *audit.Recorder
	auditCh   chan audit.AuditLog
	db        *sql.DB
	version   string
	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	jobs      jobTracker

	shutdownTimeout time.Duration
	cancel          context.CancelFunc // cancels background goroutines on Close()
	cancelRequests  context.CancelFunc // cancels in-flight request contexts
	auditDone       chan struct{}
	eventsDone      chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, registry, toolchain) and optional integrations
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Toolchain == nil {
		return nil, fmt.Errorf("toolchain is required")
	}

	ws := withWSDefaults(deps.WS)
	s := &Server{
		cfg:       deps.Config,
		wsCfg:     ws,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		registry:  deps.Registry,
		toolchain: deps.Toolchain,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		audit:     deps.Audit,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),

		shutdownTimeout: gracefulShutdownTimeout,
	}
	if s.audit != nil {
		s.auditCh = make(chan audit.AuditLog, auditChanSize)
	}
	if deps.MQTT != nil {
		s.setPublisher(deps.MQTT)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It binds the listener synchronously, so a port already in use is reported
// here, then serves in a background goroutine. The WebSocket hub, the audit
// writer and the broker publisher run until Close() is called.
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Request contexts outlive ctx so that a signal does not abort requests
	// that Shutdown is still waiting for. Close cancels them.
	reqCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelRequests = cancelRequests

	go s.hub.Run(srvCtx)

	if s.auditCh != nil {
		s.auditDone = make(chan struct{})
		go func() {
			defer close(s.auditDone)
			s.drainAuditLog(srvCtx)
		}()
	}
	if s.eventCh != nil {
		s.eventsDone = make(chan struct{})
		go func() {
			defer close(s.eventsDone)
			s.drainEvents(srvCtx)
		}()
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		s.cancelRequests()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete. Requests
// still running after that have their contexts cancelled and their
// connections closed, and Close waits for any firmware command among them
// to stop its toolchain process group. Queued audit entries and broker
// events are flushed before Close returns.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	shutdownErr := s.server.Shutdown(ctx)
	if shutdownErr != nil {
		s.logger.Warn("graceful shutdown timed out, cancelling in-flight requests", "error", shutdownErr)
	}

	s.cancelRequests()
	if shutdownErr != nil {
		s.server.Close() //nolint:errcheck // Shutdown already failed; its error is returned
	}
	if !s.jobs.drain(jobDrainTimeout) {
		s.logger.Error("firmware commands still running after shutdown", "timeout", jobDrainTimeout)
	}

	// Cancel background goroutines (hub, audit writer, publisher) after requests finish
	if s.cancel != nil {
		s.cancel()
	}
	if s.auditDone != nil {
		<-s.auditDone
	}
	if s.eventsDone != nil {
		<-s.eventsDone
	}

	if shutdownErr != nil {
		return fmt.Errorf("shutting down API server: %w", shutdownErr)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
