package device

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CreateParams describes a device registration request.
// BoardType and ProjectPath are optional; nil means not supplied.
type CreateParams struct {
	Name        string
	BoardID     string
	BoardType   *string
	ProjectPath *string
}

// Stats summarises the registry contents.
type Stats struct {
	Total      int `json:"total"`
	Configured int `json:"configured"`
	Bare       int `json:"bare"`
}

// Registry applies device construction rules and delegates storage to a Store.
//
// It holds no state of its own besides configuration, so its thread safety
// is that of the underlying Store.
type Registry struct {
	store  Store
	strict bool
	logger Logger
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:  store,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetStrictToolchainConfig makes Create reject requests that supply only one
// of BoardType and ProjectPath. By default such requests produce a bare device.
func (r *Registry) SetStrictToolchainConfig(strict bool) {
	r.strict = strict
}

// Create registers a new device.
//
// When both BoardType and ProjectPath are supplied the device is
// toolchain-configured with those values and BoardID. Otherwise it is bare:
// BoardType and ProjectPath are nil and BoardID is empty. Name and BoardID are
// not validated.
//
// Returns:
//   - Device: the value returned by the store
//   - error: ErrPartialToolchainConfig in strict mode, or a store error
func (r *Registry) Create(ctx context.Context, p CreateParams) (Device, error) {
	var d Device
	switch {
	case p.BoardType != nil && p.ProjectPath != nil:
		d = NewConfigured(p.Name, p.BoardID, *p.BoardType, *p.ProjectPath)
	case p.BoardType != nil || p.ProjectPath != nil:
		if r.strict {
			return Device{}, ErrPartialToolchainConfig
		}
		r.logger.Warn("partial toolchain configuration ignored, creating bare device",
			"name", p.Name,
			"board_type_set", p.BoardType != nil,
			"project_path_set", p.ProjectPath != nil,
		)
		d = New(p.Name)
	default:
		d = New(p.Name)
	}

	created, err := r.store.Create(ctx, d)
	if err != nil {
		r.logger.Error("device create failed", "id", d.ID, "error", err)
		return Device{}, fmt.Errorf("creating device: %w", err)
	}

	r.logger.Info("device created",
		"id", created.ID,
		"name", created.Name,
		"configured", created.IsToolchainConfigured(),
	)
	return created, nil
}

// Get returns the device with the given ID, or false if none exists.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (Device, bool, error) {
	return r.store.FindByID(ctx, id)
}

// List returns a snapshot of all registered devices.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	return r.store.List(ctx)
}

// Stats counts configured and bare devices.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	devices, err := r.store.List(ctx)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{Total: len(devices)}
	for _, d := range devices {
		if d.IsToolchainConfigured() {
			s.Configured++
		} else {
			s.Bare++
		}
	}
	return s, nil
}
