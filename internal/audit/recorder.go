package audit

import (
	"context"
	"time"
)

// Sources recorded in AuditLog.Source.
const (
	SourceAPI = "api"
)

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder writes audit entries on a best-effort basis. A failed write is
// logged and never reaches the caller.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	repo    Repository
	logger  Logger
	timeout time.Duration
}

// NewRecorder wraps repo. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger, timeout: 5 * time.Second}
}

// Record stores entry, detached from ctx cancellation so a client that
// disconnects mid-request still leaves a trail.
func (r *Recorder) Record(ctx context.Context, entry AuditLog) {
	if r == nil || r.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.repo.Create(ctx, &entry); err != nil && r.logger != nil {
		r.logger.Warn("audit write failed",
			"action", entry.Action,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}

// Repository returns the underlying repository, or nil.
func (r *Recorder) Repository() Repository {
	if r == nil {
		return nil
	}
	return r.repo
}
