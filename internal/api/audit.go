package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nerrad567/remote-lab-core/internal/audit"
)

// auditChanSize bounds queued audit entries. A full queue drops the entry
// instead of slowing the request.
const auditChanSize = 256

// auditLog queues an entry for the background writer.
func (s *Server) auditLog(ctx context.Context, action, deviceID string, details map[string]any) {
	if s.auditCh == nil {
		return
	}
	select {
	case s.auditCh <- auditEntry(ctx, action, deviceID, details):
	default:
		s.logger.Warn("audit queue full, entry dropped", "action", action, "entity_id", deviceID)
	}
}

// drainAuditLog writes queued entries one at a time, which suits SQLite's
// single writer. After ctx is cancelled it flushes what is already queued.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.audit.Record(ctx, entry)
		case <-ctx.Done():
			for n := len(s.auditCh); n > 0; n-- {
				s.audit.Record(ctx, <-s.auditCh)
			}
			return
		}
	}
}

// parseAuditFilter reads action, entity_type, entity_id, since (RFC 3339),
// limit and offset. Clamping of limit is left to the repository.
func parseAuditFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("since must be an RFC 3339 timestamp")
		}
		f.Since = t
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%s must be a non-negative integer", p.name)
		}
		*p.dst = n
	}
	return f, nil
}

// handleListAuditLogs serves GET /audit. The route exists only when the
// audit trail is enabled.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	repo := s.audit.Repository()
	if repo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	filter, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := repo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs", "error", err, "request_id", requestID(r))
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
