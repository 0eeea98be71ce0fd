package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampLayout is fixed-width so created_at sorts lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const auditColumns = "id, action, entity_type, entity_id, subject, source, details, created_at"

// SQLiteRepository stores entries in the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over db. The schema comes from
// the migrations package.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts log, filling ID ("aud-<uuid>") and CreatedAt when unset.
func (r *SQLiteRepository) Create(ctx context.Context, log *AuditLog) error {
	if log.ID == "" {
		log.ID = "aud-" + uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var details sql.NullString
	if log.Details != nil {
		raw, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("encoding details of %s: %w", log.Action, err)
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO audit_logs ("+auditColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		log.ID, log.Action, log.EntityType,
		optional(log.EntityID), optional(log.Subject), log.Source, details,
		log.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log %s: %w", log.ID, err)
	}
	return nil
}

func optional(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// whereClause renders filter as a parameterised WHERE clause.
func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = ?", f.EntityID)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UTC().Format(timestampLayout))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	limit, offset := filter.page()
	where, args := whereClause(filter)

	res := &ListResult{Logs: []AuditLog{}, Limit: limit, Offset: offset}

	//nolint:gosec // where holds only placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}
	if res.Total <= offset {
		return res, nil
	}

	//nolint:gosec // where holds only placeholders
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audit_logs"+where+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res.Logs = append(res.Logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading audit logs: %w", err)
	}
	return res, nil
}

func scanEntry(rows *sql.Rows) (AuditLog, error) {
	var (
		e                         AuditLog
		entityID, subject, detail sql.NullString
		created                   string
	)
	if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &subject, &e.Source, &detail, &created); err != nil {
		return AuditLog{}, fmt.Errorf("scanning audit log: %w", err)
	}
	e.EntityID = entityID.String
	e.Subject = subject.String

	// Unreadable details are dropped rather than failing the whole page.
	if detail.String != "" {
		var d map[string]any
		if json.Unmarshal([]byte(detail.String), &d) == nil {
			e.Details = d
		}
	}

	t, err := time.Parse(timestampLayout, created)
	if err != nil {
		return AuditLog{}, fmt.Errorf("audit log %s: bad created_at %q: %w", e.ID, created, err)
	}
	e.CreatedAt = t
	return e, nil
}
