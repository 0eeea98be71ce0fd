package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SQLiteStore persists devices in the devices table.
// The schema is created by the embedded migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Create upserts d keyed by its ID.
func (s *SQLiteStore) Create(ctx context.Context, d Device) (Device, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, board_id, board_type, project_path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			board_id = excluded.board_id,
			board_type = excluded.board_type,
			project_path = excluded.project_path`,
		d.ID.String(), d.Name, d.BoardID,
		optionalString(d.BoardType), optionalString(d.ProjectPath),
	)
	if err != nil {
		return Device{}, fmt.Errorf("%w: inserting device: %w", ErrStorageUnavailable, err)
	}
	return d.Clone(), nil
}

// FindByID loads a single device.
func (s *SQLiteStore) FindByID(ctx context.Context, id uuid.UUID) (Device, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, board_id, board_type, project_path FROM devices WHERE id = ?`,
		id.String(),
	)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, false, nil
	}
	if err != nil {
		return Device{}, false, fmt.Errorf("%w: querying device: %w", ErrStorageUnavailable, err)
	}
	return d, true, nil
}

// List loads every device, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, board_id, board_type, project_path FROM devices ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing devices: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning device: %w", ErrStorageUnavailable, err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating devices: %w", ErrStorageUnavailable, err)
	}
	return devices, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(sc rowScanner) (Device, error) {
	var (
		d           Device
		id          string
		boardType   sql.NullString
		projectPath sql.NullString
	)
	if err := sc.Scan(&id, &d.Name, &d.BoardID, &boardType, &projectPath); err != nil {
		return Device{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return Device{}, fmt.Errorf("parsing device id %q: %w", id, err)
	}
	d.ID = parsed

	if boardType.Valid {
		d.BoardType = &boardType.String
	}
	if projectPath.Valid {
		d.ProjectPath = &projectPath.String
	}
	return d, nil
}

// optionalString maps nil to SQL NULL. An empty string is stored as-is.
func optionalString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
