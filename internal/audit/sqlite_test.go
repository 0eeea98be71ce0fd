package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/remote-lab-core/internal/infrastructure/database"
	_ "github.com/nerrad567/remote-lab-core/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreateAndList(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []AuditLog{
		{Action: "device.create", EntityType: "device", EntityID: "dev-1", Source: SourceAPI, CreatedAt: base},
		{
			Action: "firmware.build", EntityType: "device", EntityID: "dev-1", Subject: "ci",
			Source: SourceAPI, Details: map[string]any{"success": true}, CreatedAt: base.Add(time.Minute),
		},
		{Action: "firmware.build", EntityType: "device", EntityID: "dev-2", Source: SourceAPI, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if entries[i].ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	t.Run("newest first", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 3 || len(res.Logs) != 3 {
			t.Fatalf("Total = %d, len = %d, want 3", res.Total, len(res.Logs))
		}
		if res.Logs[0].EntityID != "dev-2" {
			t.Errorf("first entry = %q, want newest (dev-2)", res.Logs[0].EntityID)
		}
		if res.Limit != 50 {
			t.Errorf("Limit = %d, want default 50", res.Limit)
		}
	})

	t.Run("filter and fields", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{Action: "firmware.build", EntityID: "dev-1"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 1 {
			t.Fatalf("Total = %d, want 1", res.Total)
		}
		got := res.Logs[0]
		if got.Subject != "ci" {
			t.Errorf("Subject = %q, want %q", got.Subject, "ci")
		}
		if got.Details["success"] != true {
			t.Errorf("Details = %v, want success=true", got.Details)
		}
		if !got.CreatedAt.Equal(base.Add(time.Minute)) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base.Add(time.Minute))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 3 || len(res.Logs) != 1 {
			t.Errorf("Total = %d, len = %d, want 3 and 1", res.Total, len(res.Logs))
		}
	})

	t.Run("since", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{Since: base.Add(time.Minute)})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 2 {
			t.Errorf("Total = %d, want 2 entries at or after %v", res.Total, base.Add(time.Minute))
		}
	})

	t.Run("offset past the end", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{Offset: 10})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 3 || len(res.Logs) != 0 {
			t.Errorf("Total = %d, len = %d, want 3 and 0", res.Total, len(res.Logs))
		}
	})

	t.Run("empty result is not nil", func(t *testing.T) {
		res, err := repo.List(ctx, Filter{EntityID: "nobody"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Logs == nil {
			t.Error("Logs = nil, want empty slice")
		}
	})
}

func TestFilterPage(t *testing.T) {
	tests := []struct {
		filter     Filter
		wantLimit  int
		wantOffset int
	}{
		{Filter{}, DefaultLimit, 0},
		{Filter{Limit: 10, Offset: 20}, 10, 20},
		{Filter{Limit: 1000}, MaxLimit, 0},
		{Filter{Limit: -1, Offset: -5}, DefaultLimit, 0},
	}
	for _, tt := range tests {
		limit, offset := tt.filter.page()
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Errorf("page(%+v) = %d, %d, want %d, %d", tt.filter, limit, offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *AuditLog) error { return errors.New("disk full") }
func (failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("disk full")
}

type captureLogger struct{ warnings []string }

func (c *captureLogger) Warn(msg string, _ ...any) { c.warnings = append(c.warnings, msg) }

func TestRecorder(t *testing.T) {
	t.Run("writes entry", func(t *testing.T) {
		repo := setupRepo(t)
		NewRecorder(repo, nil).Record(context.Background(), AuditLog{
			Action: "device.create", EntityType: "device", EntityID: "dev-9", Source: SourceAPI,
		})
		res, err := repo.List(context.Background(), Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 1 {
			t.Errorf("Total = %d, want 1", res.Total)
		}
	})

	t.Run("failure is logged not returned", func(t *testing.T) {
		logger := &captureLogger{}
		NewRecorder(failingRepo{}, logger).Record(context.Background(), AuditLog{Action: "device.create"})
		if len(logger.warnings) != 1 {
			t.Errorf("warnings = %v, want one", logger.warnings)
		}
	})

	t.Run("cancelled request still recorded", func(t *testing.T) {
		repo := setupRepo(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		NewRecorder(repo, nil).Record(ctx, AuditLog{Action: "firmware.clean", EntityType: "device", Source: SourceAPI})
		res, err := repo.List(context.Background(), Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 1 {
			t.Errorf("Total = %d, want 1", res.Total)
		}
	})

	t.Run("nil recorder", func(t *testing.T) {
		var r *Recorder
		r.Record(context.Background(), AuditLog{Action: "noop"})
		if r.Repository() != nil {
			t.Error("Repository() on nil recorder should be nil")
		}
	})
}
