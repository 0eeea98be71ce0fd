package device

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nerrad567/remote-lab-core/internal/infrastructure/database"
	_ "github.com/nerrad567/remote-lab-core/migrations"
)

// storeFactories returns a constructor for every Store implementation so the
// contract tests below run against each of them.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": newTestSQLiteStore,
		"bolt":   newTestBoltStore,
	}
}

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "devices.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

func newTestBoltStore(t *testing.T) Store {
	t.Helper()

	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "nested", "devices.bolt"))
	if err != nil {
		t.Fatalf("OpenBoltStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() }) //nolint:errcheck // Test cleanup
	return s
}

func TestStore_CreateAndFind(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			configured := NewConfigured("bench-1", "esp32dev", "esp32dev", "/srv/lab/bench-1")
			bare := New("spare")

			for _, d := range []Device{configured, bare} {
				got, err := s.Create(ctx, d)
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				if !got.Equal(d) {
					t.Errorf("Create() = %+v, want %+v", got, d)
				}

				found, ok, err := s.FindByID(ctx, d.ID)
				if err != nil {
					t.Fatalf("FindByID() error = %v", err)
				}
				if !ok {
					t.Fatalf("FindByID(%s) found = false", d.ID)
				}
				if !found.Equal(d) {
					t.Errorf("FindByID() = %+v, want %+v", found, d)
				}
				if found.IsToolchainConfigured() != d.IsToolchainConfigured() {
					t.Errorf("IsToolchainConfigured() = %v, want %v",
						found.IsToolchainConfigured(), d.IsToolchainConfigured())
				}
			}
		})
	}
}

func TestStore_FindMissing(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)

			d, ok, err := s.FindByID(context.Background(), uuid.New())
			if err != nil {
				t.Fatalf("FindByID() error = %v, want nil", err)
			}
			if ok {
				t.Errorf("FindByID() found = true for unknown id, device = %+v", d)
			}
		})
	}
}

func TestStore_CreateOverwrites(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			original := NewConfigured("bench-1", "esp32dev", "esp32dev", "/srv/lab/a")
			if _, err := s.Create(ctx, original); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			replacement := Device{ID: original.ID, Name: "renamed"}
			if _, err := s.Create(ctx, replacement); err != nil {
				t.Fatalf("Create() overwrite error = %v", err)
			}

			got, _, err := s.FindByID(ctx, original.ID)
			if err != nil {
				t.Fatalf("FindByID() error = %v", err)
			}
			if !got.Equal(replacement) {
				t.Errorf("FindByID() = %+v, want %+v", got, replacement)
			}

			all, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(all) != 1 {
				t.Errorf("List() len = %d, want 1", len(all))
			}
		})
	}
}

func TestStore_ListEmpty(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			all, err := newStore(t).List(context.Background())
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if all == nil || len(all) != 0 {
				t.Errorf("List() = %v, want empty non-nil slice", all)
			}
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			d := NewConfigured("bench-1", "esp32dev", "esp32dev", "/srv/lab/bench-1")
			created, err := s.Create(ctx, d)
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			// Mutate everything reachable from the values we were handed.
			*d.ProjectPath = "/tmp/input-mutated"
			*created.BoardType = "created-mutated"
			created.Name = "created-mutated"

			found, _, _ := s.FindByID(ctx, d.ID)
			*found.ProjectPath = "/tmp/found-mutated"

			listed, _ := s.List(ctx)
			*listed[0].BoardType = "listed-mutated"

			got, _, err := s.FindByID(ctx, d.ID)
			if err != nil {
				t.Fatalf("FindByID() error = %v", err)
			}
			if got.Name != "bench-1" || *got.BoardType != "esp32dev" || *got.ProjectPath != "/srv/lab/bench-1" {
				t.Errorf("stored device changed through a returned copy: %+v", got)
			}
		})
	}
}

func TestStore_ConcurrentCreates(t *testing.T) {
	const writers = 32

	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			want := make(map[uuid.UUID]Device, writers)
			for i := 0; i < writers; i++ {
				d := New(fmt.Sprintf("device-%02d", i))
				want[d.ID] = d
			}

			var wg sync.WaitGroup
			errCh := make(chan error, writers*2)
			for _, d := range want {
				wg.Add(2)
				go func(d Device) {
					defer wg.Done()
					if _, err := s.Create(ctx, d); err != nil {
						errCh <- err
					}
				}(d)
				// Readers run alongside the writers.
				go func() {
					defer wg.Done()
					if _, err := s.List(ctx); err != nil {
						errCh <- err
					}
				}()
			}
			wg.Wait()
			close(errCh)

			for err := range errCh {
				t.Errorf("concurrent operation error = %v", err)
			}

			all, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(all) != writers {
				t.Fatalf("List() len = %d, want %d", len(all), writers)
			}
			for _, got := range all {
				if w, ok := want[got.ID]; !ok || !w.Equal(got) {
					t.Errorf("List() contains unexpected device %+v", got)
				}
			}
		})
	}
}

func TestSQLiteStore_UnavailableAfterClose(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "closed.db")})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	s := NewSQLiteStore(db.DB)
	db.DB.Close() //nolint:errcheck // Closing to force failures

	if _, err := s.Create(ctx, New("x")); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Create() error = %v, want ErrStorageUnavailable", err)
	}
	if _, _, err := s.FindByID(ctx, uuid.New()); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("FindByID() error = %v, want ErrStorageUnavailable", err)
	}
	if _, err := s.List(ctx); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("List() error = %v, want ErrStorageUnavailable", err)
	}
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.bolt")
	ctx := context.Background()

	s, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("OpenBoltStore() error = %v", err)
	}
	d := NewConfigured("bench-1", "esp32dev", "esp32dev", "/srv/lab/bench-1")
	if _, err := s.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close() //nolint:errcheck // Test cleanup

	got, ok, err := reopened.FindByID(ctx, d.ID)
	if err != nil || !ok {
		t.Fatalf("FindByID() = %v, %v; want found", ok, err)
	}
	if !got.Equal(d) {
		t.Errorf("FindByID() = %+v, want %+v", got, d)
	}
}
