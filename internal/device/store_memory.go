package device

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps devices in a map guarded by a reader/writer lock.
// Contents last for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]Device
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[uuid.UUID]Device),
	}
}

// Create stores a copy of d. It never fails.
func (s *MemoryStore) Create(_ context.Context, d Device) (Device, error) {
	stored := d.Clone()

	s.mu.Lock()
	s.devices[stored.ID] = stored
	s.mu.Unlock()

	return stored.Clone(), nil
}

// FindByID returns a copy of the device with the given ID.
func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (Device, bool, error) {
	s.mu.RLock()
	d, ok := s.devices[id]
	s.mu.RUnlock()

	if !ok {
		return Device{}, false, nil
	}
	return d.Clone(), true, nil
}

// List returns copies of all devices present when the read lock was taken.
func (s *MemoryStore) List(_ context.Context) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Clone())
	}
	return out, nil
}
