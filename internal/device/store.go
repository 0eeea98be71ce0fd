package device

import (
	"context"

	"github.com/google/uuid"
)

// Store is the storage contract behind the Registry.
//
// Implementations must be safe for concurrent use. A Create must be atomic
// with respect to concurrent reads, and every returned Device must be a copy
// that the caller may modify freely.
type Store interface {
	// Create inserts d, or overwrites the record with the same ID, and
	// returns the stored value.
	Create(ctx context.Context, d Device) (Device, error)

	// FindByID returns the device and true, or a zero Device and false when
	// no record has that ID. Absence is not an error.
	FindByID(ctx context.Context, id uuid.UUID) (Device, bool, error)

	// List returns a snapshot of every device in no particular order.
	List(ctx context.Context) ([]Device, error)
}
