package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// devicesBucket holds one JSON-encoded Device per key (the canonical UUID string).
var devicesBucket = []byte("devices")

// boltOpenTimeout bounds waiting for another process's file lock.
const boltOpenTimeout = time.Second

// BoltStore persists devices in a bbolt file.
//
// bbolt serialises writers and gives readers a consistent snapshot, which
// provides the atomic-create guarantee of the Store contract.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("%w: creating directory: %w", ErrStorageUnavailable, err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrStorageUnavailable, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(devicesBucket)
		return err
	})
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: creating bucket: %w", ErrStorageUnavailable, err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Create writes d under its ID, replacing any existing record.
func (s *BoltStore) Create(_ context.Context, d Device) (Device, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return Device{}, fmt.Errorf("encoding device: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(devicesBucket).Put([]byte(d.ID.String()), data)
	})
	if err != nil {
		return Device{}, fmt.Errorf("%w: writing device: %w", ErrStorageUnavailable, err)
	}
	return d.Clone(), nil
}

// FindByID reads a single device.
func (s *BoltStore) FindByID(_ context.Context, id uuid.UUID) (Device, bool, error) {
	var (
		d     Device
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(devicesBucket).Get([]byte(id.String()))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return Device{}, false, fmt.Errorf("%w: reading device: %w", ErrStorageUnavailable, err)
	}
	return d, found, nil
}

// List reads every device from a single read transaction.
func (s *BoltStore) List(_ context.Context) ([]Device, error) {
	devices := make([]Device, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(devicesBucket).ForEach(func(_, v []byte) error {
			var d Device
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			devices = append(devices, d)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing devices: %w", ErrStorageUnavailable, err)
	}
	return devices, nil
}
