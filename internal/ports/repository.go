package ports

import (
	"context"
)

// StateStore is durable key/value storage for the persisted playback record.
// Last write wins; no stronger consistency is required.
//
// Thread-safety: Implementations must be thread-safe.
type StateStore interface {
	// Get returns the value stored under key, or domain.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases the store.
	Close() error
}
