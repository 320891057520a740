// Package storage defines the durable key-value substrate the pending
// queue persists to. The queue is the sole writer of its key.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("blob not found")

// BlobStore stores opaque blobs by key. Set must be atomic per key and
// complete before returning, so a persisted mutation survives process death.
type BlobStore interface {
	// Get retrieves the blob for a key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the blob for a key atomically.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
}
