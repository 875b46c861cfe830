// Package state defines the store used to persist agent and conversation
// state between turns. Items are opaque byte payloads guarded by ETags for
// optimistic concurrency: two hosts racing to persist the same conversation
// detect the conflict instead of silently overwriting each other.
package state

import (
	"context"
	"errors"
)

// ETagAny matches every stored revision; writes carrying it always win.
const ETagAny = "*"

// Item is one stored piece of state.
type Item struct {
	// Data is the serialized state payload.
	Data []byte
	// ETag identifies the revision this item was read at. On write, it must
	// match the stored revision (or be ETagAny); stores assign a fresh ETag
	// on every successful write.
	ETag string
}

// ErrETagConflict is returned when a write's ETag does not match the stored
// revision. The caller should re-read, merge, and retry.
var ErrETagConflict = errors.New("state: etag conflict")

// Store persists keyed state items.
type Store interface {
	// Read returns the items for the given keys. Missing keys are simply
	// absent from the result, not errors.
	Read(ctx context.Context, keys ...string) (map[string]Item, error)

	// Write persists the given changes atomically per key. A change whose
	// ETag is neither ETagAny nor the current stored revision fails the
	// whole write with ErrETagConflict.
	Write(ctx context.Context, changes map[string]Item) error

	// Delete removes the given keys. Deleting a missing key is not an error.
	Delete(ctx context.Context, keys ...string) error

	// Close releases the store's resources.
	Close() error
}
