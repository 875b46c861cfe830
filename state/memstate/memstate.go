// Package memstate provides an in-memory state.Store for single-process
// hosts and tests.
package memstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agenthost/hosting-go/state"
)

// Store implements state.Store with a mutex-guarded map.
type Store struct {
	mu    sync.RWMutex
	items map[string]state.Item
}

// New returns an empty Store.
func New() *Store {
	return &Store{items: make(map[string]state.Item)}
}

func (s *Store) Read(_ context.Context, keys ...string) (map[string]state.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]state.Item, len(keys))
	for _, k := range keys {
		if item, ok := s.items[k]; ok {
			// Copy the payload so callers cannot mutate stored state.
			data := make([]byte, len(item.Data))
			copy(data, item.Data)
			out[k] = state.Item{Data: data, ETag: item.ETag}
		}
	}
	return out, nil
}

func (s *Store) Write(_ context.Context, changes map[string]state.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every ETag before mutating anything so a conflict leaves the
	// store untouched.
	for k, change := range changes {
		current, exists := s.items[k]
		if change.ETag == state.ETagAny || (change.ETag == "" && !exists) {
			continue
		}
		if !exists || change.ETag != current.ETag {
			return fmt.Errorf("%w: key %q", state.ErrETagConflict, k)
		}
	}
	for k, change := range changes {
		data := make([]byte, len(change.Data))
		copy(data, change.Data)
		s.items[k] = state.Item{Data: data, ETag: uuid.NewString()}
	}
	return nil
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

func (s *Store) Close() error { return nil }

var _ state.Store = (*Store)(nil)
