// Package dedup filters duplicate inbound activities before they reach the
// host's activity handler. Channels redeliver activities on retry and during
// failover; claiming each activity id through a Store guarantees a single
// handler invocation per id on this host (MemoryStore) or across a fleet
// (redisdedup.Store).
package dedup

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agenthost/hosting-go/activity"
	"github.com/agenthost/hosting-go/internal/logctx"
	"github.com/agenthost/hosting-go/valuelock"
)

// Store claims activity ids exactly once until released.
type Store interface {
	// Acquire claims id, reporting false when it was already claimed.
	Acquire(ctx context.Context, id string) (bool, error)
	// Release clears every claim and returns the ids that were held.
	Release(ctx context.Context) ([]string, error)
	// Size returns the number of currently claimed ids.
	Size(ctx context.Context) (int, error)
}

// MemoryStore adapts a valuelock.Windowed to the Store interface for
// single-process hosts. The windowed lock itself carries no locking by
// contract, so the store supplies the external mutex that serializes all
// access to it.
type MemoryStore struct {
	mu   sync.Mutex
	lock *valuelock.Windowed
}

// DefaultWindowedConfig bounds memory for a host processing bursts of
// redelivered activities: ids stay claimed for at least ten minutes, and
// compaction runs at most once a minute once a thousand ids accumulate.
func DefaultWindowedConfig() valuelock.WindowedConfig {
	return valuelock.WindowedConfig{
		MinValueDuration:       10 * time.Minute,
		SizeThreshold:          1000,
		MinCondReleaseInterval: time.Minute,
	}
}

// NewMemoryStore returns a Store backed by a windowed value lock with the
// given eviction config.
func NewMemoryStore(cfg valuelock.WindowedConfig) *MemoryStore {
	return &MemoryStore{lock: valuelock.NewWindowed(cfg)}
}

func (s *MemoryStore) Acquire(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Acquire(id), nil
}

func (s *MemoryStore) Release(_ context.Context) ([]string, error) {
	s.mu.Lock()
	released := s.lock.Release()
	s.mu.Unlock()

	ids := make([]string, 0, len(released))
	for id := range released {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Size(), nil
}

var _ Store = (*MemoryStore)(nil)

// Handler processes an inbound activity.
type Handler interface {
	OnActivity(ctx context.Context, act *activity.Activity) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, act *activity.Activity) error

func (f HandlerFunc) OnActivity(ctx context.Context, act *activity.Activity) error {
	return f(ctx, act)
}

// Filter drops activities whose id has already been claimed and forwards the
// rest to the next handler. Activities without an id cannot be claimed and
// always pass through.
type Filter struct {
	store Store
	next  Handler
	log   *slog.Logger
}

// FilterOption customizes a Filter.
type FilterOption func(*Filter)

// WithFilterLogger routes the filter's logging through log.
func WithFilterLogger(log *slog.Logger) FilterOption {
	return func(f *Filter) { f.log = log }
}

// NewFilter wraps next so that each activity id is handled at most once per
// Store lifetime.
func NewFilter(store Store, next Handler, opts ...FilterOption) *Filter {
	f := &Filter{store: store, next: next, log: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnActivity implements Handler. Store failures are returned to the caller
// rather than guessed around: failing open here would double-process.
func (f *Filter) OnActivity(ctx context.Context, act *activity.Activity) error {
	ctx = logctx.WithActivityData(ctx, &logctx.ActivityData{ID: act.ID, Type: act.Type})

	if act.ID == "" {
		return f.next.OnActivity(ctx, act)
	}

	ok, err := f.store.Acquire(ctx, act.ID)
	if err != nil {
		return err
	}
	if !ok {
		f.log.DebugContext(ctx, "dropping duplicate activity")
		return nil
	}
	return f.next.OnActivity(ctx, act)
}

var _ Handler = (*Filter)(nil)
