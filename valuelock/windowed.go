package valuelock

import "time"

// WindowedConfig controls the automatic eviction behavior of a Windowed lock.
type WindowedConfig struct {
	// MinValueDuration is how long a value is guaranteed to remain held
	// before it becomes eligible for automatic eviction.
	MinValueDuration time.Duration
	// SizeThreshold is the held-value count at or above which an automatic
	// eviction may trigger.
	SizeThreshold int
	// MinCondReleaseInterval is the minimum spacing between automatic
	// evictions.
	MinCondReleaseInterval time.Duration
}

// Windowed wraps a ValueLock with timestamped, amortized cleanup. Instead of
// expiring entries individually, it performs a batch compaction on Acquire
// once both the size threshold and the release interval have been met:
// the whole set is drained and only values younger than MinValueDuration are
// reinserted. Between compactions a value may stay held arbitrarily longer
// than MinValueDuration; the trade is bounded steady-state memory without a
// per-entry timer or heap.
//
// Like ValueLock, Windowed is not safe for concurrent use.
type Windowed struct {
	cfg         WindowedConfig
	inner       *ValueLock
	addedAt     map[string]time.Time
	lastRelease time.Time
}

// NewWindowed returns an empty Windowed lock. The release interval clock
// starts at construction, so the first automatic eviction cannot happen
// before MinCondReleaseInterval has elapsed.
func NewWindowed(cfg WindowedConfig) *Windowed {
	return &Windowed{
		cfg:         cfg,
		inner:       New(),
		addedAt:     make(map[string]time.Time),
		lastRelease: time.Now(),
	}
}

// Acquire claims v via the inner lock. On success it records the insertion
// time and then runs the conditional eviction step. A failed acquisition has
// no side effects and never triggers eviction.
func (w *Windowed) Acquire(v string) bool {
	if !w.inner.Acquire(v) {
		return false
	}
	w.addedAt[v] = time.Now()
	w.conditionalRelease()
	return true
}

// Release drains every held value regardless of age or threshold, clears the
// insertion times, and resets the release interval clock.
func (w *Windowed) Release() map[string]struct{} {
	released := w.inner.Release()
	w.addedAt = make(map[string]time.Time)
	w.lastRelease = time.Now()
	return released
}

// Size returns the number of currently held values.
func (w *Windowed) Size() int {
	return w.inner.Size()
}

// conditionalRelease performs the amortized compaction: when at least
// MinCondReleaseInterval has passed since the last release and the held count
// has reached SizeThreshold, the inner lock is drained and only values whose
// age is strictly below MinValueDuration survive. The interval clock resets
// on every trigger, even when everything survived.
func (w *Windowed) conditionalRelease() {
	now := time.Now()
	if now.Sub(w.lastRelease) < w.cfg.MinCondReleaseInterval || w.inner.Size() < w.cfg.SizeThreshold {
		return
	}

	drained := w.inner.Release()
	survivors := make(map[string]struct{}, len(drained))
	addedAt := make(map[string]time.Time, len(drained))
	for v := range drained {
		if added, ok := w.addedAt[v]; ok && now.Sub(added) < w.cfg.MinValueDuration {
			survivors[v] = struct{}{}
			addedAt[v] = added
		}
	}
	w.inner = NewSeeded(survivors)
	w.addedAt = addedAt
	w.lastRelease = now
}
