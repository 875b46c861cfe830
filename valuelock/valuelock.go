// Package valuelock provides one-shot exclusivity over opaque string values:
// a value can be acquired at most once until the lock holding it is released.
// The hosting layer uses it to ensure an inbound activity id is processed by
// exactly one handler invocation.
//
// Neither ValueLock nor Windowed is safe for concurrent use. Callers must
// confine an instance to a single goroutine or guard it with their own mutex;
// the primitives deliberately carry no internal locking so that callers can
// serialize them at whatever grain is cheapest (see dedup.MemoryStore for the
// mutex-guarded pairing).
package valuelock

// ValueLock records values that have been claimed, allowing each value to be
// acquired at most once. Releasing the lock clears all held values, which
// permits re-acquisition of previously used values.
type ValueLock struct {
	held map[string]struct{}
}

// New returns an empty ValueLock.
func New() *ValueLock {
	return &ValueLock{held: make(map[string]struct{})}
}

// NewSeeded returns a ValueLock that starts out holding the given values.
// The initial set is copied; the empty-string sentinel is never admitted.
func NewSeeded(initial map[string]struct{}) *ValueLock {
	held := make(map[string]struct{}, len(initial))
	for v := range initial {
		if v == "" {
			continue
		}
		held[v] = struct{}{}
	}
	return &ValueLock{held: held}
}

// Acquire claims v. It reports false, without mutating the lock, when v is
// the empty string or is already held. A false result is the documented
// duplicate signal, not an error condition.
func (l *ValueLock) Acquire(v string) bool {
	if v == "" {
		return false
	}
	if _, ok := l.held[v]; ok {
		return false
	}
	l.held[v] = struct{}{}
	return true
}

// Release empties the lock and returns the values that were held. Calling it
// on an empty lock returns an empty set.
func (l *ValueLock) Release() map[string]struct{} {
	released := l.held
	l.held = make(map[string]struct{})
	return released
}

// Size returns the number of currently held values.
func (l *ValueLock) Size() int {
	return len(l.held)
}
