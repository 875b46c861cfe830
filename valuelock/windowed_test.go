package valuelock

import (
	"fmt"
	"testing"
	"time"
)

func newTestWindowed(minValue time.Duration, threshold int, interval time.Duration) *Windowed {
	return NewWindowed(WindowedConfig{
		MinValueDuration:       minValue,
		SizeThreshold:          threshold,
		MinCondReleaseInterval: interval,
	})
}

func TestWindowed_BehavesLikeValueLock(t *testing.T) {
	// With a high threshold the automatic eviction never triggers, so the
	// wrapper must be observably identical to the plain lock.
	w := newTestWindowed(200*time.Millisecond, 100, 100*time.Millisecond)
	if w.Size() != 0 {
		t.Fatalf("size = %d, want 0", w.Size())
	}
	if !w.Acquire("a") || !w.Acquire("b") {
		t.Fatal("fresh Acquire = false")
	}
	if w.Acquire("a") || w.Acquire("") {
		t.Fatal("duplicate or sentinel Acquire = true")
	}
	sameSet(t, w.Release(), "a", "b")
	if !w.Acquire("a") {
		t.Fatal("Acquire after release = false")
	}
}

func TestWindowed_EvictsAgedValues(t *testing.T) {
	w := newTestWindowed(100*time.Millisecond, 2, 100*time.Millisecond)
	if !w.Acquire("a") {
		t.Fatal("Acquire(a) = false")
	}
	if w.Size() != 1 {
		t.Fatalf("size = %d, want 1", w.Size())
	}
	time.Sleep(120 * time.Millisecond)
	// Acquiring "b" brings the size to the threshold and the interval has
	// elapsed, so the compaction runs: "a" is old enough to drop, "b" is not.
	if !w.Acquire("b") {
		t.Fatal("Acquire(b) = false")
	}
	if w.Size() != 1 {
		t.Fatalf("size = %d after eviction, want 1", w.Size())
	}
	sameSet(t, w.Release(), "b")
}

func TestWindowed_BelowThresholdNeverEvicts(t *testing.T) {
	w := newTestWindowed(100*time.Millisecond, 10, 100*time.Millisecond)
	if !w.Acquire("a") {
		t.Fatal("Acquire(a) = false")
	}
	time.Sleep(120 * time.Millisecond)
	if !w.Acquire("b") || !w.Acquire("c") {
		t.Fatal("Acquire = false")
	}
	if w.Size() != 3 {
		t.Fatalf("size = %d, want 3", w.Size())
	}
	sameSet(t, w.Release(), "a", "b", "c")
}

func TestWindowed_IntervalMeasuredFromConstruction(t *testing.T) {
	// Even with the threshold already met, no eviction may happen until
	// MinCondReleaseInterval has passed since the lock was created.
	w := newTestWindowed(10*time.Millisecond, 1, 200*time.Millisecond)
	if !w.Acquire("a") {
		t.Fatal("Acquire(a) = false")
	}
	time.Sleep(50 * time.Millisecond)
	if !w.Acquire("b") {
		t.Fatal("Acquire(b) = false")
	}
	if w.Size() != 2 {
		t.Fatalf("size = %d, want 2 (interval not yet elapsed)", w.Size())
	}
}

func TestWindowed_FailedAcquireDoesNotEvict(t *testing.T) {
	w := newTestWindowed(50*time.Millisecond, 1, 50*time.Millisecond)
	if !w.Acquire("a") {
		t.Fatal("Acquire(a) = false")
	}
	time.Sleep(80 * time.Millisecond)
	// Both trigger conditions hold now, but a failed acquisition must not
	// run the compaction.
	if w.Acquire("a") {
		t.Fatal("duplicate Acquire = true")
	}
	if w.Size() != 1 {
		t.Fatalf("size = %d, want 1 (failed acquire evicted)", w.Size())
	}
}

func TestWindowed_ReleaseResetsIntervalClock(t *testing.T) {
	w := newTestWindowed(100*time.Millisecond, 1, 100*time.Millisecond)
	if !w.Acquire("a") {
		t.Fatal("Acquire(a) = false")
	}
	time.Sleep(150 * time.Millisecond)
	sameSet(t, w.Release(), "a")

	// The hard release just reset the clock, so the next acquire is still
	// inside the quiet interval and must not compact.
	if !w.Acquire("b") {
		t.Fatal("Acquire(b) = false")
	}
	time.Sleep(50 * time.Millisecond)
	if !w.Acquire("c") {
		t.Fatal("Acquire(c) = false")
	}
	if w.Size() != 2 {
		t.Fatalf("size = %d, want 2", w.Size())
	}
	sameSet(t, w.Release(), "b", "c")
}

func TestWindowed_CompactionKeepsYoungGeneration(t *testing.T) {
	w := newTestWindowed(100*time.Millisecond, 5, 100*time.Millisecond)
	for i := 0; i < 10; i++ {
		v := fmt.Sprintf("old-%d", i)
		if !w.Acquire(v) {
			t.Fatalf("Acquire(%s) = false", v)
		}
	}
	time.Sleep(110 * time.Millisecond)
	for i := 0; i < 10; i++ {
		v := fmt.Sprintf("new-%d", i)
		if !w.Acquire(v) {
			t.Fatalf("Acquire(%s) = false", v)
		}
	}
	// The first acquire of the young generation ran the compaction and
	// dropped the whole old generation; the rest accumulated normally.
	if w.Size() != 10 {
		t.Fatalf("size = %d, want 10", w.Size())
	}
	released := w.Release()
	for i := 0; i < 10; i++ {
		if _, ok := released[fmt.Sprintf("new-%d", i)]; !ok {
			t.Fatalf("young value new-%d missing from release", i)
		}
		if _, ok := released[fmt.Sprintf("old-%d", i)]; ok {
			t.Fatalf("old value old-%d survived compaction", i)
		}
	}
}
