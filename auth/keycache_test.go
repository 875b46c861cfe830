package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// fakeKeyClient counts fetches per kid and can simulate slow or failing
// upstreams.
type fakeKeyClient struct {
	mu    sync.Mutex
	calls map[string]int
	delay time.Duration
	err   error
}

func newFakeKeyClient() *fakeKeyClient {
	return &fakeKeyClient{calls: map[string]int{}}
}

func (f *fakeKeyClient) SigningKey(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	f.mu.Lock()
	f.calls[kid]++
	err := f.err
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	return jose.JSONWebKey{KeyID: kid, Use: "sig"}, nil
}

func (f *fakeKeyClient) callCount(kid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kid]
}

func TestKeyCache_FetchOnceThenCached(t *testing.T) {
	fc := newFakeKeyClient()
	cache := NewKeyCache(fc, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key, err := cache.SigningKey(ctx, "kid-1")
		if err != nil {
			t.Fatalf("SigningKey: %v", err)
		}
		if key.KeyID != "kid-1" {
			t.Fatalf("key id = %q, want kid-1", key.KeyID)
		}
	}
	if got := fc.callCount("kid-1"); got != 1 {
		t.Fatalf("fetch count = %d, want 1", got)
	}
}

func TestKeyCache_DistinctKidsFetchSeparately(t *testing.T) {
	fc := newFakeKeyClient()
	cache := NewKeyCache(fc, time.Hour)
	ctx := context.Background()

	for _, kid := range []string{"a", "b", "a", "b"} {
		if _, err := cache.SigningKey(ctx, kid); err != nil {
			t.Fatalf("SigningKey(%s): %v", kid, err)
		}
	}
	if fc.callCount("a") != 1 || fc.callCount("b") != 1 {
		t.Fatalf("fetch counts a=%d b=%d, want 1 each", fc.callCount("a"), fc.callCount("b"))
	}
	if cache.Len() != 2 {
		t.Fatalf("cache len = %d, want 2", cache.Len())
	}
}

func TestKeyCache_ConcurrentColdLookupSingleFetch(t *testing.T) {
	fc := newFakeKeyClient()
	fc.delay = 50 * time.Millisecond
	cache := NewKeyCache(fc, time.Hour)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := cache.SigningKey(ctx, "cold")
			if err != nil {
				errs <- err
				return
			}
			if key.KeyID != "cold" {
				errs <- errors.New("wrong key returned")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent lookup: %v", err)
	}
	if got := fc.callCount("cold"); got != 1 {
		t.Fatalf("fetch count = %d, want exactly 1", got)
	}
}

func TestKeyCache_ExpiredTTLDoesNotRefetchKnownKid(t *testing.T) {
	fc := newFakeKeyClient()
	cache := NewKeyCache(fc, 30*time.Millisecond)
	ctx := context.Background()

	if _, err := cache.SigningKey(ctx, "kid-1"); err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// The TTL only gates the fast path. An already-cached kid falls to the
	// slow path after expiry but the double-check returns it without a
	// refetch.
	key, err := cache.SigningKey(ctx, "kid-1")
	if err != nil {
		t.Fatalf("SigningKey after expiry: %v", err)
	}
	if key.KeyID != "kid-1" {
		t.Fatalf("key id = %q, want kid-1", key.KeyID)
	}
	if got := fc.callCount("kid-1"); got != 1 {
		t.Fatalf("fetch count = %d, want 1 (expiry must not refetch cached kids)", got)
	}
}

func TestKeyCache_NewKidInsertRevivesFastPath(t *testing.T) {
	fc := newFakeKeyClient()
	cache := NewKeyCache(fc, 30*time.Millisecond)
	ctx := context.Background()

	if _, err := cache.SigningKey(ctx, "kid-1"); err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// Inserting a fresh kid renews the cache-wide refresh timestamp.
	if _, err := cache.SigningKey(ctx, "kid-2"); err != nil {
		t.Fatalf("SigningKey(kid-2): %v", err)
	}
	if _, err := cache.SigningKey(ctx, "kid-1"); err != nil {
		t.Fatalf("SigningKey(kid-1): %v", err)
	}
	if got := fc.callCount("kid-1"); got != 1 {
		t.Fatalf("fetch count = %d, want 1", got)
	}
}

func TestKeyCache_FetchErrorLeavesCacheUnmodified(t *testing.T) {
	fc := newFakeKeyClient()
	fc.err = errors.New("upstream down")
	cache := NewKeyCache(fc, time.Hour)
	ctx := context.Background()

	if _, err := cache.SigningKey(ctx, "kid-1"); err == nil {
		t.Fatal("SigningKey succeeded against failing client")
	}
	if cache.Len() != 0 {
		t.Fatalf("cache len = %d after failed fetch, want 0", cache.Len())
	}

	// The mutex must have been released on the error path; a later call
	// against a healthy upstream succeeds.
	fc.mu.Lock()
	fc.err = nil
	fc.mu.Unlock()
	key, err := cache.SigningKey(ctx, "kid-1")
	if err != nil {
		t.Fatalf("SigningKey after recovery: %v", err)
	}
	if key.KeyID != "kid-1" {
		t.Fatalf("key id = %q, want kid-1", key.KeyID)
	}
	if got := fc.callCount("kid-1"); got != 2 {
		t.Fatalf("fetch count = %d, want 2", got)
	}
}
