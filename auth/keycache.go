package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// KeyClient retrieves a verification key by key id from an external source,
// typically a JWKS endpoint. Calls may block on the network; the KeyCache
// adds no timeout of its own, so implementations should honor ctx if callers
// are expected to bound the wait.
type KeyClient interface {
	SigningKey(ctx context.Context, kid string) (jose.JSONWebKey, error)
}

// keySnapshot is the immutable state published to lock-free readers. Inserts
// build a fresh map, so a snapshot is never mutated after publication.
type keySnapshot struct {
	keys        map[string]jose.JSONWebKey
	lastRefresh time.Time
}

// KeyCache caches verification keys for the lifetime of the process. Lookups
// take a lock-free fast path while the cache-wide TTL is live; misses fall to
// a mutex-guarded slow path that re-checks the cache before fetching, so
// concurrent validations racing on a cold key id produce exactly one
// KeyClient call.
//
// The TTL gate is a single timestamp for the whole cache, updated only when
// a new key id is inserted. A key id that is already cached is therefore
// served forever without a refetch, even after the TTL has lapsed: expiry
// merely pushes lookups onto the slow path, whose re-check returns the stored
// key as-is. Key rotation is absorbed because rotated tokens carry a new kid,
// which misses and triggers a fetch.
//
// Construct one KeyCache per trust boundary and share it across validations;
// the zero value is not usable.
type KeyCache struct {
	client KeyClient
	ttl    time.Duration

	mu   sync.Mutex // guards slow-path fetch and snapshot replacement
	snap atomic.Pointer[keySnapshot]
}

// DefaultKeyCacheTTL gates the fast path when no TTL is configured.
const DefaultKeyCacheTTL = time.Hour

// NewKeyCache returns a cache that resolves misses through client. A
// non-positive ttl falls back to DefaultKeyCacheTTL.
func NewKeyCache(client KeyClient, ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyCacheTTL
	}
	c := &KeyCache{client: client, ttl: ttl}
	c.snap.Store(&keySnapshot{keys: map[string]jose.JSONWebKey{}})
	return c
}

// SigningKey returns the verification key for kid, fetching it through the
// KeyClient on a miss. Fetch failures are returned to the caller unchanged
// and leave the cache unmodified.
func (c *KeyCache) SigningKey(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	now := time.Now()

	snap := c.snap.Load()
	if key, ok := snap.keys[kid]; ok && snap.lastRefresh.Add(c.ttl).After(now) {
		return key, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under the mutex: another caller may have fetched this kid
	// while we queued. Present entries are returned without a refetch even
	// when the TTL has lapsed.
	snap = c.snap.Load()
	if key, ok := snap.keys[kid]; ok {
		return key, nil
	}

	key, err := c.client.SigningKey(ctx, kid)
	if err != nil {
		return jose.JSONWebKey{}, err
	}

	keys := make(map[string]jose.JSONWebKey, len(snap.keys)+1)
	for k, v := range snap.keys {
		keys[k] = v
	}
	keys[kid] = key
	c.snap.Store(&keySnapshot{keys: keys, lastRefresh: time.Now()})
	return key, nil
}

// Len returns the number of cached keys.
func (c *KeyCache) Len() int {
	return len(c.snap.Load().keys)
}
