// Package redisdedup provides a Redis-backed dedup.Store for hosts running
// more than one replica: an activity id claimed on one instance is visible to
// all of them. Claims expire via Redis TTL instead of the in-memory windowed
// compaction.
package redisdedup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/agenthost/hosting-go/dedup"
)

// Config for a Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// Client is an already-configured Redis client. When nil, one is built
	// from RedisAddr.
	Client *redis.Client
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all claim keys. ENV: DEDUP_KEY_PREFIX
	KeyPrefix string `env:"DEDUP_KEY_PREFIX,default=agenthost:dedup:"`
	// ClaimTTL is how long a claimed id stays claimed. ENV: DEDUP_CLAIM_TTL
	ClaimTTL time.Duration `env:"DEDUP_CLAIM_TTL,default=10m"`
}

// Store claims activity ids in Redis via SET NX with a TTL.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a Store for cfg, verifying connectivity with a ping.
func New(cfg Config) (*Store, error) {
	client := cfg.Client
	if client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agenthost:dedup:"
	}
	ttl := cfg.ClaimTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("redisdedup config from env: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(id string) string { return s.prefix + id }

// Acquire claims id fleet-wide. The claim lapses after the configured TTL.
func (s *Store) Acquire(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	ok, err := s.client.SetNX(ctx, s.key(id), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release drops every live claim under the store's prefix and returns the
// released ids. Claims made concurrently with the scan may survive.
func (s *Store) Release(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return []string{}, nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return nil, fmt.Errorf("redis del: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, s.prefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Size counts live claims under the store's prefix.
func (s *Store) Size(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return n, nil
}

var _ dedup.Store = (*Store)(nil)
