// Package redisstate provides a Redis-backed state.Store so a fleet of hosts
// can share agent and conversation state. ETag checks run inside a Lua
// script, making each key's check-and-set atomic without client-side locks.
package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/agenthost/hosting-go/state"
)

// Config for a Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// Client is an already-configured Redis client. When nil, one is built
	// from RedisAddr.
	Client *redis.Client
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all state keys. ENV: STATE_KEY_PREFIX
	KeyPrefix string `env:"STATE_KEY_PREFIX,default=agenthost:state:"`
	// ItemTTL expires idle state; zero keeps items forever.
	// ENV: STATE_ITEM_TTL
	ItemTTL time.Duration `env:"STATE_ITEM_TTL"`
}

// Store implements state.Store on Redis hashes (data + etag fields).
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// writeScript performs the per-key compare-and-set: KEYS[1] is the item key,
// ARGV[1] the expected etag ("*" skips the check), ARGV[2] the payload,
// ARGV[3] the new etag, ARGV[4] the TTL in milliseconds (0 = none).
var writeScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'etag')
if ARGV[1] ~= '*' then
  if current and current ~= ARGV[1] then
    return 0
  end
  if not current and ARGV[1] ~= '' then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'etag', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

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
		prefix = "agenthost:state:"
	}
	return &Store{client: client, prefix: prefix, ttl: cfg.ItemTTL}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("redisstate config from env: %w", err)
	}
	return New(cfg)
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Read(ctx context.Context, keys ...string) (map[string]state.Item, error) {
	out := make(map[string]state.Item, len(keys))
	for _, k := range keys {
		vals, err := s.client.HMGet(ctx, s.key(k), "data", "etag").Result()
		if err != nil {
			return nil, fmt.Errorf("redis hmget %q: %w", k, err)
		}
		data, ok1 := vals[0].(string)
		etag, ok2 := vals[1].(string)
		if !ok1 || !ok2 {
			continue // missing key
		}
		out[k] = state.Item{Data: []byte(data), ETag: etag}
	}
	return out, nil
}

func (s *Store) Write(ctx context.Context, changes map[string]state.Item) error {
	for k, change := range changes {
		// An empty ETag means "insert only"; the script rejects it when the
		// key already exists.
		ok, err := writeScript.Run(ctx, s.client,
			[]string{s.key(k)},
			change.ETag, string(change.Data), uuid.NewString(), s.ttl.Milliseconds(),
		).Int()
		if err != nil {
			return fmt.Errorf("redis write %q: %w", k, err)
		}
		if ok == 0 {
			return fmt.Errorf("%w: key %q", state.ErrETagConflict, k)
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

var _ state.Store = (*Store)(nil)
