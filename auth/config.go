package auth

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config controls token validation for an agent host. Defaults can be loaded
// from the environment via FromEnv.
type Config struct {
	// ClientID is the app registration id tokens must be addressed to.
	// ENV: AGENT_CLIENT_ID
	ClientID string `env:"AGENT_CLIENT_ID"`
	// TenantID selects the Entra tenant whose keys sign user tokens.
	// ENV: AGENT_TENANT_ID
	TenantID string `env:"AGENT_TENANT_ID"`
	// AllowedAlgs restricts accepted signing algorithms.
	AllowedAlgs []string
	// Leeway is the clock-skew tolerance applied to exp/nbf/iat.
	// ENV: AGENT_AUTH_LEEWAY
	Leeway time.Duration `env:"AGENT_AUTH_LEEWAY,default=5m"`
	// KeyCacheTTL gates the lock-free fast path of the signing-key cache.
	// ENV: AGENT_KEY_CACHE_TTL
	KeyCacheTTL time.Duration `env:"AGENT_KEY_CACHE_TTL,default=1h"`
}

// DefaultConfig returns a Config with safe algorithm, leeway, and cache
// defaults. ClientID and TenantID must still be supplied.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      5 * time.Minute,
		KeyCacheTTL: time.Hour,
	}
}

// FromEnv builds a Config from the environment, filling unset knobs with the
// same defaults as DefaultConfig.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("auth config from env: %w", err)
	}
	return cfg, nil
}
