package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// DiscoveryConfig controls validation of tokens from a custom OIDC issuer
// (sovereign clouds, private authorities). The issuer's JWKS endpoint is
// learned via discovery rather than assumed from the tenant.
type DiscoveryConfig struct {
	Issuer            string
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
}

// DefaultDiscoveryConfig returns a DiscoveryConfig with safe algorithm and
// leeway defaults.
func DefaultDiscoveryConfig() *DiscoveryConfig {
	return &DiscoveryConfig{AllowedAlgs: []string{"RS256"}, Leeway: 5 * time.Minute}
}

type discoveryValidator struct {
	cfg     *DiscoveryConfig
	keyfunc jwt.Keyfunc
}

// NewFromDiscovery performs OIDC discovery against cfg.Issuer and returns a
// Validator whose JWKS keys auto-refresh in the background. Unlike
// TokenValidator, key lifetime here is delegated to the keyfunc layer; use
// this path when the issuer is not one of the host's built-in authorities.
func NewFromDiscovery(ctx context.Context, cfg *DiscoveryConfig) (Validator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery metadata missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &discoveryValidator{cfg: cfg, keyfunc: func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		for _, a := range cfg.AllowedAlgs {
			if alg == a {
				return kf.Keyfunc(t)
			}
		}
		return nil, fmt.Errorf("disallowed alg: %s", alg)
	}}, nil
}

func (d *discoveryValidator) ValidateToken(ctx context.Context, token string) (*ClaimsIdentity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(d.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(d.cfg.Issuer),
		jwt.WithLeeway(d.cfg.Leeway),
	)
	parsed, err := parser.Parse(token, d.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audIntersects(claims["aud"], d.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	return NewClaimsIdentity(claims, true), nil
}

var _ Validator = (*discoveryValidator)(nil)
