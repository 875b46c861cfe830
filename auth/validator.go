package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	botFrameworkIssuer  = "https://api.botframework.com"
	botFrameworkKeysURL = "https://login.botframework.com/v1/.well-known/keys"
	entraKeysURLFormat  = "https://login.microsoftonline.com/%s/discovery/v2.0/keys"
)

// TokenValidator validates inbound bearer JWTs for an agent host. Service
// tokens signed by the Bot Framework issuer and user tokens signed by the
// configured Entra tenant resolve to different JWKS endpoints; keys from each
// endpoint are cached in a shared, per-endpoint KeyCache so concurrent
// validations do not refetch the same key.
//
// TokenValidator is safe for concurrent use.
type TokenValidator struct {
	cfg *Config
	log *slog.Logger

	newKeyClient func(endpoint string) KeyClient

	mu     sync.Mutex // guards caches
	caches map[string]*KeyCache
}

// TokenValidatorOption customizes a TokenValidator.
type TokenValidatorOption func(*TokenValidator)

// WithLogger routes the validator's debug logging through log.
func WithLogger(log *slog.Logger) TokenValidatorOption {
	return func(v *TokenValidator) { v.log = log }
}

// WithKeyClientFactory overrides how JWKS endpoints are turned into
// KeyClients. Intended for tests and for environments that front the
// authority with a proxy.
func WithKeyClientFactory(f func(endpoint string) KeyClient) TokenValidatorOption {
	return func(v *TokenValidator) { v.newKeyClient = f }
}

// NewTokenValidator returns a validator for cfg. A nil cfg uses
// DefaultConfig, which accepts no audience until ClientID is set.
func NewTokenValidator(cfg *Config, opts ...TokenValidatorOption) *TokenValidator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	v := &TokenValidator{
		cfg: cfg,
		log: slog.Default(),
		newKeyClient: func(endpoint string) KeyClient {
			return NewJWKSClient(endpoint, nil)
		},
		caches: make(map[string]*KeyCache),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateToken verifies the token's signature, expiry, and audience and
// returns the contained claims. Signature keys are resolved through the
// shared KeyCache; a key-retrieval failure is reported as ErrKeyRetrieval,
// every other failure as ErrUnauthorized.
func (v *TokenValidator) ValidateToken(ctx context.Context, token string) (*ClaimsIdentity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	v.log.DebugContext(ctx, "validating bearer token")

	key, err := v.signingKeyFor(ctx, token)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(token, func(*jwt.Token) (any, error) {
		return key.Key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audContains(claims["aud"], v.cfg.ClientID) {
		v.log.ErrorContext(ctx, "token audience mismatch", "aud", claims["aud"])
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	v.log.DebugContext(ctx, "bearer token validated")
	return NewClaimsIdentity(claims, true), nil
}

// AnonymousClaims returns the identity used when a request carries no
// credentials.
func (v *TokenValidator) AnonymousClaims() *ClaimsIdentity {
	return NewAnonymousClaimsIdentity()
}

// signingKeyFor peeks at the unverified token to pick the JWKS endpoint for
// its issuer, then resolves the key id through that endpoint's cache. The
// peek drives routing only; nothing from it is trusted until the signature
// has been checked.
func (v *TokenValidator) signingKeyFor(ctx context.Context, token string) (jose.JSONWebKey, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("%w: malformed token: %v", ErrUnauthorized, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return jose.JSONWebKey{}, fmt.Errorf("%w: token has no kid header", ErrUnauthorized)
	}

	endpoint := fmt.Sprintf(entraKeysURLFormat, v.cfg.TenantID)
	if claims, ok := unverified.Claims.(jwt.MapClaims); ok {
		if iss, _ := claims["iss"].(string); iss == botFrameworkIssuer {
			endpoint = botFrameworkKeysURL
		}
	}

	key, err := v.cacheFor(endpoint).SigningKey(ctx, kid)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("%w: kid %q: %v", ErrKeyRetrieval, kid, err)
	}
	return key, nil
}

// cacheFor returns the KeyCache for endpoint, creating it on first use.
func (v *TokenValidator) cacheFor(endpoint string) *KeyCache {
	v.mu.Lock()
	defer v.mu.Unlock()
	cache, ok := v.caches[endpoint]
	if !ok {
		cache = NewKeyCache(v.newKeyClient(endpoint), v.cfg.KeyCacheTTL)
		v.caches[endpoint] = cache
	}
	return cache
}

var _ Validator = (*TokenValidator)(nil)
