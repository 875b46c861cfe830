package auth

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates the token failed validation and the request
// should be treated as unauthenticated.
var ErrUnauthorized = errors.New("auth: unauthorized")

// ErrKeyRetrieval indicates the signing key could not be fetched from the
// issuing authority. The token was not judged; callers may retry.
var ErrKeyRetrieval = errors.New("auth: key retrieval failed")

// Validator validates bearer tokens and returns the authenticated identity.
// Implementations must return an error wrapping ErrUnauthorized for invalid
// credentials.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (*ClaimsIdentity, error)
}

// AuthenticationTypeAnonymous is the AuthenticationType reported by
// identities produced for unauthenticated requests.
const AuthenticationTypeAnonymous = "Anonymous"

// ClaimsIdentity is the principal attached to an inbound request after token
// validation. It is immutable and safe for concurrent use.
type ClaimsIdentity struct {
	claims        jwt.MapClaims
	authenticated bool
	authType      string
}

// NewClaimsIdentity wraps validated claims in an identity.
func NewClaimsIdentity(claims jwt.MapClaims, authenticated bool) *ClaimsIdentity {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	return &ClaimsIdentity{claims: claims, authenticated: authenticated, authType: "Bearer"}
}

// NewAnonymousClaimsIdentity returns the identity used for requests that
// carried no credentials.
func NewAnonymousClaimsIdentity() *ClaimsIdentity {
	return &ClaimsIdentity{claims: jwt.MapClaims{}, authType: AuthenticationTypeAnonymous}
}

// IsAuthenticated reports whether the identity was produced from a validated
// token.
func (c *ClaimsIdentity) IsAuthenticated() bool { return c.authenticated }

// AuthenticationType returns the scheme that produced this identity, e.g.
// "Bearer" or "Anonymous".
func (c *ClaimsIdentity) AuthenticationType() string { return c.authType }

// Subject returns the token's sub claim, or "" when absent.
func (c *ClaimsIdentity) Subject() string {
	sub, _ := c.claims["sub"].(string)
	return sub
}

// Claim returns the named claim when it is a string, or "" when absent or of
// another type.
func (c *ClaimsIdentity) Claim(name string) string {
	v, _ := c.claims[name].(string)
	return v
}

// Claims unmarshals the raw claims into the provided struct reference.
func (c *ClaimsIdentity) Claims(ref any) error {
	b, err := json.Marshal(c.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// audContains reports whether the aud claim (string or array form) contains
// want.
func audContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}

// audIntersects reports whether the aud claim contains any of wants.
func audIntersects(aud any, wants []string) bool {
	for _, w := range wants {
		if audContains(aud, w) {
			return true
		}
	}
	return false
}
