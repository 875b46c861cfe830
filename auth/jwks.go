package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elnormous/contenttype"
	jose "github.com/go-jose/go-jose/v4"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// JWKSClient fetches signing keys from a JWKS endpoint. Every call performs
// one HTTP round-trip; wrap it in a KeyCache to avoid redundant fetches.
type JWKSClient struct {
	endpoint string
	hc       *http.Client
}

// NewJWKSClient returns a client for the given JWKS endpoint. A nil hc uses
// http.DefaultClient.
func NewJWKSClient(endpoint string, hc *http.Client) *JWKSClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &JWKSClient{endpoint: endpoint, hc: hc}
}

// SigningKey implements KeyClient by downloading the key set and selecting
// the key with the given id. Signature-use keys win when the set carries
// duplicate ids.
func (c *JWKSClient) SigningKey(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("jwks request: %w", err)
	}
	req.Header.Set("Accept", jsonMediaType.String())

	resp, err := c.hc.Do(req)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("jwks fetch %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKey{}, fmt.Errorf("jwks fetch %s: unexpected status %d", c.endpoint, resp.StatusCode)
	}
	ct := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	if ct.Type != jsonMediaType.Type || ct.Subtype != jsonMediaType.Subtype {
		return jose.JSONWebKey{}, fmt.Errorf("jwks fetch %s: unexpected content type %q", c.endpoint, resp.Header.Get("Content-Type"))
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("jwks decode: %w", err)
	}

	matches := set.Key(kid)
	if len(matches) == 0 {
		return jose.JSONWebKey{}, fmt.Errorf("jwks: no key with kid %q at %s", kid, c.endpoint)
	}
	for _, k := range matches {
		if k.Use == "sig" {
			return k, nil
		}
	}
	return matches[0], nil
}

var _ KeyClient = (*JWKSClient)(nil)
