package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// mockIssuer serves just enough OIDC discovery metadata for provider
// construction plus a JWKS document.
type mockIssuer struct {
	srv    *httptest.Server
	issuer string
}

func newMockIssuer(t *testing.T, keysJSON []byte) *mockIssuer {
	t.Helper()
	m := &mockIssuer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 m.issuer,
			"jwks_uri":               m.issuer + "/keys",
			"authorization_endpoint": m.issuer + "/oauth2/auth",
			"token_endpoint":         m.issuer + "/oauth2/token",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(mux)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func TestNewFromDiscovery_HappyPath(t *testing.T) {
	priv, keysJSON := genJWKS(t, "kid-1")
	iss := newMockIssuer(t, keysJSON)

	cfg := DefaultDiscoveryConfig()
	cfg.Issuer = iss.issuer
	cfg.ExpectedAudiences = []string{"https://agents.example.com"}
	cfg.Leeway = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewFromDiscovery(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFromDiscovery: %v", err)
	}

	now := time.Now()
	tok := signTestToken(t, priv["kid-1"], "kid-1", jwt.MapClaims{
		"iss": iss.issuer,
		"sub": "user-7",
		"aud": "https://agents.example.com",
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})
	id, err := v.ValidateToken(ctx, tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id.Subject() != "user-7" {
		t.Fatalf("subject = %q, want user-7", id.Subject())
	}
}

func TestNewFromDiscovery_RejectsWrongAudienceAndIssuer(t *testing.T) {
	priv, keysJSON := genJWKS(t, "kid-1")
	iss := newMockIssuer(t, keysJSON)

	cfg := DefaultDiscoveryConfig()
	cfg.Issuer = iss.issuer
	cfg.ExpectedAudiences = []string{"https://agents.example.com"}
	cfg.Leeway = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewFromDiscovery(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFromDiscovery: %v", err)
	}

	exp := time.Now().Add(time.Hour).Unix()
	badAud := signTestToken(t, priv["kid-1"], "kid-1", jwt.MapClaims{
		"iss": iss.issuer, "aud": "https://other.example.com", "sub": "u", "exp": exp,
	})
	if _, err := v.ValidateToken(ctx, badAud); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong audience err = %v, want ErrUnauthorized", err)
	}

	badIss := signTestToken(t, priv["kid-1"], "kid-1", jwt.MapClaims{
		"iss": "https://rogue.example.com", "aud": "https://agents.example.com", "sub": "u", "exp": exp,
	})
	if _, err := v.ValidateToken(ctx, badIss); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong issuer err = %v, want ErrUnauthorized", err)
	}
}

func TestNewFromDiscovery_ConfigValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewFromDiscovery(ctx, nil); err == nil {
		t.Fatal("nil config accepted")
	}
	if _, err := NewFromDiscovery(ctx, &DiscoveryConfig{Issuer: "https://x.example"}); err == nil {
		t.Fatal("config without audiences accepted")
	}
	if _, err := NewFromDiscovery(ctx, &DiscoveryConfig{ExpectedAudiences: []string{"a"}}); err == nil {
		t.Fatal("config without issuer accepted")
	}
}
