// Package auth implements the token-validation path of the agent host: it
// verifies inbound bearer JWTs against the signing keys published by the
// issuing authority and exposes the resulting claims as a ClaimsIdentity.
//
// The package centers on two pieces:
//
//   - TokenValidator, which routes a token to the right JWKS endpoint (Bot
//     Framework service tokens vs. Entra tenant tokens), resolves the token's
//     key id through a shared KeyCache, and verifies signature, expiry, and
//     audience.
//
//   - KeyCache, a process-wide cache from key id to verification key with a
//     mutex-guarded, double-checked refresh against a KeyClient. Concurrent
//     validations racing on a cold key id produce exactly one upstream fetch.
//
// Hosts federating with a custom OIDC issuer (sovereign clouds, private
// authorities) can use NewFromDiscovery instead, which discovers the JWKS
// endpoint via OIDC metadata and delegates key management to an
// auto-refreshing keyfunc.
//
// # Errors
//
// ErrUnauthorized signals that the token failed validation (signature,
// expiry, audience, malformed input). ErrKeyRetrieval signals that the
// signing key could not be fetched from the authority; the token itself may
// be fine and the caller can retry. Neither validator retries internally.
package auth
