// Package security holds the security primitives of the OAuth engine.
//
// # PKCE and State
//
// GeneratePKCE returns an RFC 7636 code verifier and its S256 challenge.
// GenerateState returns the 256-bit state value bound to each pending
// authorization flow. Both draw from crypto/rand.
//
// # Token Expiry
//
// IsTokenExpired and IsTokenExpiringSoon take the current time explicitly so
// callers can supply a test clock. DefaultRefreshMargin (60s) is how early a
// token counts as expiring.
//
// # Encryption at Rest
//
// Encryptor seals access and refresh tokens with AES-256-GCM before they reach
// a storage backend. Each value is bound to its service name. Keys are either
// supplied directly (base64, 32 bytes) or derived from a session secret with
// DeriveKey (HKDF-SHA256).
//
//	key, err := security.DeriveKey(os.Getenv("OAUTH_SESSION_SECRET"))
//	enc, err := security.NewEncryptor(key)
//	sealed, err := enc.Seal("salesforce", accessToken)
//
// # Rate Limiting
//
// RateLimiter is a per-identifier token bucket. Limiters are held in a TTL
// cache bounded to DefaultMaxEntries; idle identifiers expire after
// DefaultIdleTimeout and the least recently used are evicted at capacity.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//	if !limiter.Allow(clientIP) {
//		// 429
//	}
//
// # Audit Logging
//
// Auditor writes security_audit records through slog. States are hashed and
// tokens are never logged.
//
// # HTTP Helpers
//
// SetSecurityHeaders, ClientIPResolver and RequestIDMiddleware are used by
// the HTTP handler in the root package.
package security
