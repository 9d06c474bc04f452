package security

import "time"

const (
	// DefaultRefreshMargin is how long before expiry an access token is
	// treated as expiring and refreshed ahead of use. It absorbs request
	// latency and clock drift between this process and the provider.
	DefaultRefreshMargin = 60 * time.Second
)

// IsTokenExpired reports whether a token has expired at now.
// A zero expiresAt means the provider reported no lifetime: never expires.
func IsTokenExpired(now, expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt)
}

// IsTokenExpiringSoon reports whether a token expires within margin of now
// (expired tokens included).
func IsTokenExpiringSoon(now, expiresAt time.Time, margin time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(expiresAt)
}

// ExpiresAt converts a provider-reported lifetime into an absolute expiry
// relative to issuedAt. Non-positive lifetimes yield the zero time.
func ExpiresAt(issuedAt time.Time, expiresIn int64) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return issuedAt.Add(time.Duration(expiresIn) * time.Second)
}
