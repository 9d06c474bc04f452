package security

// Event type constants for security audit logging.
const (
	// Authorization flow events

	// EventAuthorizationFlowStarted is logged when an authorization URL is built
	EventAuthorizationFlowStarted = "authorization_flow_started"

	// EventAuthorizationFlowCompleted is logged when a callback yields a stored token
	EventAuthorizationFlowCompleted = "authorization_flow_completed"

	// EventInvalidState is logged when a callback presents an unknown, expired,
	// already used or mismatched state
	EventInvalidState = "invalid_state"

	// EventProviderCodeExchangeFailed is logged when the provider rejects a code exchange
	EventProviderCodeExchangeFailed = "provider_code_exchange_failed"

	// Token lifecycle events

	// EventTokenRefreshed is logged when an access token is refreshed using a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventRefreshTokenNotRotated is logged when a provider that rotates
	// refresh tokens answers a refresh without a new one
	EventRefreshTokenNotRotated = "refresh_token_not_rotated"

	// EventTokenRefreshFailed is logged when a refresh fails and the token is discarded
	EventTokenRefreshFailed = "token_refresh_failed"

	// EventTokenRevoked is logged when a service's token is revoked
	EventTokenRevoked = "token_revoked"

	// EventProviderRevocationFailed is logged when the provider's revocation endpoint errors
	EventProviderRevocationFailed = "provider_revocation_failed"

	// Security violation events

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
