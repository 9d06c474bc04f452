package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging. Credentials never reach the log:
// values that could identify a token are hashed first.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Service   string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"service", event.Service,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogFlowStarted logs the creation of an authorization request.
// Only a hash of the state is recorded.
func (a *Auditor) LogFlowStarted(service, state string, pkce bool) {
	a.LogEvent(Event{
		Type:    EventAuthorizationFlowStarted,
		Service: service,
		Details: map[string]any{
			"state_hash": hashForLogging(state),
			"pkce":       pkce,
		},
	})
}

// LogFlowCompleted logs a successful code exchange
func (a *Auditor) LogFlowCompleted(service, scope string) {
	a.LogEvent(Event{
		Type:    EventAuthorizationFlowCompleted,
		Service: service,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogInvalidState logs a callback whose state was unknown, expired, replayed
// or bound to a different service.
func (a *Auditor) LogInvalidState(service, ipAddress, state, reason string) {
	a.LogEvent(Event{
		Type:      EventInvalidState,
		Service:   service,
		IPAddress: ipAddress,
		Details: map[string]any{
			"state_hash": hashForLogging(state),
			"reason":     reason,
		},
	})
}

// LogCodeExchangeFailed logs a failed authorization code exchange
func (a *Auditor) LogCodeExchangeFailed(service, reason string) {
	a.LogEvent(Event{
		Type:    EventProviderCodeExchangeFailed,
		Service: service,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogTokenRefreshed logs when a token is refreshed
func (a *Auditor) LogTokenRefreshed(service string, rotated bool) {
	a.LogEvent(Event{
		Type:    EventTokenRefreshed,
		Service: service,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogRefreshTokenNotRotated logs a refresh from a rotating provider that
// returned no new refresh token. The previous one is kept.
func (a *Auditor) LogRefreshTokenNotRotated(service string) {
	a.LogEvent(Event{
		Type:    EventRefreshTokenNotRotated,
		Service: service,
	})
}

// LogRefreshFailed logs a refresh failure that left the service unauthenticated
func (a *Auditor) LogRefreshFailed(service, reason string) {
	a.LogEvent(Event{
		Type:    EventTokenRefreshFailed,
		Service: service,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogTokenRevoked logs a revocation. remote reports whether the provider
// acknowledged it.
func (a *Auditor) LogTokenRevoked(service string, remote bool) {
	a.LogEvent(Event{
		Type:    EventTokenRevoked,
		Service: service,
		Details: map[string]any{
			"remote": remote,
		},
	})
}

// LogRemoteRevocationFailed logs a provider revocation error. The local
// token is discarded regardless.
func (a *Auditor) LogRemoteRevocationFailed(service, reason string) {
	a.LogEvent(Event{
		Type:    EventProviderRevocationFailed,
		Service: service,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
