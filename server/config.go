package server

import (
	"log/slog"
	"time"

	"github.com/giantswarm/service-oauth/security"
)

const (
	// DefaultFlowTTL is how long a pending authorization flow stays valid
	DefaultFlowTTL = 10 * time.Minute

	// DefaultRefreshTimeout bounds one refresh including its retries
	DefaultRefreshTimeout = 30 * time.Second

	// DefaultRefreshMaxTries is the number of refresh attempts for transient failures
	DefaultRefreshMaxTries = 3

	// DefaultRefreshInitialInterval is the first backoff between refresh attempts
	DefaultRefreshInitialInterval = 250 * time.Millisecond

	// DefaultRefreshMaxInterval caps the backoff between refresh attempts
	DefaultRefreshMaxInterval = 2 * time.Second

	// DefaultRevokeTimeout bounds the best-effort remote revocation
	DefaultRevokeTimeout = 10 * time.Second

	// maxFlowTTL is the longest flow lifetime accepted without a warning
	maxFlowTTL = 30 * time.Minute

	// minRefreshMargin is the smallest margin accepted without a warning
	minRefreshMargin = 10 * time.Second
)

// Config holds token lifecycle configuration. Zero values are replaced
// with defaults by New.
type Config struct {
	// RefreshMargin is how long before expiry a token is refreshed
	// Default: 60 seconds
	RefreshMargin time.Duration

	// FlowTTL is how long the user has to complete an authorization flow
	// Default: 10 minutes
	FlowTTL time.Duration

	// RefreshTimeout bounds a refresh, including retries. The refresh keeps
	// running after the caller that triggered it gives up.
	// Default: 30 seconds
	RefreshTimeout time.Duration

	// RefreshMaxTries is the number of attempts for transient refresh
	// failures (network errors, 5xx, 429). invalid_grant is never retried.
	// Default: 3
	RefreshMaxTries uint

	// RefreshInitialInterval and RefreshMaxInterval shape the exponential
	// backoff between refresh attempts
	RefreshInitialInterval time.Duration
	RefreshMaxInterval     time.Duration

	// RevokeTimeout bounds the remote revocation call
	// Default: 10 seconds
	RevokeTimeout time.Duration
}

// applySecureDefaults fills zero values and warns about risky settings.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	logConfigWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.RefreshMargin == 0 {
		config.RefreshMargin = security.DefaultRefreshMargin
	}
	if config.FlowTTL == 0 {
		config.FlowTTL = DefaultFlowTTL
	}
	if config.RefreshTimeout == 0 {
		config.RefreshTimeout = DefaultRefreshTimeout
	}
	if config.RefreshMaxTries == 0 {
		config.RefreshMaxTries = DefaultRefreshMaxTries
	}
	if config.RefreshInitialInterval == 0 {
		config.RefreshInitialInterval = DefaultRefreshInitialInterval
	}
	if config.RefreshMaxInterval == 0 {
		config.RefreshMaxInterval = DefaultRefreshMaxInterval
	}
	if config.RevokeTimeout == 0 {
		config.RevokeTimeout = DefaultRevokeTimeout
	}
}

func logConfigWarnings(config *Config, logger *slog.Logger) {
	if config.FlowTTL > maxFlowTTL {
		logger.Warn("Authorization flow TTL is unusually long",
			"flow_ttl", config.FlowTTL,
			"recommended_max", maxFlowTTL,
			"risk", "Stolen state values stay usable longer")
	}
	if config.RefreshMargin < minRefreshMargin {
		logger.Warn("Refresh margin is very small",
			"refresh_margin", config.RefreshMargin,
			"recommended_min", minRefreshMargin,
			"risk", "Tokens may expire while a request is in flight")
	}
}
