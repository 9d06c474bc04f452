package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments. All Record methods are nil-safe so
// components can call them whether or not instrumentation was configured.
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Token Lifecycle Metrics
	AuthorizationStarted metric.Int64Counter
	FlowCompleted        metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRefreshFailed   metric.Int64Counter
	RefreshCoalesced     metric.Int64Counter
	TokenRevoked         metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	StateRejected     metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageTokensCount       metric.Int64ObservableGauge
	StorageFlowsCount        metric.Int64ObservableGauge

	// Provider Metrics
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
	ProviderAPIErrors     metric.Int64Counter

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram
}

type counterSpec struct {
	target *metric.Int64Counter
	name   string
	desc   string
	unit   string
}

type histogramSpec struct {
	target *metric.Float64Histogram
	name   string
	desc   string
}

// newMetrics creates all metric instruments on the given meter
func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.AuthorizationStarted, "oauth.authorization.started", "Number of authorization flows started", "{flow}"},
		{&m.FlowCompleted, "oauth.flow.completed", "Number of authorization flows completed", "{flow}"},
		{&m.CodeExchanged, "oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"},
		{&m.TokenRefreshed, "oauth.token.refreshed", "Number of tokens refreshed", "{refresh}"},
		{&m.TokenRefreshFailed, "oauth.token.refresh.failed", "Number of failed token refreshes", "{refresh}"},
		{&m.RefreshCoalesced, "oauth.token.refresh.coalesced", "Number of callers that reused an in-flight refresh", "{call}"},
		{&m.TokenRevoked, "oauth.token.revoked", "Number of tokens revoked", "{revocation}"},
		{&m.RateLimitExceeded, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.StateRejected, "oauth.state.rejected", "Number of callbacks rejected for unknown, expired or replayed state", "{callback}"},
		{&m.AuditEventsTotal, "security.audit.events.total", "Number of security audit events", "{event}"},
		{&m.StorageOperationTotal, "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.ProviderAPICallsTotal, "provider.api.calls.total", "Total number of provider API calls", "{call}"},
		{&m.ProviderAPIErrors, "provider.api.errors", "Number of failed provider API calls", "{error}"},
		{&m.EncryptionOperationsTotal, "security.encryption.operations.total", "Number of encryption operations", "{operation}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	histograms := []histogramSpec{
		{&m.HTTPRequestDuration, "oauth.http.request.duration", "HTTP request duration in milliseconds"},
		{&m.StorageOperationDuration, "storage.operation.duration", "Storage operation duration in milliseconds"},
		{&m.ProviderAPIDuration, "provider.api.duration", "Provider API call duration in milliseconds"},
		{&m.EncryptionDuration, "security.encryption.duration", "Encryption operation duration in milliseconds"},
	}
	for _, h := range histograms {
		histogram, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ms"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.target = histogram
	}

	var err error
	m.StorageTokensCount, err = meter.Int64ObservableGauge(
		"storage.tokens.count",
		metric.WithDescription("Number of stored token records"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	m.StorageFlowsCount, err = meter.Int64ObservableGauge(
		"storage.flows.count",
		metric.WithDescription("Number of pending authorization flows"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.flows.count gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records an authorization flow start
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, service string) {
	if m == nil {
		return
	}
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordFlowCompleted records the outcome of a provider callback
func (m *Metrics) RecordFlowCompleted(ctx context.Context, service string, success bool) {
	if m == nil {
		return
	}
	m.FlowCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.Bool("success", success),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, service string, pkce bool) {
	if m == nil {
		return
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.Bool("pkce", pkce),
	))
}

// RecordTokenRefresh records a token refresh operation. rotationExpected
// marks providers that should have issued a new refresh token.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, service string, rotated, rotationExpected bool) {
	if m == nil {
		return
	}
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.Bool("rotated", rotated),
		attribute.Bool("rotation_expected", rotationExpected),
	))
}

// RecordTokenRefreshFailed records a refresh that degraded the service
func (m *Metrics) RecordTokenRefreshFailed(ctx context.Context, service, reason string) {
	if m == nil {
		return
	}
	m.TokenRefreshFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("reason", reason),
	))
}

// RecordRefreshCoalesced records a caller that reused another caller's refresh
func (m *Metrics) RecordRefreshCoalesced(ctx context.Context, service string) {
	if m == nil {
		return
	}
	m.RefreshCoalesced.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, service string, remote bool) {
	if m == nil {
		return
	}
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.Bool("remote", remote),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter_type", limiterType)))
}

// RecordStateRejected records a callback rejected for an invalid state
func (m *Metrics) RecordStateRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.StateRejected.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordProviderAPICall records a provider API call
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, statusCode int, durationMs float64, err error) {
	if m == nil {
		return
	}
	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Int("status", statusCode),
	))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))
	if err != nil {
		m.ProviderAPIErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
		))
	}
}

// RecordEncryptionOperation records an encryption or decryption operation
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, durationMs float64) {
	if m == nil {
		return
	}
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	m.EncryptionDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("operation", operation)))
}
