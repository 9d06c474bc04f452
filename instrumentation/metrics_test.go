package instrumentation

import (
	"context"
	"errors"
	"testing"
)

func TestMetrics_RecordLifecycle(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	// None of these should panic
	metrics.RecordAuthorizationStarted(ctx, "salesforce")
	metrics.RecordFlowCompleted(ctx, "salesforce", true)
	metrics.RecordFlowCompleted(ctx, "slack", false)
	metrics.RecordCodeExchange(ctx, "salesforce", true)
	metrics.RecordTokenRefresh(ctx, "calendly", true, true)
	metrics.RecordTokenRefresh(ctx, "calendly", false, true)
	metrics.RecordTokenRefresh(ctx, "hubspot", false, false)
	metrics.RecordTokenRefreshFailed(ctx, "hubspot", "invalid_grant")
	metrics.RecordRefreshCoalesced(ctx, "hubspot")
	metrics.RecordTokenRevocation(ctx, "slack", true)
	metrics.RecordStateRejected(ctx)
}

func TestMetrics_RecordInfrastructure(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	tests := []struct {
		name       string
		method     string
		endpoint   string
		statusCode int
		durationMs float64
	}{
		{"authorize redirect", "GET", "/oauth/authorize", 302, 12.5},
		{"callback", "GET", "/oauth/callback", 200, 234.56},
		{"bad callback", "GET", "/oauth/callback", 400, 4.2},
		{"status", "GET", "/api/status", 200, 1.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics.RecordHTTPRequest(ctx, tt.method, tt.endpoint, tt.statusCode, tt.durationMs)
		})
	}

	metrics.RecordStorageOperation(ctx, "put_token", "success", 0.4)
	metrics.RecordProviderAPICall(ctx, "salesforce", "refresh", 200, 120, nil)
	metrics.RecordProviderAPICall(ctx, "salesforce", "refresh", 400, 80, errors.New("invalid_grant"))
	metrics.RecordRateLimitExceeded(ctx, "ip")
	metrics.RecordAuditEvent(ctx, "token_refreshed")
	metrics.RecordEncryptionOperation(ctx, "encrypt", 0.02)
}

func TestMetrics_NilSafe(t *testing.T) {
	var metrics *Metrics
	ctx := context.Background()

	// A nil holder is how components run without instrumentation
	metrics.RecordHTTPRequest(ctx, "GET", "/", 200, 1)
	metrics.RecordAuthorizationStarted(ctx, "demo")
	metrics.RecordTokenRefresh(ctx, "demo", false, false)
	metrics.RecordStorageOperation(ctx, "get_token", "miss", 0)
	metrics.RecordProviderAPICall(ctx, "demo", "exchange", 0, 0, errors.New("boom"))
}
