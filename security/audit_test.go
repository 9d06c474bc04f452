package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{
			name:    "enabled with logger",
			logger:  slog.Default(),
			enabled: true,
		},
		{
			name:    "disabled with logger",
			logger:  slog.Default(),
			enabled: false,
		},
		{
			name:    "enabled with nil logger",
			logger:  nil,
			enabled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor == nil {
				t.Fatal("NewAuditor() returned nil")
			}
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	tests := []struct {
		name    string
		enabled bool
		event   Event
		wantLog bool
	}{
		{
			name:    "enabled",
			enabled: true,
			event: Event{
				Type:      "test_event",
				Service:   "slack",
				IPAddress: "192.168.1.1",
				Details:   map[string]any{"key": "value"},
			},
			wantLog: true,
		},
		{
			name:    "disabled",
			enabled: false,
			event: Event{
				Type:    "test_event",
				Service: "slack",
			},
			wantLog: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			auditor := NewAuditor(logger, tt.enabled)

			auditor.LogEvent(tt.event)

			hasLog := buf.Len() > 0
			if hasLog != tt.wantLog {
				t.Errorf("LogEvent() logged = %v, want %v", hasLog, tt.wantLog)
			}
		})
	}
}

func TestAuditor_NilSafe(t *testing.T) {
	var auditor *Auditor
	// Must not panic
	auditor.LogTokenRefreshed("slack", false)
}

func TestAuditor_LifecycleEvents(t *testing.T) {
	tests := []struct {
		name      string
		log       func(a *Auditor)
		wantEvent string
	}{
		{"flow started", func(a *Auditor) { a.LogFlowStarted("slack", "state-value", true) }, EventAuthorizationFlowStarted},
		{"flow completed", func(a *Auditor) { a.LogFlowCompleted("slack", "chat:write") }, EventAuthorizationFlowCompleted},
		{"invalid state", func(a *Auditor) { a.LogInvalidState("slack", "10.0.0.1", "bad", "not found") }, EventInvalidState},
		{"exchange failed", func(a *Auditor) { a.LogCodeExchangeFailed("slack", "invalid_grant") }, EventProviderCodeExchangeFailed},
		{"refreshed", func(a *Auditor) { a.LogTokenRefreshed("calendly", true) }, EventTokenRefreshed},
		{"not rotated", func(a *Auditor) { a.LogRefreshTokenNotRotated("calendly") }, EventRefreshTokenNotRotated},
		{"refresh failed", func(a *Auditor) { a.LogRefreshFailed("calendly", "invalid_grant") }, EventTokenRefreshFailed},
		{"revoked", func(a *Auditor) { a.LogTokenRevoked("salesforce", true) }, EventTokenRevoked},
		{"remote revocation failed", func(a *Auditor) { a.LogRemoteRevocationFailed("salesforce", "500") }, EventProviderRevocationFailed},
		{"rate limited", func(a *Auditor) { a.LogRateLimitExceeded("10.0.0.1", "/oauth/authorize") }, EventRateLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

			tt.log(auditor)

			if !strings.Contains(buf.String(), "event_type="+tt.wantEvent) {
				t.Errorf("log output %q does not contain event %q", buf.String(), tt.wantEvent)
			}
		})
	}
}

func TestAuditor_StateIsHashed(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	state := "very-secret-state-value-1234567890"
	auditor.LogFlowStarted("slack", state, true)

	if strings.Contains(buf.String(), state) {
		t.Error("raw state must not appear in audit log")
	}
	if !strings.Contains(buf.String(), hashForLogging(state)) {
		t.Error("audit log should contain the state hash")
	}
}

func Test_hashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want %q", got, "<empty>")
	}

	got := hashForLogging("sensitive-data")
	if got == "sensitive-data" {
		t.Error("hashForLogging() returned unhashed sensitive data")
	}
	if len(got) != 16 {
		t.Errorf("hashForLogging() returned hash of length %d, want 16", len(got))
	}
	if got != hashForLogging("sensitive-data") {
		t.Error("hashForLogging() should return same hash for same input")
	}
	if got == hashForLogging("other-data") {
		t.Error("hashForLogging() should return different hashes for different inputs")
	}
}
