package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
)

func TestTokenExchangeError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *TokenExchangeError
		want string
	}{
		{
			name: "code and description",
			err:  &TokenExchangeError{Service: "slack", Operation: "refresh", StatusCode: 400, ErrorCode: "invalid_grant", Description: "token revoked"},
			want: "slack refresh failed (status 400): invalid_grant: token revoked",
		},
		{
			name: "code only",
			err:  &TokenExchangeError{Service: "slack", Operation: "revoke", StatusCode: 200, ErrorCode: "invalid_auth"},
			want: "slack revoke failed (status 200): invalid_auth",
		},
		{
			name: "network error",
			err:  &TokenExchangeError{Service: "hubspot", Operation: "exchange", Err: errors.New("connection refused")},
			want: "hubspot exchange failed: connection refused",
		},
		{
			name: "bare",
			err:  &TokenExchangeError{Service: "hubspot", Operation: "exchange", StatusCode: 502},
			want: "hubspot exchange failed (status 502)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokenExchangeError_Temporary(t *testing.T) {
	netErr := &url.Error{Op: "Post", URL: "https://example.com/token", Err: errors.New("connection reset")}

	tests := []struct {
		name string
		err  *TokenExchangeError
		want bool
	}{
		{"invalid grant", &TokenExchangeError{StatusCode: 400, ErrorCode: "invalid_grant"}, false},
		{"temporarily unavailable", &TokenExchangeError{StatusCode: 503, ErrorCode: "temporarily_unavailable"}, true},
		{"server_error code", &TokenExchangeError{StatusCode: 500, ErrorCode: "server_error"}, true},
		{"rejection with 5xx code", &TokenExchangeError{StatusCode: 500, ErrorCode: "invalid_client"}, false},
		{"rate limited", &TokenExchangeError{StatusCode: 429}, true},
		{"bad gateway", &TokenExchangeError{StatusCode: 502}, true},
		{"unauthorized", &TokenExchangeError{StatusCode: 401}, false},
		{"network", &TokenExchangeError{Err: netErr}, true},
		{"canceled", &TokenExchangeError{Err: context.Canceled}, false},
		{"no response and no error", &TokenExchangeError{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Temporary(); got != tt.want {
				t.Errorf("Temporary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTemporary(t *testing.T) {
	wrapped := fmt.Errorf("refresh: %w", &TokenExchangeError{StatusCode: 503})
	if !IsTemporary(wrapped) {
		t.Error("IsTemporary() = false for wrapped 503")
	}
	if IsTemporary(errors.New("plain")) {
		t.Error("IsTemporary() = true for a plain error")
	}
	if IsTemporary(nil) {
		t.Error("IsTemporary(nil) = true")
	}
}

func TestTokenExchangeError_Is(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &TokenExchangeError{Service: "slack", Operation: "refresh", Err: cause})

	if !errors.Is(err, ErrTokenExchangeFailed) {
		t.Error("errors.Is(err, ErrTokenExchangeFailed) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("underlying error not reachable through Unwrap")
	}
	if errors.Is(err, ErrUnknownService) {
		t.Error("TokenExchangeError matched ErrUnknownService")
	}
}
