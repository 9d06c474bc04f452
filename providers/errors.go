package providers

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownService is returned when a service is not registered
	ErrUnknownService = errors.New("unknown service")

	// ErrTokenExchangeFailed is matched by every *TokenExchangeError
	ErrTokenExchangeFailed = errors.New("token exchange failed")
)

// TokenExchangeError describes a failed request to a provider's token
// endpoint. It carries the provider's error payload so callers can surface it.
type TokenExchangeError struct {
	// Service is the service identifier the request was made for
	Service string

	// Operation is "exchange", "refresh" or "revoke"
	Operation string

	// StatusCode is the HTTP status returned by the provider.
	// Zero means no response was received (network failure).
	StatusCode int

	// ErrorCode and Description are the RFC 6749 "error" and
	// "error_description" fields, when the provider sent them
	ErrorCode   string
	Description string

	// Body is the raw response body
	Body []byte

	// Err is the underlying error
	Err error
}

func (e *TokenExchangeError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Service, e.Operation)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	switch {
	case e.ErrorCode != "" && e.Description != "":
		return fmt.Sprintf("%s: %s: %s", msg, e.ErrorCode, e.Description)
	case e.ErrorCode != "":
		return fmt.Sprintf("%s: %s", msg, e.ErrorCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// Is makes every TokenExchangeError match ErrTokenExchangeFailed
func (e *TokenExchangeError) Is(target error) bool {
	return target == ErrTokenExchangeFailed
}

// Temporary reports whether retrying the same request may succeed:
// no response at all, rate limiting, or a provider-side 5xx.
// Rejections such as invalid_grant are never temporary.
func (e *TokenExchangeError) Temporary() bool {
	if e.ErrorCode != "" {
		return e.ErrorCode == "temporarily_unavailable" || e.ErrorCode == "server_error"
	}
	switch {
	case e.StatusCode == 0:
		return e.Err != nil && isNetworkError(e.Err)
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsTemporary reports whether err is a *TokenExchangeError that may succeed on retry
func IsTemporary(err error) bool {
	var exErr *TokenExchangeError
	if errors.As(err, &exErr) {
		return exErr.Temporary()
	}
	return false
}
