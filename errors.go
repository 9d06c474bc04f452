package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/service-oauth/server"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest         = "invalid_request"
	ErrorCodeInvalidGrant           = "invalid_grant"
	ErrorCodeInvalidToken           = "invalid_token"
	ErrorCodeServerError            = "server_error"
	ErrorCodeAccessDenied           = "access_denied"
	ErrorCodeUnknownService         = "unknown_service"
	ErrorCodeTemporarilyUnavailable = "temporarily_unavailable"
	ErrorCodeRateLimitExceeded      = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable instances
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the user or authorization server denied the request
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrUnknownService indicates the service is not configured
	ErrUnknownService = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnknownService, desc, http.StatusNotFound)
	}

	// ErrBadGateway indicates the provider rejected or failed a token request
	ErrBadGateway = func(code, desc string) *OAuthError {
		return NewOAuthError(code, desc, http.StatusBadGateway)
	}
)

// ErrorFromServer maps an error returned by the server package to the
// OAuth error sent to HTTP clients. Descriptions never include token values.
func ErrorFromServer(err error) *OAuthError {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}

	var exchangeErr *server.TokenExchangeError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, server.ErrUnknownService):
		return ErrUnknownService(err.Error())
	case errors.Is(err, server.ErrInvalidState):
		return ErrInvalidRequest("Invalid or expired state parameter")
	case errors.Is(err, server.ErrServiceMismatch):
		return ErrInvalidRequest("State parameter was issued for a different service")
	case errors.Is(err, server.ErrNotAuthenticated):
		return ErrInvalidToken("Service is not authenticated")
	case errors.As(err, &exchangeErr):
		if exchangeErr.Temporary() {
			return NewOAuthError(ErrorCodeTemporarilyUnavailable, "Provider is temporarily unavailable", http.StatusServiceUnavailable)
		}
		code := exchangeErr.ErrorCode
		if code == "" {
			code = ErrorCodeInvalidGrant
		}
		desc := exchangeErr.Description
		if desc == "" {
			desc = "Provider rejected the token request"
		}
		return ErrBadGateway(code, desc)
	default:
		return ErrServerError("Internal server error")
	}
}
