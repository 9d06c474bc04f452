package oauth

import (
	"time"

	"github.com/giantswarm/service-oauth/server"
)

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation
	ErrorURI string `json:"error_uri,omitempty"`
}

// CallbackResponse is returned by the callback endpoint when the flow was
// started without a continuation and the client asked for JSON.
type CallbackResponse struct {
	// Service is the service that was authenticated
	Service string `json:"service"`

	// State is the service's lifecycle state after the callback
	State server.State `json:"state"`

	// ExpiresAt is when the new access token expires (zero when unknown)
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scopes are the scopes the provider granted
	Scopes []string `json:"scopes,omitempty"`

	// HasRefreshToken reports whether the token can be renewed without the user
	HasRefreshToken bool `json:"has_refresh_token"`
}

// RevokeResponse is returned by the revocation endpoint
type RevokeResponse struct {
	Service string       `json:"service"`
	State   server.State `json:"state"`
}

// StatusResponse is returned by the status endpoint
type StatusResponse struct {
	// Services lists every configured service in name order
	Services []server.ServiceStatus `json:"services"`

	// Authenticated counts services that can currently produce a token
	Authenticated int `json:"authenticated"`

	// Total is the number of configured services
	Total int `json:"total"`

	// Timestamp is when the status was taken
	Timestamp time.Time `json:"timestamp"`
}

// AuthURLsResponse maps service names to freshly issued authorization URLs.
// Services whose URL could not be built are omitted.
type AuthURLsResponse struct {
	URLs map[string]string `json:"urls"`
}
