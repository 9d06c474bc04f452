package server

import (
	"errors"

	"github.com/giantswarm/service-oauth/providers"
)

var (
	// ErrUnknownService is returned when a service is not registered
	ErrUnknownService = providers.ErrUnknownService

	// ErrTokenExchangeFailed is matched by every *TokenExchangeError
	ErrTokenExchangeFailed = providers.ErrTokenExchangeFailed

	// ErrInvalidState is returned when a callback carries a state that is
	// unknown, expired or already used. It is never retried.
	ErrInvalidState = errors.New("invalid or expired state")

	// ErrServiceMismatch is returned when a state was issued for a different service
	ErrServiceMismatch = errors.New("state was issued for a different service")

	// ErrNoRefreshToken is returned when a token needs refreshing but the
	// provider never issued a refresh token
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrNotAuthenticated is returned when no usable token exists for a service
	ErrNotAuthenticated = errors.New("service is not authenticated")
)

// TokenExchangeError describes a provider rejection or an unusable token response
type TokenExchangeError = providers.TokenExchangeError
