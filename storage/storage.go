package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTokenNotFound is returned when no token record exists for a service
	ErrTokenNotFound = errors.New("token not found")

	// ErrFlowNotFound is returned when a state is unknown, expired or already consumed
	ErrFlowNotFound = errors.New("authorization flow not found")

	// ErrFlowExists is returned by SaveFlow when the state is already in use
	ErrFlowExists = errors.New("authorization flow already exists")
)

// DefaultTokenType is assumed when a provider omits token_type
const DefaultTokenType = "Bearer"

// TokenRecord is the current credential set for one service.
type TokenRecord struct {
	// Service is the provider identifier the record belongs to
	Service string

	AccessToken string

	// RefreshToken is empty when the provider issued none
	RefreshToken string

	// TokenType defaults to "Bearer"
	TokenType string

	// ExpiresAt is the absolute access token expiry. The zero value means
	// the provider reported no lifetime.
	ExpiresAt time.Time

	// Scopes actually granted, which may differ from those requested
	Scopes []string

	// UpdatedAt is when the record was last written by exchange or refresh
	UpdatedAt time.Time
}

// Clone returns a deep copy of the record
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Scopes != nil {
		c.Scopes = append([]string(nil), r.Scopes...)
	}
	return &c
}

// HasRefreshToken reports whether the record can be refreshed
func (r *TokenRecord) HasRefreshToken() bool {
	return r != nil && r.RefreshToken != ""
}

// PendingFlow is an authorization request awaiting its callback.
// The code verifier never leaves the server; only its challenge goes in the URL.
type PendingFlow struct {
	// State is the opaque value round-tripped through the provider
	State string

	Service string

	// CodeVerifier is empty when the provider does not use PKCE
	CodeVerifier string

	// Continuation is an optional URL to send the user to after completion
	Continuation string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Clone returns a copy of the flow
func (f *PendingFlow) Clone() *PendingFlow {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

// TokenStore persists at most one TokenRecord per service.
// Implementations must be safe for concurrent use and serialize writes per service.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// GetToken returns a copy of the service's record or ErrTokenNotFound
	GetToken(ctx context.Context, service string) (*TokenRecord, error)

	// PutToken atomically replaces the service's record and persists it
	PutToken(ctx context.Context, record *TokenRecord) error

	// DeleteToken removes the service's record. Deleting a missing record is not an error.
	DeleteToken(ctx context.Context, service string) error

	// Snapshot returns copies of all records keyed by service
	Snapshot(ctx context.Context) (map[string]*TokenRecord, error)
}

// FlowStore holds pending authorization flows keyed by state.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveFlow inserts a flow. It returns ErrFlowExists if the state is taken.
	SaveFlow(ctx context.Context, flow *PendingFlow) error

	// ConsumeFlow atomically fetches and deletes a flow. It returns
	// ErrFlowNotFound when the state is unknown, already consumed, or expired.
	// Of any number of concurrent calls with the same state, at most one succeeds.
	ConsumeFlow(ctx context.Context, state string) (*PendingFlow, error)
}
