package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/storage"
)

// State is the lifecycle state of one service
type State string

const (
	// StateUnauthenticated means no usable token is stored
	StateUnauthenticated State = "UNAUTHENTICATED"

	// StateAuthenticated means the access token is valid beyond the refresh margin
	StateAuthenticated State = "AUTHENTICATED"

	// StateExpiring means the access token is within the refresh margin of
	// expiry, or expired but refreshable
	StateExpiring State = "EXPIRING"

	// StateRevoked means the service was explicitly signed out
	StateRevoked State = "REVOKED"
)

// ServiceStatus summarizes one registered service
type ServiceStatus struct {
	Service            string    `json:"service"`
	State              State     `json:"state"`
	Authenticated      bool      `json:"authenticated"`
	ExpiresAt          time.Time `json:"expires_at,omitempty"`
	Scopes             []string  `json:"scopes,omitempty"`
	HasRefreshToken    bool      `json:"has_refresh_token"`
	SupportsRevocation bool      `json:"supports_revocation"`
}

// State returns the lifecycle state of service without touching the network
func (s *Server) State(ctx context.Context, service string) (State, error) {
	if _, err := s.provider(service); err != nil {
		return "", err
	}
	rec, err := s.lookup(ctx, service)
	if err != nil {
		return "", err
	}
	return s.classify(service, rec), nil
}

// IsAuthenticated reports whether service has a token that is unexpired
// or can be refreshed
func (s *Server) IsAuthenticated(ctx context.Context, service string) bool {
	if _, err := s.provider(service); err != nil {
		return false
	}
	rec, err := s.lookup(ctx, service)
	if err != nil {
		s.Logger.Warn("Failed to load token", "service", service, "error", err)
		return false
	}
	return s.usable(rec)
}

// Status reports every registered service in name order
func (s *Server) Status(ctx context.Context) ([]ServiceStatus, error) {
	records, err := s.tokenStore.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	services := s.registry.Services()
	out := make([]ServiceStatus, 0, len(services))
	for _, service := range services {
		cfg, err := s.provider(service)
		if err != nil {
			continue
		}
		rec := records[service]
		st := ServiceStatus{
			Service:            service,
			State:              s.classify(service, rec),
			Authenticated:      s.usable(rec),
			SupportsRevocation: cfg.SupportsRevocation(),
		}
		if rec != nil {
			st.ExpiresAt = rec.ExpiresAt
			st.Scopes = rec.Scopes
			st.HasRefreshToken = rec.HasRefreshToken()
		}
		out = append(out, st)
	}
	return out, nil
}

// AuthorizationHeader returns the HTTP Authorization header value for record
func AuthorizationHeader(record *storage.TokenRecord) string {
	tokenType := record.TokenType
	if tokenType == "" {
		tokenType = storage.DefaultTokenType
	}
	return tokenType + " " + record.AccessToken
}

// lookup returns the service's record, or nil when none is stored
func (s *Server) lookup(ctx context.Context, service string) (*storage.TokenRecord, error) {
	rec, err := s.tokenStore.GetToken(ctx, service)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return rec, nil
}

func (s *Server) usable(rec *storage.TokenRecord) bool {
	if rec == nil {
		return false
	}
	return !security.IsTokenExpired(s.now(), rec.ExpiresAt) || rec.HasRefreshToken()
}

func (s *Server) classify(service string, rec *storage.TokenRecord) State {
	if rec == nil {
		if s.isRevoked(service) {
			return StateRevoked
		}
		return StateUnauthenticated
	}

	now := s.now()
	switch {
	case security.IsTokenExpired(now, rec.ExpiresAt):
		if rec.HasRefreshToken() {
			return StateExpiring
		}
		return StateUnauthenticated
	case security.IsTokenExpiringSoon(now, rec.ExpiresAt, s.Config.RefreshMargin) && rec.HasRefreshToken():
		return StateExpiring
	}
	return StateAuthenticated
}
