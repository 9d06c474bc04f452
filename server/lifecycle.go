package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/giantswarm/service-oauth/instrumentation"
	"github.com/giantswarm/service-oauth/providers"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/storage"
)

// GetValidToken returns a record whose access token is usable now. Tokens
// within the refresh margin of expiry are refreshed first; concurrent
// callers for the same service share a single refresh.
//
// A failed refresh removes the record, so the service becomes
// UNAUTHENTICATED and the error matches ErrNotAuthenticated.
func (s *Server) GetValidToken(ctx context.Context, service string) (*storage.TokenRecord, error) {
	if _, err := s.provider(service); err != nil {
		return nil, err
	}

	rec, err := s.tokenStore.GetToken(ctx, service)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotAuthenticated, service)
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	now := s.now()
	if !security.IsTokenExpiringSoon(now, rec.ExpiresAt, s.Config.RefreshMargin) {
		return rec, nil
	}

	if !rec.HasRefreshToken() {
		if !security.IsTokenExpired(now, rec.ExpiresAt) {
			// still valid for a little while and nothing to refresh with
			return rec, nil
		}
		s.Logger.Info("Token expired and no refresh token is available", "service", service)
		if err := s.tokenStore.DeleteToken(ctx, service); err != nil {
			s.Logger.Warn("Failed to delete expired token", "service", service, "error", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, ErrNoRefreshToken)
	}

	return s.refreshShared(ctx, service)
}

// AccessToken returns a usable access token for service
func (s *Server) AccessToken(ctx context.Context, service string) (string, error) {
	rec, err := s.GetValidToken(ctx, service)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// refreshShared joins or starts the service's refresh. The refresh runs on
// a context detached from ctx, so it completes and is stored even if this
// caller gives up.
func (s *Server) refreshShared(ctx context.Context, service string) (*storage.TokenRecord, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.refreshGroup.DoChan(service, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(detached, s.Config.RefreshTimeout)
		defer cancel()
		return s.refresh(refreshCtx, service)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Shared {
			s.metrics.RecordRefreshCoalesced(ctx, service)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*storage.TokenRecord).Clone(), nil
	}
}

// refresh performs one refresh for service. It re-reads the record first:
// a caller that loaded the old record just before the previous refresh
// finished must not refresh again.
func (s *Server) refresh(ctx context.Context, service string) (record *storage.TokenRecord, err error) {
	ctx, span := s.startSpan(ctx, "refresh", service)
	defer func() { endSpan(span, err) }()

	cfg, err := s.provider(service)
	if err != nil {
		return nil, err
	}

	startEpoch := s.epoch(service)

	prev, err := s.tokenStore.GetToken(ctx, service)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotAuthenticated, service)
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if !security.IsTokenExpiringSoon(s.now(), prev.ExpiresAt, s.Config.RefreshMargin) {
		return prev, nil
	}
	if !prev.HasRefreshToken() {
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, ErrNoRefreshToken)
	}

	tok, err := s.refreshWithRetry(ctx, cfg, prev.RefreshToken)
	if err != nil {
		return nil, s.refreshFailed(ctx, service, startEpoch, err)
	}
	if tok.AccessToken == "" {
		return nil, s.refreshFailed(ctx, service, startEpoch, &TokenExchangeError{
			Service:   service,
			Operation: "refresh",
			Err:       fmt.Errorf("response contains no access_token"),
		})
	}

	record = recordFromToken(service, tok, prev, cfg.Scopes, s.now())
	rotated := record.RefreshToken != prev.RefreshToken

	mu := s.serviceLock(service)
	mu.Lock()
	defer mu.Unlock()

	if s.epoch(service) != startEpoch {
		// revoked or re-authorized while the refresh was in flight
		return nil, fmt.Errorf("%w: %s was revoked or re-authorized during refresh", ErrNotAuthenticated, service)
	}
	if err := s.tokenStore.PutToken(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store refreshed token: %w", err)
	}

	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenRotated, rotated))
	s.Logger.Info("Token refreshed",
		"service", service,
		"rotated", rotated,
		"expires_at", record.ExpiresAt)
	if cfg.RotatesRefreshToken && !rotated {
		s.Logger.Warn("Provider did not rotate the refresh token, keeping the previous one",
			"service", service)
		s.Auditor.LogRefreshTokenNotRotated(service)
	}
	s.Auditor.LogTokenRefreshed(service, rotated)
	s.metrics.RecordTokenRefresh(ctx, service, rotated, cfg.RotatesRefreshToken)

	return record, nil
}

// refreshWithRetry retries transient failures with exponential backoff.
// Provider rejections such as invalid_grant end the retry immediately.
func (s *Server) refreshWithRetry(ctx context.Context, cfg providers.Config, refreshToken string) (*oauth2.Token, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Config.RefreshInitialInterval
	b.MaxInterval = s.Config.RefreshMaxInterval

	attempt := 0
	operation := func() (*oauth2.Token, error) {
		attempt++
		tok, err := s.exchanger.RefreshToken(ctx, cfg, refreshToken)
		if err == nil {
			return tok, nil
		}
		if !providers.IsTemporary(err) {
			return nil, backoff.Permanent(err)
		}
		s.Logger.Warn("Token refresh attempt failed",
			"service", cfg.Name,
			"attempt", attempt,
			"error", err)
		return nil, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.Config.RefreshMaxTries),
	)
}

// refreshFailed drops the record so the service degrades to
// UNAUTHENTICATED, unless it was replaced while the refresh ran.
func (s *Server) refreshFailed(ctx context.Context, service string, startEpoch uint64, cause error) error {
	s.Logger.Warn("Token refresh failed, clearing stored token",
		"service", service,
		"error", cause)
	s.Auditor.LogRefreshFailed(service, cause.Error())
	s.metrics.RecordTokenRefreshFailed(ctx, service, refreshFailureReason(cause))

	mu := s.serviceLock(service)
	mu.Lock()
	if s.epoch(service) == startEpoch {
		if err := s.tokenStore.DeleteToken(ctx, service); err != nil {
			s.Logger.Warn("Failed to delete token after refresh failure",
				"service", service,
				"error", err)
		}
	}
	mu.Unlock()

	return fmt.Errorf("%w: refresh failed: %w", ErrNotAuthenticated, cause)
}

func refreshFailureReason(err error) string {
	var exErr *TokenExchangeError
	if errors.As(err, &exErr) {
		if exErr.ErrorCode != "" {
			return exErr.ErrorCode
		}
		if exErr.StatusCode != 0 {
			return fmt.Sprintf("http_%d", exErr.StatusCode)
		}
		return "network"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "unknown"
}
