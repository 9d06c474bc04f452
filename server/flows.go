package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/service-oauth/internal/util"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/storage"
)

// CompleteFlow handles the provider callback for service. The state is
// consumed before anything else so it can never be replayed, even when the
// exchange fails. It returns the stored record and the continuation URL the
// flow was started with.
func (s *Server) CompleteFlow(ctx context.Context, service, code, state string) (record *storage.TokenRecord, continuation string, err error) {
	ctx, span := s.startSpan(ctx, "complete_flow", service)
	defer func() { endSpan(span, err) }()

	if state == "" {
		s.rejectState(ctx, service, state, "missing")
		return nil, "", fmt.Errorf("%w: missing state", ErrInvalidState)
	}

	flow, err := s.flowStore.ConsumeFlow(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrFlowNotFound) {
			s.rejectState(ctx, service, state, "unknown_or_expired")
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		return nil, "", fmt.Errorf("failed to consume authorization flow: %w", err)
	}

	if flow.Service != service {
		s.rejectState(ctx, service, state, "service_mismatch")
		return nil, "", fmt.Errorf("%w: issued for %q", ErrServiceMismatch, flow.Service)
	}

	cfg, err := s.provider(service)
	if err != nil {
		return nil, "", err
	}

	if code == "" {
		s.metrics.RecordFlowCompleted(ctx, service, false)
		return nil, "", fmt.Errorf("authorization code is required")
	}
	if cfg.PKCERequired {
		if err := security.ValidateVerifier(flow.CodeVerifier); err != nil {
			s.metrics.RecordFlowCompleted(ctx, service, false)
			return nil, "", fmt.Errorf("stored flow for %s is unusable: %w", service, err)
		}
	}

	tok, err := s.exchanger.ExchangeCode(ctx, cfg, code, flow.CodeVerifier)
	if err != nil {
		s.Logger.Warn("Failed to exchange authorization code",
			"service", service,
			"error", err)
		s.Auditor.LogCodeExchangeFailed(service, err.Error())
		s.metrics.RecordFlowCompleted(ctx, service, false)
		return nil, "", err
	}
	if tok.AccessToken == "" {
		s.metrics.RecordFlowCompleted(ctx, service, false)
		return nil, "", &TokenExchangeError{
			Service:   service,
			Operation: "exchange",
			Err:       fmt.Errorf("response contains no access_token"),
		}
	}

	record = recordFromToken(service, tok, nil, cfg.Scopes, s.now())

	mu := s.serviceLock(service)
	mu.Lock()
	err = s.tokenStore.PutToken(ctx, record)
	if err == nil {
		s.markAuthenticated(service)
	}
	mu.Unlock()
	if err != nil {
		s.metrics.RecordFlowCompleted(ctx, service, false)
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}

	s.Logger.Info("Authorization flow completed",
		"service", service,
		"has_refresh_token", record.HasRefreshToken(),
		"expires_at", record.ExpiresAt)
	s.Auditor.LogFlowCompleted(service, strings.Join(record.Scopes, " "))
	s.metrics.RecordCodeExchange(ctx, service, flow.CodeVerifier != "")
	s.metrics.RecordFlowCompleted(ctx, service, true)

	return record.Clone(), flow.Continuation, nil
}

func (s *Server) rejectState(ctx context.Context, service, state, reason string) {
	s.Logger.Warn("Rejected authorization callback",
		"service", service,
		"reason", reason,
		"state_prefix", util.SafeTruncate(state, stateLogLength))
	s.Auditor.LogInvalidState(service, "", state, reason)
	s.metrics.RecordStateRejected(ctx)
	s.metrics.RecordFlowCompleted(ctx, service, false)
}
