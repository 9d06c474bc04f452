package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/service-oauth/storage"
)

// Revoke signs service out. When the provider has a revocation endpoint
// the refresh token (or, lacking one, the access token) is revoked there
// first; a failure is logged and does not stop the local delete. The
// service is REVOKED afterwards even if it held no token.
func (s *Server) Revoke(ctx context.Context, service string) (err error) {
	ctx, span := s.startSpan(ctx, "revoke", service)
	defer func() { endSpan(span, err) }()

	cfg, err := s.provider(service)
	if err != nil {
		return err
	}

	rec, err := s.tokenStore.GetToken(ctx, service)
	if err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		s.Logger.Warn("Failed to load token before revocation", "service", service, "error", err)
	}

	remote := false
	if rec != nil && cfg.SupportsRevocation() {
		token := rec.RefreshToken
		if token == "" {
			token = rec.AccessToken
		}

		revokeCtx, cancel := context.WithTimeout(ctx, s.Config.RevokeTimeout)
		remoteErr := s.exchanger.RevokeToken(revokeCtx, cfg, token)
		cancel()

		if remoteErr != nil {
			s.Logger.Warn("Failed to revoke token at provider",
				"service", service,
				"error", remoteErr)
			s.Auditor.LogRemoteRevocationFailed(service, remoteErr.Error())
		} else {
			remote = true
		}
	}

	mu := s.serviceLock(service)
	mu.Lock()
	err = s.tokenStore.DeleteToken(ctx, service)
	if err == nil {
		s.markRevoked(service)
	}
	mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	s.Logger.Info("Token revoked", "service", service, "remote", remote)
	s.Auditor.LogTokenRevoked(service, remote)
	s.metrics.RecordTokenRevocation(ctx, service, remote)

	return nil
}
