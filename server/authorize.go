package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/giantswarm/service-oauth/instrumentation"
	"github.com/giantswarm/service-oauth/internal/util"
	"github.com/giantswarm/service-oauth/providers"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/storage"
)

// maxStateAttempts bounds state regeneration on collision
const maxStateAttempts = 3

// AuthorizeOption customizes an authorization request
type AuthorizeOption func(*authorizeOptions)

type authorizeOptions struct {
	continuation string
}

// WithContinuation stores a URL to send the user to once the flow completes.
// It must be an absolute http(s) URL or an absolute path.
func WithContinuation(continuation string) AuthorizeOption {
	return func(o *authorizeOptions) {
		o.continuation = continuation
	}
}

// GetAuthorizationURL starts an authorization flow for service. It returns
// the provider URL to send the user to and the state bound to the flow.
// The PKCE verifier is kept in the flow store and never leaves the server.
func (s *Server) GetAuthorizationURL(ctx context.Context, service string, opts ...AuthorizeOption) (authURL, state string, err error) {
	ctx, span := s.startSpan(ctx, "authorize", service)
	defer func() { endSpan(span, err) }()

	cfg, err := s.provider(service)
	if err != nil {
		return "", "", err
	}

	var o authorizeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := validateContinuation(o.continuation); err != nil {
		return "", "", err
	}

	var verifier, challenge string
	if cfg.PKCERequired {
		verifier, challenge = security.GeneratePKCE()
		instrumentation.AddPKCEAttributes(span, providers.PKCEMethodS256)
	}

	now := s.now()
	for attempt := 1; ; attempt++ {
		state = security.GenerateState()
		err = s.flowStore.SaveFlow(ctx, &storage.PendingFlow{
			State:        state,
			Service:      service,
			CodeVerifier: verifier,
			Continuation: o.continuation,
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.Config.FlowTTL),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrFlowExists) || attempt >= maxStateAttempts {
			return "", "", fmt.Errorf("failed to save authorization flow: %w", err)
		}
		s.Logger.Warn("State collision, regenerating", "service", service, "attempt", attempt)
	}

	authURL = buildAuthURL(cfg, state, challenge)

	s.Logger.Info("Authorization flow started",
		"service", service,
		"pkce", cfg.PKCERequired,
		"state_prefix", util.SafeTruncate(state, stateLogLength))
	s.Auditor.LogFlowStarted(service, state, cfg.PKCERequired)
	s.metrics.RecordAuthorizationStarted(ctx, service)

	return authURL, state, nil
}

// buildAuthURL composes the authorization request. Scopes are passed as a
// raw parameter because oauth2.Config always joins them with spaces.
func buildAuthURL(cfg providers.Config, state, challenge string) string {
	var params []oauth2.AuthCodeOption
	if len(cfg.Scopes) > 0 {
		params = append(params, oauth2.SetAuthURLParam("scope", cfg.ScopeString()))
	}
	if challenge != "" {
		params = append(params,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", providers.PKCEMethodS256),
		)
	}
	return cfg.OAuth2Config().AuthCodeURL(state, params...)
}

func validateContinuation(continuation string) error {
	if continuation == "" {
		return nil
	}
	u, err := url.Parse(continuation)
	if err != nil {
		return fmt.Errorf("invalid continuation URL: %w", err)
	}
	switch {
	case u.Scheme == "" && u.Host == "" && len(u.Path) > 0 && u.Path[0] == '/':
		return nil
	case (u.Scheme == "http" || u.Scheme == "https") && u.Host != "":
		return nil
	}
	return fmt.Errorf("invalid continuation URL: must be an absolute http(s) URL or path")
}
