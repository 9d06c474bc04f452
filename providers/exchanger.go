package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/service-oauth/instrumentation"
)

const (
	// DefaultRequestTimeout bounds a single token endpoint round-trip
	DefaultRequestTimeout = 30 * time.Second

	// maxErrorBodySize caps how much of a revocation error body is read
	maxErrorBodySize = 64 * 1024
)

// ExchangerConfig configures an OAuth2Exchanger.
type ExchangerConfig struct {
	// HTTPClient is used for all provider calls (default: client with RequestTimeout)
	HTTPClient *http.Client

	// RequestTimeout is applied when the caller's context has no deadline
	RequestTimeout time.Duration

	// Logger is the structured logger (default: slog.Default())
	Logger *slog.Logger
}

// OAuth2Exchanger implements Exchanger on top of golang.org/x/oauth2.
type OAuth2Exchanger struct {
	httpClient     *http.Client
	requestTimeout time.Duration
	logger         *slog.Logger
	tracer         trace.Tracer
	metrics        *instrumentation.Metrics
}

var _ Exchanger = (*OAuth2Exchanger)(nil)

// NewOAuth2Exchanger creates an exchanger. A zero ExchangerConfig is valid.
func NewOAuth2Exchanger(cfg ExchangerConfig) *OAuth2Exchanger {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Copy so the caller's client is left untouched
	client := *base
	client.Transport = &acceptJSONTransport{base: base.Transport}

	return &OAuth2Exchanger{
		httpClient:     &client,
		requestTimeout: timeout,
		logger:         logger,
	}
}

// SetInstrumentation enables tracing and provider metrics
func (e *OAuth2Exchanger) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	e.tracer = inst.Tracer("provider")
	e.metrics = inst.Metrics()
}

// ensureContextTimeout adds the request timeout unless the context already has a deadline.
func (e *OAuth2Exchanger) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.requestTimeout)
}

// ExchangeCode exchanges an authorization code for tokens with optional PKCE verification.
func (e *OAuth2Exchanger) ExchangeCode(ctx context.Context, cfg Config, code, verifier string) (*oauth2.Token, error) {
	ctx, cancel := e.ensureContextTimeout(ctx)
	defer cancel()

	ctx, span := e.startSpan(ctx, cfg.Name, "exchange")
	if span != nil {
		defer span.End()
	}
	start := time.Now()

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	token, err := cfg.OAuth2Config().Exchange(ctx, code, opts...)
	if err != nil {
		exErr := newTokenExchangeError(cfg.Name, "exchange", err)
		e.record(ctx, span, cfg.Name, "exchange", exErr.StatusCode, start, exErr)
		return nil, exErr
	}

	e.record(ctx, span, cfg.Name, "exchange", http.StatusOK, start, nil)
	return token, nil
}

// RefreshToken obtains a new token pair. golang.org/x/oauth2 keeps the
// submitted refresh token when the provider does not return a new one.
func (e *OAuth2Exchanger) RefreshToken(ctx context.Context, cfg Config, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := e.ensureContextTimeout(ctx)
	defer cancel()

	ctx, span := e.startSpan(ctx, cfg.Name, "refresh")
	if span != nil {
		defer span.End()
	}
	start := time.Now()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	tokenSource := cfg.OAuth2Config().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		exErr := newTokenExchangeError(cfg.Name, "refresh", err)
		e.record(ctx, span, cfg.Name, "refresh", exErr.StatusCode, start, exErr)
		return nil, exErr
	}

	e.record(ctx, span, cfg.Name, "refresh", http.StatusOK, start, nil)
	return token, nil
}

// RevokeToken revokes a token at the provider (RFC 7009).
func (e *OAuth2Exchanger) RevokeToken(ctx context.Context, cfg Config, token string) error {
	if !cfg.SupportsRevocation() {
		return fmt.Errorf("%s does not expose a revocation endpoint", cfg.Name)
	}

	ctx, cancel := e.ensureContextTimeout(ctx)
	defer cancel()

	ctx, span := e.startSpan(ctx, cfg.Name, "revoke")
	if span != nil {
		defer span.End()
	}
	start := time.Now()

	form := url.Values{}
	form.Set("token", token)
	form.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		exErr := &TokenExchangeError{Service: cfg.Name, Operation: "revoke", Err: err}
		e.record(ctx, span, cfg.Name, "revoke", 0, start, exErr)
		return exErr
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	if exErr := revocationError(cfg.Name, resp.StatusCode, body); exErr != nil {
		e.record(ctx, span, cfg.Name, "revoke", resp.StatusCode, start, exErr)
		return exErr
	}

	e.record(ctx, span, cfg.Name, "revoke", resp.StatusCode, start, nil)
	e.logger.Debug("Token revoked at provider", "service", cfg.Name)
	return nil
}

// revocationError interprets a revocation response. Slack-style APIs answer
// 200 with {"ok": false, "error": "..."}, so the body is checked as well.
func revocationError(service string, status int, body []byte) *TokenExchangeError {
	var payload struct {
		OK               *bool  `json:"ok"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &payload)

	success := status == http.StatusOK || status == http.StatusNoContent
	if success && (payload.OK == nil || *payload.OK) {
		return nil
	}

	return &TokenExchangeError{
		Service:     service,
		Operation:   "revoke",
		StatusCode:  status,
		ErrorCode:   payload.Error,
		Description: payload.ErrorDescription,
		Body:        body,
	}
}

// newTokenExchangeError converts an x/oauth2 error into a TokenExchangeError.
func newTokenExchangeError(service, operation string, err error) *TokenExchangeError {
	exErr := &TokenExchangeError{
		Service:   service,
		Operation: operation,
		Err:       err,
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if rErr.Response != nil {
			exErr.StatusCode = rErr.Response.StatusCode
		}
		exErr.ErrorCode = rErr.ErrorCode
		exErr.Description = rErr.ErrorDescription
		exErr.Body = rErr.Body
	}

	return exErr
}

// isNetworkError reports transport-level failures where no response was received.
func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func (e *OAuth2Exchanger) startSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, nil
	}
	ctx, span := e.tracer.Start(ctx, "oauth.provider."+operation)
	instrumentation.AddProviderAttributes(span, service, operation)
	return ctx, span
}

func (e *OAuth2Exchanger) record(ctx context.Context, span trace.Span, service, operation string, status int, start time.Time, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	e.metrics.RecordProviderAPICall(ctx, service, operation, status, durationMs, err)

	instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrProviderStatus, status))
	if err != nil {
		instrumentation.RecordError(span, err)
		return
	}
	instrumentation.SetSpanSuccess(span)
}

// acceptJSONTransport asks token endpoints for JSON. Some providers answer
// form-encoded bodies otherwise.
type acceptJSONTransport struct {
	base http.RoundTripper
}

func (t *acceptJSONTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if r.Header.Get("Accept") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("Accept", "application/json")
	}
	return base.RoundTrip(r)
}
