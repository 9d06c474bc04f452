package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/service-oauth/instrumentation"
	"github.com/giantswarm/service-oauth/internal/util"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/server"
)

const (
	// ContinuationParam names the query parameter carrying the local path to
	// return to once a flow completes or a service is revoked
	ContinuationParam = "next"

	// maxProviderErrorLength bounds provider error strings echoed back to clients
	maxProviderErrorLength = 128

	// retryAfterSeconds is sent with 429 responses
	retryAfterSeconds = "60"

	// maxFormBytes bounds the revocation form body
	maxFormBytes = 4 << 10
)

// Handler serves the HTTP surface of the service: starting flows,
// receiving provider callbacks, revocation and status.
type Handler struct {
	server       *server.Server
	logger       *slog.Logger
	rateLimiter  *security.RateLimiter
	ipResolver   security.ClientIPResolver
	tracer       trace.Tracer
	metrics      *instrumentation.Metrics
	logClientIPs bool
}

// NewHandler creates a new HTTP handler for srv
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		server: srv,
		logger: logger,
	}
}

// SetRateLimiter enables per-IP rate limiting. Nil disables it.
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	h.rateLimiter = rl
}

// SetClientIPResolver configures how client addresses are determined
func (h *Handler) SetClientIPResolver(resolver security.ClientIPResolver) {
	h.ipResolver = resolver
}

// SetInstrumentation enables HTTP spans and metrics
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	h.tracer = inst.Tracer("http")
	h.metrics = inst.Metrics()
	h.logClientIPs = inst.ShouldLogClientIPs()
}

// Routes returns a mux with every endpoint registered, wrapped with request IDs.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/authorize/{service}", h.ServeAuthorization)
	mux.HandleFunc("GET /oauth/callback/{service}", h.ServeCallback)
	mux.HandleFunc("POST /oauth/revoke/{service}", h.ServeRevoke)
	mux.HandleFunc("GET /api/status", h.ServeStatus)
	mux.HandleFunc("GET /api/auth-urls", h.ServeAuthURLs)
	return security.RequestIDMiddleware(mux)
}

// ServeAuthorization starts a flow and redirects the browser to the provider.
// An optional "next" parameter names a local path to return to afterwards.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r, "authorization")
	if span != nil {
		defer span.End()
	}

	service := r.PathValue("service")
	instrumentation.AddServiceAttributes(span, service, "")

	if h.checkRateLimit(w, r, "authorization") {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	var opts []server.AuthorizeOption
	if next := r.URL.Query().Get(ContinuationParam); next != "" {
		if !isLocalPath(next) {
			h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusBadRequest, startTime)
			instrumentation.SetSpanError(span, "invalid continuation")
			h.writeError(w, r, ErrInvalidRequest("next must be a local path"))
			return
		}
		opts = append(opts, server.WithContinuation(next))
	}

	authURL, _, err := h.server.GetAuthorizationURL(ctx, service, opts...)
	if err != nil {
		oauthErr := ErrorFromServer(err)
		h.logFailure(ctx, "Failed to start authorization flow", service, oauthErr, err)
		h.recordHTTPMetrics(ctx, "authorization", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, r, oauthErr)
		return
	}

	h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, security.IsHTTPS(r, h.ipResolver.TrustProxy))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback handles the provider redirect for a service
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r, "callback")
	if span != nil {
		defer span.End()
	}

	service := r.PathValue("service")
	instrumentation.AddServiceAttributes(span, service, "")

	if h.checkRateLimit(w, r, "callback") {
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	query := r.URL.Query()

	// The user declined, or the provider refused to issue a code
	if errorParam := query.Get("error"); errorParam != "" {
		errorParam = util.SafeTruncate(errorParam, maxProviderErrorLength)
		desc := util.SafeTruncate(query.Get("error_description"), maxProviderErrorLength)
		h.logger.Warn("Provider returned error",
			"service", service,
			"error", errorParam,
			"description", desc)
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, errorParam))
		instrumentation.SetSpanError(span, "provider returned error")
		h.writeCallbackError(w, r, service, NewOAuthError(errorParam, "Authentication failed for "+service+": "+errorParam, http.StatusBadRequest))
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "missing state or code")
		h.writeCallbackError(w, r, service, ErrInvalidRequest("state and code are required"))
		return
	}

	record, continuation, err := h.server.CompleteFlow(ctx, service, code, state)
	if err != nil {
		oauthErr := ErrorFromServer(err)
		h.logFailure(ctx, "Failed to complete authorization flow", service, oauthErr, err)
		h.recordHTTPMetrics(ctx, "callback", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeCallbackError(w, r, service, oauthErr)
		return
	}

	instrumentation.SetSpanSuccess(span)
	https := security.IsHTTPS(r, h.ipResolver.TrustProxy)

	if continuation != "" {
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusFound, startTime)
		security.SetSecurityHeaders(w, https)
		http.Redirect(w, r, withQueryParam(continuation, "auth_success", service), http.StatusFound)
		return
	}

	if acceptsHTML(r) {
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusOK, startTime)
		h.serveResultPage(w, https, http.StatusOK, resultPageData{
			Title:   "Authorization Successful",
			Service: service,
			Message: "You can close this window and return to the application.",
			Success: true,
		})
		return
	}

	h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, r, http.StatusOK, CallbackResponse{
		Service:         service,
		State:           server.StateAuthenticated,
		ExpiresAt:       record.ExpiresAt,
		Scopes:          record.Scopes,
		HasRefreshToken: record.HasRefreshToken(),
	})
}

// ServeRevoke signs a service out. The local token is always removed;
// provider-side revocation is best effort.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r, "revoke")
	if span != nil {
		defer span.End()
	}

	service := r.PathValue("service")
	instrumentation.AddServiceAttributes(span, service, "")

	if h.checkRateLimit(w, r, "revoke") {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	// next may arrive in the query or in a submitted form
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	next := r.FormValue(ContinuationParam)
	if next != "" && !isLocalPath(next) {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, r, ErrInvalidRequest("next must be a local path"))
		return
	}

	if err := h.server.Revoke(ctx, service); err != nil {
		oauthErr := ErrorFromServer(err)
		h.logFailure(ctx, "Failed to revoke service", service, oauthErr, err)
		h.recordHTTPMetrics(ctx, "revoke", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, r, oauthErr)
		return
	}

	instrumentation.SetSpanSuccess(span)

	if next != "" {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusSeeOther, startTime)
		security.SetSecurityHeaders(w, security.IsHTTPS(r, h.ipResolver.TrustProxy))
		http.Redirect(w, r, withQueryParam(next, "revoked", service), http.StatusSeeOther)
		return
	}

	h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, r, http.StatusOK, RevokeResponse{Service: service, State: server.StateRevoked})
}

// ServeStatus reports the lifecycle state of every configured service
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r, "status")
	if span != nil {
		defer span.End()
	}

	if h.checkRateLimit(w, r, "status") {
		h.recordHTTPMetrics(ctx, "status", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	statuses, err := h.server.Status(ctx)
	if err != nil {
		oauthErr := ErrorFromServer(err)
		h.logFailure(ctx, "Failed to read service status", "", oauthErr, err)
		h.recordHTTPMetrics(ctx, "status", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, r, oauthErr)
		return
	}

	resp := StatusResponse{
		Services:  statuses,
		Total:     len(statuses),
		Timestamp: time.Now().UTC(),
	}
	for _, st := range statuses {
		if st.Authenticated {
			resp.Authenticated++
		}
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "status", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, r, http.StatusOK, resp)
}

// ServeAuthURLs issues a fresh authorization URL for every configured service.
// A service whose flow cannot be started is logged and left out.
func (h *Handler) ServeAuthURLs(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r, "auth_urls")
	if span != nil {
		defer span.End()
	}

	if h.checkRateLimit(w, r, "auth_urls") {
		h.recordHTTPMetrics(ctx, "auth_urls", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	resp := AuthURLsResponse{URLs: make(map[string]string)}
	for _, service := range h.server.Registry().Services() {
		authURL, _, err := h.server.GetAuthorizationURL(ctx, service)
		if err != nil {
			h.logger.Error("Failed to build authorization URL", "service", service, "error", err)
			continue
		}
		resp.URLs[service] = authURL
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "auth_urls", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, r, http.StatusOK, resp)
}

// startSpan starts an HTTP span when tracing is enabled. The returned span is
// nil otherwise; the instrumentation helpers accept nil.
func (h *Handler) startSpan(r *http.Request, endpoint string) (context.Context, trace.Span) {
	ctx := r.Context()
	if h.tracer == nil {
		return ctx, nil
	}
	ctx, span := h.tracer.Start(ctx, "oauth.http."+endpoint)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrHTTPMethod, r.Method),
		attribute.String(instrumentation.AttrHTTPEndpoint, endpoint),
	)
	if h.logClientIPs {
		instrumentation.AddSecurityAttributes(span, h.ipResolver.ClientIP(r))
	}
	return ctx, span
}

// checkRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.rateLimiter == nil {
		return false
	}
	clientIP := h.ipResolver.ClientIP(r)
	if h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.metrics.RecordRateLimitExceeded(r.Context(), "ip")
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)

	w.Header().Set("Retry-After", retryAfterSeconds)
	h.writeError(w, r, NewOAuthError(ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
	return true
}

// logFailure logs server-side failures at error level and client mistakes at warn
func (h *Handler) logFailure(ctx context.Context, msg, service string, oauthErr *OAuthError, err error) {
	level := slog.LevelWarn
	if oauthErr.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"service", service,
		"status", oauthErr.Status,
		"request_id", security.GetRequestID(ctx),
		"error", err)
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	duration := time.Since(startTime).Seconds() * 1000
	h.metrics.RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, oauthErr *OAuthError) {
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+oauthErr.Code+`"`)
	}
	h.writeJSON(w, r, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// writeCallbackError shows browsers a result page and gives API clients JSON
func (h *Handler) writeCallbackError(w http.ResponseWriter, r *http.Request, service string, oauthErr *OAuthError) {
	if !acceptsHTML(r) {
		h.writeError(w, r, oauthErr)
		return
	}
	h.serveResultPage(w, security.IsHTTPS(r, h.ipResolver.TrustProxy), oauthErr.Status, resultPageData{
		Title:   "Authorization Failed",
		Service: service,
		Message: oauthErr.Description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	security.SetSecurityHeaders(w, security.IsHTTPS(r, h.ipResolver.TrustProxy))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// resultPageTemplate is shown after a callback when the flow has no
// continuation and the client is a browser.
const resultPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f4f6f8;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            margin: 0;
            color: #1a1a2e;
        }
        .container {
            text-align: center;
            padding: 2rem;
            max-width: 480px;
            background: #fff;
            border-radius: 8px;
            box-shadow: 0 2px 12px rgba(0, 0, 0, 0.08);
        }
        h1 { font-size: 1.5rem; margin-bottom: 0.75rem; }
        .ok { color: #00a855; }
        .fail { color: #c0392b; }
        .service { font-weight: 600; }
    </style>
</head>
<body>
    <div class="container">
        <h1 class="{{if .Success}}ok{{else}}fail{{end}}">{{.Title}}</h1>
        <p><span class="service">{{.Service}}</span></p>
        <p>{{.Message}}</p>
    </div>
</body>
</html>`

var resultPageTmpl = template.Must(template.New("result").Parse(resultPageTemplate))

type resultPageData struct {
	Title   string
	Service string
	Message string
	Success bool
}

func (h *Handler) serveResultPage(w http.ResponseWriter, https bool, status int, data resultPageData) {
	var buf bytes.Buffer
	if err := resultPageTmpl.Execute(&buf, data); err != nil {
		h.logger.Error("Failed to render result page", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	security.SetPageSecurityHeaders(w, https)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// acceptsHTML reports whether the client prefers an HTML page over JSON
func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}

// isLocalPath accepts absolute paths on this host and nothing that a
// browser would resolve to another origin.
func isLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// withQueryParam appends key=value to a continuation URL
func withQueryParam(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
