package oauth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/service-oauth/internal/testutil"
	"github.com/giantswarm/service-oauth/providers"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/server"
)

const testRedirectBase = "http://localhost:8000/oauth/callback"

type handlerEnv struct {
	svc      *Service
	routes   http.Handler
	endpoint *testutil.TokenEndpoint
}

func newHandlerEnv(t *testing.T, rateLimit int) *handlerEnv {
	t.Helper()

	endpoint := testutil.NewTokenEndpoint(t)
	cfg := &Config{
		RedirectURI: testRedirectBase,
		Storage:     StorageConfig{Backend: StorageMemory},
		RateLimit:   RateLimitConfig{Rate: rateLimit, Burst: rateLimit},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	registry, err := providers.NewRegistry(providers.Config{
		Name:         "demo",
		AuthURL:      endpoint.AuthURL(),
		TokenURL:     endpoint.TokenURL(),
		RevokeURL:    endpoint.RevokeURL(),
		Scopes:       []string{"read"},
		PKCERequired: true,
		ClientID:     "demo-client",
		ClientSecret: "demo-secret",
		RedirectURL:  providers.RedirectURLFor(testRedirectBase, "demo"),
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	exchanger := providers.NewOAuth2Exchanger(providers.ExchangerConfig{HTTPClient: endpoint.Server.Client()})
	svc, err := NewWithRegistry(cfg, registry, exchanger)
	if err != nil {
		t.Fatalf("NewWithRegistry() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	return &handlerEnv{
		svc:      svc,
		routes:   svc.Handler.Routes(),
		endpoint: endpoint,
	}
}

// authorize starts a flow over HTTP and returns the state from the provider URL
func (e *handlerEnv) authorize(t *testing.T, path string) string {
	t.Helper()

	rr := testutil.NewHTTPRequest(http.MethodGet, path).Do(e.routes)
	if rr.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, body = %s", rr.Code, rr.Body.String())
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("authorization URL has no state")
	}
	return state
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestHandler_Authorization(t *testing.T) {
	env := newHandlerEnv(t, 0)

	rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/authorize/demo").Do(env.routes)
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusFound)
	}

	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(loc.String(), env.endpoint.AuthURL()) {
		t.Errorf("Location = %q, want provider auth URL", loc)
	}

	q := loc.Query()
	checks := map[string]string{
		"response_type":         "code",
		"client_id":             "demo-client",
		"redirect_uri":          testRedirectBase + "/demo",
		"scope":                 "read",
		"code_challenge_method": "S256",
	}
	for key, want := range checks {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if q.Get("code_challenge") == "" {
		t.Error("code_challenge missing")
	}
	if q.Get("code_verifier") != "" {
		t.Error("code_verifier must never appear in the authorization URL")
	}

	if rr.Header().Get(security.RequestIDHeader) == "" {
		t.Error("X-Request-ID not set")
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", rr.Header().Get("Cache-Control"))
	}
}

func TestHandler_Authorization_Errors(t *testing.T) {
	env := newHandlerEnv(t, 0)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"unknown service", "/oauth/authorize/nope", http.StatusNotFound, ErrorCodeUnknownService},
		{"absolute continuation", "/oauth/authorize/demo?next=https://evil.example.com/", http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"protocol-relative continuation", "/oauth/authorize/demo?next=//evil.example.com/", http.StatusBadRequest, ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := testutil.NewHTTPRequest(http.MethodGet, tt.path).Do(env.routes)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := decodeError(t, rr.Body); got.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", got.Error, tt.wantCode)
			}
		})
	}
}

func TestHandler_Callback_JSON(t *testing.T) {
	env := newHandlerEnv(t, 0)
	state := env.authorize(t, "/oauth/authorize/demo")

	rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?code=auth-code-123&state="+url.QueryEscape(state)).
		WithHeader("Accept", "application/json").
		Do(env.routes)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp CallbackResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Service != "demo" || resp.State != server.StateAuthenticated {
		t.Errorf("response = %+v", resp)
	}
	if !resp.HasRefreshToken {
		t.Error("HasRefreshToken = false, want true")
	}
	if strings.Contains(rr.Body.String(), "stub-access-token") {
		t.Error("callback response must not contain the access token")
	}

	if form := env.endpoint.LastForm(testutil.CallAuthorizationCode); form.Get("code") != "auth-code-123" {
		t.Errorf("code sent to provider = %q", form.Get("code"))
	}
	if !env.svc.Server.IsAuthenticated(t.Context(), "demo") {
		t.Error("service should be authenticated after the callback")
	}
}

func TestHandler_Callback_Continuation(t *testing.T) {
	env := newHandlerEnv(t, 0)
	state := env.authorize(t, "/oauth/authorize/demo?next=/dashboard")

	rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?code=c&state="+url.QueryEscape(state)).Do(env.routes)
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != "/dashboard?auth_success=demo" {
		t.Errorf("Location = %q, want /dashboard?auth_success=demo", got)
	}
}

func TestHandler_Callback_HTMLPage(t *testing.T) {
	env := newHandlerEnv(t, 0)
	state := env.authorize(t, "/oauth/authorize/demo")

	rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?code=c&state="+url.QueryEscape(state)).
		WithHeader("Accept", "text/html,application/xhtml+xml").
		Do(env.routes)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "Authorization Successful") {
		t.Error("success page not rendered")
	}
	if csp := rr.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "style-src") {
		t.Errorf("Content-Security-Policy = %q, want page policy", csp)
	}
}

func TestHandler_Callback_Errors(t *testing.T) {
	env := newHandlerEnv(t, 0)

	t.Run("provider error", func(t *testing.T) {
		rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?error=access_denied&state=x").Do(env.routes)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rr.Code)
		}
		got := decodeError(t, rr.Body)
		if got.Error != "access_denied" {
			t.Errorf("error = %q", got.Error)
		}
		if !strings.Contains(got.ErrorDescription, "Authentication failed for demo") {
			t.Errorf("error_description = %q", got.ErrorDescription)
		}
	})

	t.Run("provider error as page", func(t *testing.T) {
		rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?error=access_denied").
			WithHeader("Accept", "text/html").
			Do(env.routes)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Authorization Failed") {
			t.Error("failure page not rendered")
		}
	})

	t.Run("missing code", func(t *testing.T) {
		rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?state=abc").Do(env.routes)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rr.Code)
		}
		if got := decodeError(t, rr.Body); got.Error != ErrorCodeInvalidRequest {
			t.Errorf("error = %q", got.Error)
		}
	})

	t.Run("unknown state", func(t *testing.T) {
		rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?code=c&state=never-issued").Do(env.routes)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rr.Code)
		}
		if env.endpoint.Calls(testutil.CallAuthorizationCode) != 0 {
			t.Error("no exchange should happen for an unknown state")
		}
	})

	t.Run("replayed state", func(t *testing.T) {
		state := env.authorize(t, "/oauth/authorize/demo")
		path := "/oauth/callback/demo?code=c&state=" + url.QueryEscape(state)

		if rr := testutil.NewHTTPRequest(http.MethodGet, path).Do(env.routes); rr.Code != http.StatusOK {
			t.Fatalf("first callback status = %d", rr.Code)
		}
		rr := testutil.NewHTTPRequest(http.MethodGet, path).Do(env.routes)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("replay status = %d, want %d", rr.Code, http.StatusBadRequest)
		}
		if got := decodeError(t, rr.Body); got.Error != ErrorCodeInvalidRequest {
			t.Errorf("error = %q", got.Error)
		}
	})

	t.Run("provider rejects code", func(t *testing.T) {
		env.endpoint.SetResponse(testutil.CallAuthorizationCode, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "code expired",
		})
		state := env.authorize(t, "/oauth/authorize/demo")

		rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?code=c&state="+url.QueryEscape(state)).Do(env.routes)
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
		}
		got := decodeError(t, rr.Body)
		if got.Error != "invalid_grant" || got.ErrorDescription != "code expired" {
			t.Errorf("error = %+v", got)
		}
	})
}

func TestHandler_Revoke(t *testing.T) {
	env := newHandlerEnv(t, 0)
	state := env.authorize(t, "/oauth/authorize/demo")
	if rr := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?code=c&state="+url.QueryEscape(state)).Do(env.routes); rr.Code != http.StatusOK {
		t.Fatalf("callback status = %d", rr.Code)
	}

	rr := testutil.NewHTTPRequest(http.MethodPost, "/oauth/revoke/demo").Do(env.routes)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp RevokeResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != server.StateRevoked {
		t.Errorf("State = %q, want %q", resp.State, server.StateRevoked)
	}

	if env.endpoint.Calls(testutil.CallRevoke) != 1 {
		t.Errorf("revoke calls = %d, want 1", env.endpoint.Calls(testutil.CallRevoke))
	}
	if got := env.endpoint.LastForm(testutil.CallRevoke).Get("token"); got != "stub-refresh-token" {
		t.Errorf("revoked token = %q, want the refresh token", got)
	}

	st, err := env.svc.Server.State(t.Context(), "demo")
	if err != nil || st != server.StateRevoked {
		t.Errorf("State() = %q, %v; want REVOKED", st, err)
	}
}

func TestHandler_Revoke_Continuation(t *testing.T) {
	env := newHandlerEnv(t, 0)

	rr := testutil.NewHTTPRequest(http.MethodPost, "/oauth/revoke/demo?next=/").Do(env.routes)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "/?revoked=demo" {
		t.Errorf("Location = %q, want /?revoked=demo", got)
	}
}

func TestHandler_Revoke_FormContinuation(t *testing.T) {
	env := newHandlerEnv(t, 0)

	rr := testutil.NewHTTPRequest(http.MethodPost, "/oauth/revoke/demo").
		WithBody("next=/settings").
		Do(env.routes)
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	testutil.AssertStringContains(t, rr.Header().Get("Location"), "/settings?revoked=demo")
}

func TestHandler_Revoke_Errors(t *testing.T) {
	env := newHandlerEnv(t, 0)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"unknown service", http.MethodPost, "/oauth/revoke/nope", http.StatusNotFound},
		{"GET not allowed", http.MethodGet, "/oauth/revoke/demo", http.StatusMethodNotAllowed},
		{"absolute continuation", http.MethodPost, "/oauth/revoke/demo?next=https://evil.example.com", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := testutil.NewHTTPRequest(tt.method, tt.path).Do(env.routes)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandler_Status(t *testing.T) {
	env := newHandlerEnv(t, 0)

	readStatus := func() StatusResponse {
		t.Helper()
		rr := testutil.NewHTTPRequest(http.MethodGet, "/api/status").Do(env.routes)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var resp StatusResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		return resp
	}

	before := readStatus()
	if before.Total != 1 || before.Authenticated != 0 {
		t.Fatalf("before = %+v", before)
	}
	if before.Services[0].State != server.StateUnauthenticated {
		t.Errorf("State = %q, want UNAUTHENTICATED", before.Services[0].State)
	}
	if !before.Services[0].SupportsRevocation {
		t.Error("SupportsRevocation = false, want true")
	}

	state := env.authorize(t, "/oauth/authorize/demo")
	testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?code=c&state="+url.QueryEscape(state)).Do(env.routes)

	after := readStatus()
	if after.Authenticated != 1 {
		t.Errorf("Authenticated = %d, want 1", after.Authenticated)
	}
	if after.Services[0].State != server.StateAuthenticated {
		t.Errorf("State = %q, want AUTHENTICATED", after.Services[0].State)
	}
}

func TestHandler_AuthURLs(t *testing.T) {
	env := newHandlerEnv(t, 0)

	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/auth-urls").Do(env.routes)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp AuthURLsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	demoURL, ok := resp.URLs["demo"]
	if !ok {
		t.Fatalf("URLs = %v, want demo", resp.URLs)
	}

	u, err := url.Parse(demoURL)
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatal("auth URL has no state")
	}

	// the issued state completes a flow like any other
	cb := testutil.NewHTTPRequest(http.MethodGet, "/oauth/callback/demo?code=c&state="+url.QueryEscape(state)).Do(env.routes)
	if cb.Code != http.StatusOK {
		t.Errorf("callback status = %d", cb.Code)
	}
}

func TestHandler_RateLimit(t *testing.T) {
	env := newHandlerEnv(t, 1)

	first := testutil.NewHTTPRequest(http.MethodGet, "/api/status").WithRemoteAddr("203.0.113.7:4000").Do(env.routes)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}

	second := testutil.NewHTTPRequest(http.MethodGet, "/api/status").WithRemoteAddr("203.0.113.7:4001").Do(env.routes)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set")
	}
	if got := decodeError(t, second.Body); got.Error != ErrorCodeRateLimitExceeded {
		t.Errorf("error = %q", got.Error)
	}

	other := testutil.NewHTTPRequest(http.MethodGet, "/api/status").WithRemoteAddr("203.0.113.8:4000").Do(env.routes)
	if other.Code != http.StatusOK {
		t.Errorf("other client status = %d, want %d", other.Code, http.StatusOK)
	}
}

func TestHandler_RequestID(t *testing.T) {
	env := newHandlerEnv(t, 0)

	rr := testutil.NewHTTPRequest(http.MethodGet, "/api/status").
		WithHeader(security.RequestIDHeader, "upstream-id-123").
		Do(env.routes)
	if got := rr.Header().Get(security.RequestIDHeader); got != "upstream-id-123" {
		t.Errorf("X-Request-ID = %q, want upstream-id-123", got)
	}
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/dashboard", true},
		{"/dashboard?tab=services", true},
		{"", false},
		{"dashboard", false},
		{"//evil.example.com", false},
		{"/\\evil.example.com", false},
		{"https://evil.example.com/", false},
		{"javascript:alert(1)", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := isLocalPath(tt.path); got != tt.want {
				t.Errorf("isLocalPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestWithQueryParam(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/", "/?auth_success=demo"},
		{"/dashboard?tab=a", "/dashboard?auth_success=demo&tab=a"},
	}

	for _, tt := range tests {
		if got := withQueryParam(tt.target, "auth_success", "demo"); got != tt.want {
			t.Errorf("withQueryParam(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
