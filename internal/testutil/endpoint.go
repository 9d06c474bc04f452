package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// Grant and endpoint names used as TokenEndpoint call-count keys
const (
	CallAuthorizationCode = "authorization_code"
	CallRefreshToken      = "refresh_token"
	CallRevoke            = "revoke"
)

// StubResponse is a canned reply from TokenEndpoint
type StubResponse struct {
	Status int
	Body   any
}

// TokenEndpoint is a stub OAuth2 provider serving /token and /revoke.
// By default the token endpoint answers every grant with a fresh bearer
// token valid for an hour, and /revoke answers 200.
type TokenEndpoint struct {
	Server *httptest.Server

	mu        sync.Mutex
	responses map[string]StubResponse
	delays    map[string]time.Duration
	calls     map[string]int
	forms     map[string]url.Values
	headers   map[string]http.Header
}

// NewTokenEndpoint starts a stub provider. It is closed when the test ends.
func NewTokenEndpoint(t *testing.T) *TokenEndpoint {
	t.Helper()

	e := &TokenEndpoint{
		responses: map[string]StubResponse{
			CallAuthorizationCode: {Status: http.StatusOK, Body: map[string]any{
				"access_token":  "stub-access-token",
				"refresh_token": "stub-refresh-token",
				"token_type":    "Bearer",
				"expires_in":    3600,
			}},
			CallRefreshToken: {Status: http.StatusOK, Body: map[string]any{
				"access_token": "stub-refreshed-access-token",
				"token_type":   "Bearer",
				"expires_in":   3600,
			}},
			CallRevoke: {Status: http.StatusOK},
		},
		delays:  make(map[string]time.Duration),
		calls:   make(map[string]int),
		forms:   make(map[string]url.Values),
		headers: make(map[string]http.Header),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		e.serve(w, r, r.PostForm.Get("grant_type"))
	})
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		e.serve(w, r, CallRevoke)
	})

	e.Server = httptest.NewServer(mux)
	t.Cleanup(e.Server.Close)
	return e
}

func (e *TokenEndpoint) serve(w http.ResponseWriter, r *http.Request, key string) {
	e.mu.Lock()
	e.calls[key]++
	e.forms[key] = r.PostForm
	e.headers[key] = r.Header.Clone()
	resp, ok := e.responses[key]
	delay := e.delays[key]
	e.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		return
	}

	if resp.Body == nil {
		w.WriteHeader(resp.Status)
		return
	}
	if raw, isRaw := resp.Body.(string); isRaw {
		w.WriteHeader(resp.Status)
		_, _ = w.Write([]byte(raw))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_ = json.NewEncoder(w).Encode(resp.Body)
}

// AuthURL returns the stub's authorization endpoint (never called by the engine)
func (e *TokenEndpoint) AuthURL() string { return e.Server.URL + "/authorize" }

// TokenURL returns the stub's token endpoint
func (e *TokenEndpoint) TokenURL() string { return e.Server.URL + "/token" }

// RevokeURL returns the stub's revocation endpoint
func (e *TokenEndpoint) RevokeURL() string { return e.Server.URL + "/revoke" }

// SetResponse replaces the reply for a grant or for CallRevoke.
// A string body is written verbatim; any other body is JSON-encoded.
func (e *TokenEndpoint) SetResponse(key string, status int, body any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses[key] = StubResponse{Status: status, Body: body}
}

// SetDelay makes the stub wait before answering key
func (e *TokenEndpoint) SetDelay(key string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delays[key] = d
}

// Calls returns how many requests were made for key
func (e *TokenEndpoint) Calls(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[key]
}

// LastForm returns the form of the most recent request for key
func (e *TokenEndpoint) LastForm(key string) url.Values {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forms[key]
}

// LastHeader returns the headers of the most recent request for key
func (e *TokenEndpoint) LastHeader(key string) http.Header {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.headers[key]
}
