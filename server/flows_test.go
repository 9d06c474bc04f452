package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/service-oauth/providers"
	"github.com/giantswarm/service-oauth/storage"
)

func startFlow(t *testing.T, env *testEnv, service string, opts ...AuthorizeOption) string {
	t.Helper()
	_, state, err := env.srv.GetAuthorizationURL(context.Background(), service, opts...)
	if err != nil {
		t.Fatalf("GetAuthorizationURL() error = %v", err)
	}
	return state
}

func TestCompleteFlow_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var gotVerifier string
	env.exchanger.ExchangeCodeFunc = func(ctx context.Context, cfg providers.Config, code, verifier string) (*oauth2.Token, error) {
		gotVerifier = verifier
		tok := &oauth2.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "bearer",
			ExpiresIn:    1800,
		}
		return tok.WithExtra(map[string]any{"scope": "read write"}), nil
	}

	state := startFlow(t, env, "demo", WithContinuation("/after"))
	rec, continuation, err := env.srv.CompleteFlow(ctx, "demo", "code-1", state)
	if err != nil {
		t.Fatalf("CompleteFlow() error = %v", err)
	}

	if continuation != "/after" {
		t.Errorf("continuation = %q, want /after", continuation)
	}
	if gotVerifier == "" {
		t.Error("exchange did not receive the PKCE verifier")
	}
	if rec.AccessToken != "access-1" || rec.RefreshToken != "refresh-1" {
		t.Errorf("record tokens = %q/%q", rec.AccessToken, rec.RefreshToken)
	}
	if rec.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", rec.TokenType)
	}
	if !rec.ExpiresAt.Equal(testEpoch.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want now + 1800s", rec.ExpiresAt)
	}
	if len(rec.Scopes) != 2 || rec.Scopes[1] != "write" {
		t.Errorf("Scopes = %v, want [read write]", rec.Scopes)
	}

	stored, err := env.store.GetToken(ctx, "demo")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if stored.AccessToken != "access-1" {
		t.Error("record was not persisted")
	}
}

func TestCompleteFlow_ScopesDefaultToRequested(t *testing.T) {
	env := newTestEnv(t)
	state := startFlow(t, env, "demo")

	rec, _, err := env.srv.CompleteFlow(context.Background(), "demo", "code", state)
	if err != nil {
		t.Fatalf("CompleteFlow() error = %v", err)
	}
	if len(rec.Scopes) != 1 || rec.Scopes[0] != "read" {
		t.Errorf("Scopes = %v, want configured [read]", rec.Scopes)
	}
}

func TestCompleteFlow_StateIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := startFlow(t, env, "demo")

	if _, _, err := env.srv.CompleteFlow(ctx, "demo", "code", state); err != nil {
		t.Fatalf("first CompleteFlow() error = %v", err)
	}
	_, _, err := env.srv.CompleteFlow(ctx, "demo", "code", state)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("replayed CompleteFlow() error = %v, want ErrInvalidState", err)
	}
	if !errors.Is(err, storage.ErrFlowNotFound) {
		t.Errorf("error should wrap storage.ErrFlowNotFound: %v", err)
	}
	if got := env.exchanger.GetCallCount("ExchangeCode"); got != 1 {
		t.Errorf("ExchangeCode calls = %d, want 1", got)
	}
}

func TestCompleteFlow_InvalidState(t *testing.T) {
	tests := []struct {
		name  string
		state func(t *testing.T, env *testEnv) string
	}{
		{"empty", func(*testing.T, *testEnv) string { return "" }},
		{"never issued", func(*testing.T, *testEnv) string { return "forged-state-value" }},
		{"expired", func(t *testing.T, env *testEnv) string {
			state := startFlow(t, env, "demo")
			env.clock.Advance(10*time.Minute + time.Second)
			return state
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			state := tt.state(t, env)

			_, _, err := env.srv.CompleteFlow(context.Background(), "demo", "code", state)
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("error = %v, want ErrInvalidState", err)
			}
			if got := env.exchanger.GetCallCount("ExchangeCode"); got != 0 {
				t.Errorf("ExchangeCode called %d times for an invalid state", got)
			}
		})
	}
}

func TestCompleteFlow_ServiceMismatch(t *testing.T) {
	other := demoConfig()
	other.Name = "other"
	env := newTestEnv(t, demoConfig(), other)
	ctx := context.Background()

	state := startFlow(t, env, "demo")
	_, _, err := env.srv.CompleteFlow(ctx, "other", "code", state)
	if !errors.Is(err, ErrServiceMismatch) {
		t.Fatalf("error = %v, want ErrServiceMismatch", err)
	}

	// the state was consumed by the mismatched attempt
	_, _, err = env.srv.CompleteFlow(ctx, "demo", "code", state)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState after mismatch", err)
	}
}

func TestCompleteFlow_ExchangeRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.exchanger.ExchangeCodeFunc = func(ctx context.Context, cfg providers.Config, code, verifier string) (*oauth2.Token, error) {
		return nil, &providers.TokenExchangeError{
			Service:     cfg.Name,
			Operation:   "exchange",
			StatusCode:  http.StatusBadRequest,
			ErrorCode:   "invalid_grant",
			Description: "code expired",
			Body:        []byte(`{"error":"invalid_grant"}`),
		}
	}

	state := startFlow(t, env, "demo")
	_, _, err := env.srv.CompleteFlow(ctx, "demo", "bad-code", state)
	if !errors.Is(err, ErrTokenExchangeFailed) {
		t.Fatalf("error = %v, want ErrTokenExchangeFailed", err)
	}
	var exErr *TokenExchangeError
	if !errors.As(err, &exErr) || exErr.ErrorCode != "invalid_grant" || exErr.StatusCode != http.StatusBadRequest {
		t.Errorf("error details = %+v", exErr)
	}
	if env.exchanger.GetCallCount("ExchangeCode") != 1 {
		t.Error("code exchange must not be retried")
	}
	if _, err := env.store.GetToken(ctx, "demo"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("no record should be stored after a failed exchange")
	}
}

func TestCompleteFlow_EmptyAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.exchanger.ExchangeCodeFunc = func(ctx context.Context, cfg providers.Config, code, verifier string) (*oauth2.Token, error) {
		return &oauth2.Token{}, nil
	}

	state := startFlow(t, env, "demo")
	_, _, err := env.srv.CompleteFlow(context.Background(), "demo", "code", state)
	if !errors.Is(err, ErrTokenExchangeFailed) {
		t.Errorf("error = %v, want ErrTokenExchangeFailed", err)
	}
}

func TestCompleteFlow_CorruptVerifier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.store.SaveFlow(ctx, &storage.PendingFlow{
		State:        "tampered-state",
		Service:      "demo",
		CodeVerifier: "short",
		CreatedAt:    testEpoch,
		ExpiresAt:    testEpoch.Add(time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := env.srv.CompleteFlow(ctx, "demo", "code", "tampered-state"); err == nil {
		t.Fatal("expected error for a malformed stored verifier")
	}
	if n := env.exchanger.GetCallCount("ExchangeCode"); n != 0 {
		t.Errorf("ExchangeCode called %d times with a malformed verifier", n)
	}
}

func TestCompleteFlow_ConcurrentCallbacks(t *testing.T) {
	env := newTestEnv(t)
	state := startFlow(t, env, "demo")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := env.srv.CompleteFlow(context.Background(), "demo", "code", state); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("successful completions = %d, want 1", wins.Load())
	}
	if got := env.exchanger.GetCallCount("ExchangeCode"); got != 1 {
		t.Errorf("ExchangeCode calls = %d, want 1", got)
	}
}
