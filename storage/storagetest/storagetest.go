// Package storagetest provides behavioural test suites shared by every
// storage backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/service-oauth/internal/testutil"
	"github.com/giantswarm/service-oauth/storage"
)

// Epoch is the start time of the mock clock handed to flow store factories
var Epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// RunTokenStoreTests exercises a TokenStore implementation.
// newStore must return an empty store.
func RunTokenStoreTests(t *testing.T, newStore func(t *testing.T) storage.TokenStore) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetToken(ctx, "salesforce")
		if !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("GetToken() error = %v, want ErrTokenNotFound", err)
		}
	})

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		want := testutil.GenerateTestRecord("salesforce", Epoch)
		want.Scopes = []string{"api", "refresh_token"}

		if err := s.PutToken(ctx, want); err != nil {
			t.Fatalf("PutToken() error = %v", err)
		}
		got, err := s.GetToken(ctx, "salesforce")
		if err != nil {
			t.Fatalf("GetToken() error = %v", err)
		}
		assertRecordEqual(t, got, want)
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		s := newStore(t)
		first := testutil.GenerateTestRecord("slack", Epoch)
		second := testutil.GenerateTestRecord("slack", Epoch.Add(time.Minute))
		second.RefreshToken = ""

		if err := s.PutToken(ctx, first); err != nil {
			t.Fatalf("PutToken() error = %v", err)
		}
		if err := s.PutToken(ctx, second); err != nil {
			t.Fatalf("PutToken() error = %v", err)
		}
		got, err := s.GetToken(ctx, "slack")
		if err != nil {
			t.Fatalf("GetToken() error = %v", err)
		}
		assertRecordEqual(t, got, second)
	})

	t.Run("NoExpiry", func(t *testing.T) {
		s := newStore(t)
		want := testutil.GenerateTestRecord("hubspot", Epoch)
		want.ExpiresAt = time.Time{}

		if err := s.PutToken(ctx, want); err != nil {
			t.Fatalf("PutToken() error = %v", err)
		}
		got, err := s.GetToken(ctx, "hubspot")
		if err != nil {
			t.Fatalf("GetToken() error = %v", err)
		}
		if !got.ExpiresAt.IsZero() {
			t.Errorf("ExpiresAt = %v, want zero", got.ExpiresAt)
		}
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := newStore(t)
		rec := testutil.GenerateTestRecord("calendly", Epoch)
		if err := s.PutToken(ctx, rec); err != nil {
			t.Fatalf("PutToken() error = %v", err)
		}
		rec.AccessToken = "mutated-after-put"

		got, err := s.GetToken(ctx, "calendly")
		if err != nil {
			t.Fatalf("GetToken() error = %v", err)
		}
		if got.AccessToken == "mutated-after-put" {
			t.Error("store kept a reference to the caller's record")
		}
		got.Scopes[0] = "mutated-after-get"

		again, err := s.GetToken(ctx, "calendly")
		if err != nil {
			t.Fatalf("GetToken() error = %v", err)
		}
		if again.Scopes[0] == "mutated-after-get" {
			t.Error("GetToken() returned a shared record")
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := newStore(t)
		if err := s.PutToken(ctx, testutil.GenerateTestRecord("zendesk", Epoch)); err != nil {
			t.Fatalf("PutToken() error = %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := s.DeleteToken(ctx, "zendesk"); err != nil {
				t.Fatalf("DeleteToken() #%d error = %v", i+1, err)
			}
		}
		if _, err := s.GetToken(ctx, "zendesk"); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("GetToken() after delete error = %v, want ErrTokenNotFound", err)
		}
	})

	t.Run("DeleteLeavesOthers", func(t *testing.T) {
		s := newStore(t)
		for _, svc := range []string{"slack", "shopify"} {
			if err := s.PutToken(ctx, testutil.GenerateTestRecord(svc, Epoch)); err != nil {
				t.Fatalf("PutToken(%s) error = %v", svc, err)
			}
		}
		if err := s.DeleteToken(ctx, "slack"); err != nil {
			t.Fatalf("DeleteToken() error = %v", err)
		}
		if _, err := s.GetToken(ctx, "shopify"); err != nil {
			t.Errorf("GetToken(shopify) error = %v, want record intact", err)
		}
	})

	t.Run("Snapshot", func(t *testing.T) {
		s := newStore(t)
		services := []string{"salesforce", "slack", "zendesk"}
		for _, svc := range services {
			if err := s.PutToken(ctx, testutil.GenerateTestRecord(svc, Epoch)); err != nil {
				t.Fatalf("PutToken(%s) error = %v", svc, err)
			}
		}
		snap, err := s.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if len(snap) != len(services) {
			t.Fatalf("len(Snapshot()) = %d, want %d", len(snap), len(services))
		}
		for _, svc := range services {
			if snap[svc] == nil || snap[svc].Service != svc {
				t.Errorf("Snapshot()[%q] = %+v", svc, snap[svc])
			}
		}
	})

	t.Run("PutNil", func(t *testing.T) {
		s := newStore(t)
		if err := s.PutToken(ctx, nil); err == nil {
			t.Error("PutToken(nil) should return error")
		}
	})

	t.Run("ConcurrentServices", func(t *testing.T) {
		s := newStore(t)
		const n = 8

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				svc := fmt.Sprintf("svc-%d", i)
				if err := s.PutToken(ctx, testutil.GenerateTestRecord(svc, Epoch)); err != nil {
					t.Errorf("PutToken(%s) error = %v", svc, err)
				}
			}(i)
		}
		wg.Wait()

		snap, err := s.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if len(snap) != n {
			t.Errorf("len(Snapshot()) = %d, want %d", len(snap), n)
		}
	})
}

// FlowStoreFactory returns an empty FlowStore driven by clock, plus an
// optional hook that advances any backend-side clock alongside it.
type FlowStoreFactory func(t *testing.T, clock *testutil.MockTime) (storage.FlowStore, func(time.Duration))

// RunFlowStoreTests exercises a FlowStore implementation
func RunFlowStoreTests(t *testing.T, newStore FlowStoreFactory) {
	ctx := context.Background()

	setup := func(t *testing.T) (storage.FlowStore, func(time.Duration)) {
		clock := testutil.NewMockTime(Epoch)
		s, backendAdvance := newStore(t, clock)
		advance := func(d time.Duration) {
			clock.Advance(d)
			if backendAdvance != nil {
				backendAdvance(d)
			}
		}
		return s, advance
	}

	t.Run("SaveConsume", func(t *testing.T) {
		s, _ := setup(t)
		flow := testutil.GenerateTestFlow("slack", Epoch)
		flow.Continuation = "https://app.example.com/after"

		if err := s.SaveFlow(ctx, flow); err != nil {
			t.Fatalf("SaveFlow() error = %v", err)
		}
		got, err := s.ConsumeFlow(ctx, flow.State)
		if err != nil {
			t.Fatalf("ConsumeFlow() error = %v", err)
		}
		if got.Service != "slack" || got.CodeVerifier != flow.CodeVerifier || got.Continuation != flow.Continuation {
			t.Errorf("ConsumeFlow() = %+v, want %+v", got, flow)
		}
		if !got.ExpiresAt.Equal(flow.ExpiresAt) {
			t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, flow.ExpiresAt)
		}
	})

	t.Run("SingleUse", func(t *testing.T) {
		s, _ := setup(t)
		flow := testutil.GenerateTestFlow("slack", Epoch)
		if err := s.SaveFlow(ctx, flow); err != nil {
			t.Fatalf("SaveFlow() error = %v", err)
		}
		if _, err := s.ConsumeFlow(ctx, flow.State); err != nil {
			t.Fatalf("first ConsumeFlow() error = %v", err)
		}
		if _, err := s.ConsumeFlow(ctx, flow.State); !errors.Is(err, storage.ErrFlowNotFound) {
			t.Errorf("second ConsumeFlow() error = %v, want ErrFlowNotFound", err)
		}
	})

	t.Run("UnknownState", func(t *testing.T) {
		s, _ := setup(t)
		if _, err := s.ConsumeFlow(ctx, "never-issued"); !errors.Is(err, storage.ErrFlowNotFound) {
			t.Errorf("ConsumeFlow() error = %v, want ErrFlowNotFound", err)
		}
	})

	t.Run("DuplicateState", func(t *testing.T) {
		s, _ := setup(t)
		flow := testutil.GenerateTestFlow("slack", Epoch)
		if err := s.SaveFlow(ctx, flow); err != nil {
			t.Fatalf("SaveFlow() error = %v", err)
		}
		dup := testutil.GenerateTestFlow("hubspot", Epoch)
		dup.State = flow.State
		if err := s.SaveFlow(ctx, dup); !errors.Is(err, storage.ErrFlowExists) {
			t.Errorf("SaveFlow() duplicate error = %v, want ErrFlowExists", err)
		}

		got, err := s.ConsumeFlow(ctx, flow.State)
		if err != nil {
			t.Fatalf("ConsumeFlow() error = %v", err)
		}
		if got.Service != "slack" {
			t.Errorf("duplicate SaveFlow() overwrote the original flow")
		}
	})

	t.Run("Expired", func(t *testing.T) {
		s, advance := setup(t)
		flow := testutil.GenerateTestFlow("slack", Epoch)
		if err := s.SaveFlow(ctx, flow); err != nil {
			t.Fatalf("SaveFlow() error = %v", err)
		}

		advance(11 * time.Minute)

		if _, err := s.ConsumeFlow(ctx, flow.State); !errors.Is(err, storage.ErrFlowNotFound) {
			t.Errorf("ConsumeFlow() after TTL error = %v, want ErrFlowNotFound", err)
		}
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		s, _ := setup(t)
		flow := testutil.GenerateTestFlow("slack", Epoch)
		if err := s.SaveFlow(ctx, flow); err != nil {
			t.Fatalf("SaveFlow() error = %v", err)
		}

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ConsumeFlow(ctx, flow.State); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Errorf("successful consumes = %d, want exactly 1", got)
		}
	})
}

func assertRecordEqual(t *testing.T, got, want *storage.TokenRecord) {
	t.Helper()
	if got.Service != want.Service {
		t.Errorf("Service = %q, want %q", got.Service, want.Service)
	}
	if got.AccessToken != want.AccessToken {
		t.Errorf("AccessToken mismatch")
	}
	if got.RefreshToken != want.RefreshToken {
		t.Errorf("RefreshToken mismatch")
	}
	if got.TokenType != want.TokenType {
		t.Errorf("TokenType = %q, want %q", got.TokenType, want.TokenType)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
	if len(got.Scopes) != len(want.Scopes) {
		t.Errorf("Scopes = %v, want %v", got.Scopes, want.Scopes)
	}
}
