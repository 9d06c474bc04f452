// Package mock provides a mock implementation of the providers.Exchanger interface for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/giantswarm/service-oauth/providers"
)

// MockExchanger is a mock implementation of providers.Exchanger for testing
type MockExchanger struct {
	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, cfg providers.Config, code, verifier string) (*oauth2.Token, error)

	// RefreshTokenFunc is called when RefreshToken() is invoked
	RefreshTokenFunc func(ctx context.Context, cfg providers.Config, refreshToken string) (*oauth2.Token, error)

	// RevokeTokenFunc is called when RevokeToken() is invoked
	RevokeTokenFunc func(ctx context.Context, cfg providers.Config, token string) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

var _ providers.Exchanger = (*MockExchanger)(nil)

// NewMockExchanger creates a new mock exchanger with default implementations
func NewMockExchanger() *MockExchanger {
	return &MockExchanger{
		CallCounts: make(map[string]int),
		ExchangeCodeFunc: func(ctx context.Context, cfg providers.Config, code, verifier string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-refresh-token",
				ExpiresIn:    3600,
			}, nil
		},
		RefreshTokenFunc: func(ctx context.Context, cfg providers.Config, refreshToken string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "new-mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "new-mock-refresh-token",
				ExpiresIn:    3600,
			}, nil
		},
		RevokeTokenFunc: func(ctx context.Context, cfg providers.Config, token string) error {
			return nil
		},
	}
}

// ExchangeCode exchanges an authorization code for tokens
func (m *MockExchanger) ExchangeCode(ctx context.Context, cfg providers.Config, code, verifier string) (*oauth2.Token, error) {
	// LOCK PATTERN: Lock only to update counter and read function reference.
	// The user function runs without the lock so it may call other mock methods.
	m.mu.Lock()
	m.CallCounts["ExchangeCode"]++
	fn := m.ExchangeCodeFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not configured")
	}
	return fn(ctx, cfg, code, verifier)
}

// RefreshToken refreshes a token using a refresh token
func (m *MockExchanger) RefreshToken(ctx context.Context, cfg providers.Config, refreshToken string) (*oauth2.Token, error) {
	m.mu.Lock()
	m.CallCounts["RefreshToken"]++
	fn := m.RefreshTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("RefreshTokenFunc not configured")
	}
	return fn(ctx, cfg, refreshToken)
}

// RevokeToken revokes a token at the provider
func (m *MockExchanger) RevokeToken(ctx context.Context, cfg providers.Config, token string) error {
	m.mu.Lock()
	m.CallCounts["RevokeToken"]++
	fn := m.RevokeTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("RevokeTokenFunc not configured")
	}
	return fn(ctx, cfg, token)
}

// ResetCallCounts resets all call counters
func (m *MockExchanger) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockExchanger) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
