package valkey

import (
	"context"
	"fmt"

	"github.com/giantswarm/service-oauth/internal/util"
	"github.com/giantswarm/service-oauth/storage"
)

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveFlow stores a pending flow with SET NX and a TTL ending at flow.ExpiresAt.
func (s *Store) SaveFlow(ctx context.Context, flow *storage.PendingFlow) (err error) {
	if flow == nil {
		return fmt.Errorf("flow cannot be nil")
	}
	if flow.State == "" {
		return fmt.Errorf("state cannot be empty")
	}

	ctx, done := s.observer.Start(ctx, "save_flow", flow.Service)
	defer func() { done(err) }()

	ttl := flow.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("flow for %s is already expired", flow.Service)
	}

	data, err := storage.MarshalFlow(flow, s.getEncryptor())
	if err != nil {
		return err
	}

	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.flowKey(flow.State)).Value(string(data)).Nx().Px(ttl).Build(),
	).Error()
	if err != nil {
		// NX replies nil when the key already exists
		if isNilError(err) {
			return storage.ErrFlowExists
		}
		return fmt.Errorf("failed to save flow: %w", err)
	}

	s.logger.Debug("Saved authorization flow",
		"service", flow.Service,
		"state_prefix", util.SafeTruncate(flow.State, stateLogLength))
	return nil
}

// ConsumeFlow fetches and deletes a flow in one GETDEL.
func (s *Store) ConsumeFlow(ctx context.Context, state string) (flow *storage.PendingFlow, err error) {
	ctx, done := s.observer.Start(ctx, "consume_flow", "")
	defer func() { done(err) }()

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.flowKey(state)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrFlowNotFound
		}
		return nil, fmt.Errorf("failed to consume flow: %w", err)
	}

	flow, err = storage.UnmarshalFlow([]byte(data), s.getEncryptor())
	if err != nil {
		return nil, err
	}

	// the key TTL and the clock used here may disagree slightly
	if !s.now().Before(flow.ExpiresAt) {
		s.logger.Debug("Rejected expired authorization flow",
			"service", flow.Service,
			"state_prefix", util.SafeTruncate(state, stateLogLength))
		return nil, storage.ErrFlowNotFound
	}
	return flow, nil
}
