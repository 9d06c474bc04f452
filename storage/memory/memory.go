// Package memory provides an in-memory implementation of the storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/giantswarm/service-oauth/instrumentation"
	"github.com/giantswarm/service-oauth/internal/util"
	"github.com/giantswarm/service-oauth/storage"
)

const (
	// shardCount is the number of independent lock domains for tokens and flows
	shardCount = 16

	// DefaultCleanupInterval is how often expired flows are swept
	DefaultCleanupInterval = time.Minute

	// stateLogLength is how much of a state value may appear in debug logs
	stateLogLength = 8
)

type tokenShard struct {
	mu      sync.RWMutex
	records map[string]*storage.TokenRecord
}

// flowShard serializes check-and-insert and get-and-delete for the states
// hashed to it. The ttlcache handles expiry.
type flowShard struct {
	mu    sync.Mutex
	flows *ttlcache.Cache[string, *storage.PendingFlow]
}

// Store is an in-memory implementation of storage.TokenStore and storage.FlowStore.
// Tokens and flows are sharded by key; there is no store-wide lock.
type Store struct {
	tokenShards [shardCount]*tokenShard
	flowShards  [shardCount]*flowShard

	// now is the store clock used for flow expiry checks
	now func() time.Time

	observer *storage.Observer
	logger   *slog.Logger

	// Atomic counters for metrics (lock-free access during metric collection)
	tokensCountAtomic atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Compile-time interface checks
var (
	_ storage.TokenStore = (*Store)(nil)
	_ storage.FlowStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, the default of 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		now:             time.Now,
		logger:          slog.Default(),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	for i := range s.tokenShards {
		s.tokenShards[i] = &tokenShard{records: make(map[string]*storage.TokenRecord)}
	}
	for i := range s.flowShards {
		s.flowShards[i] = &flowShard{
			flows: ttlcache.New(
				ttlcache.WithDisableTouchOnHit[string, *storage.PendingFlow](),
			),
		}
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock replaces the clock used for flow expiry checks.
// Call before the store is shared.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.observer = storage.NewObserver(inst, "memory")
	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.tokensCountAtomic.Load() },
		func() int64 { return int64(s.FlowCount()) },
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

// ============================================================
// TokenStore Implementation
// ============================================================

// GetToken returns a copy of the service's token record
func (s *Store) GetToken(ctx context.Context, service string) (rec *storage.TokenRecord, err error) {
	_, done := s.observer.Start(ctx, "get_token", service)
	defer func() { done(err) }()

	shard := s.tokenShards[shardIndex(service)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	record, ok := shard.records[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, service)
	}
	return record.Clone(), nil
}

// PutToken stores a copy of the record, replacing any previous one
func (s *Store) PutToken(ctx context.Context, record *storage.TokenRecord) (err error) {
	if record == nil {
		return fmt.Errorf("token record cannot be nil")
	}
	if record.Service == "" {
		return fmt.Errorf("service cannot be empty")
	}

	_, done := s.observer.Start(ctx, "put_token", record.Service)
	defer func() { done(err) }()

	shard := s.tokenShards[shardIndex(record.Service)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, existed := shard.records[record.Service]; !existed {
		s.tokensCountAtomic.Add(1)
	}
	shard.records[record.Service] = record.Clone()

	s.logger.Debug("Saved token", "service", record.Service)
	return nil
}

// DeleteToken removes the service's record. Missing records are not an error.
func (s *Store) DeleteToken(ctx context.Context, service string) (err error) {
	_, done := s.observer.Start(ctx, "delete_token", service)
	defer func() { done(err) }()

	shard := s.tokenShards[shardIndex(service)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.records[service]; ok {
		delete(shard.records, service)
		s.tokensCountAtomic.Add(-1)
		s.logger.Debug("Deleted token", "service", service)
	}
	return nil
}

// Snapshot returns copies of all token records keyed by service.
// Shards are read one at a time, so the result is consistent per service.
func (s *Store) Snapshot(ctx context.Context) (map[string]*storage.TokenRecord, error) {
	_, done := s.observer.Start(ctx, "snapshot", "")
	defer done(nil)

	out := make(map[string]*storage.TokenRecord)
	for _, shard := range s.tokenShards {
		shard.mu.RLock()
		for service, record := range shard.records {
			out[service] = record.Clone()
		}
		shard.mu.RUnlock()
	}
	return out, nil
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveFlow inserts a pending flow. The entry expires at flow.ExpiresAt.
func (s *Store) SaveFlow(ctx context.Context, flow *storage.PendingFlow) (err error) {
	if flow == nil {
		return fmt.Errorf("flow cannot be nil")
	}
	if flow.State == "" {
		return fmt.Errorf("state cannot be empty")
	}

	_, done := s.observer.Start(ctx, "save_flow", flow.Service)
	defer func() { done(err) }()

	ttl := flow.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("flow for %s is already expired", flow.Service)
	}

	shard := s.flowShards[shardIndex(flow.State)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if shard.flows.Has(flow.State) {
		return storage.ErrFlowExists
	}
	shard.flows.Set(flow.State, flow.Clone(), ttl)

	s.logger.Debug("Saved authorization flow",
		"service", flow.Service,
		"state_prefix", util.SafeTruncate(flow.State, stateLogLength))
	return nil
}

// ConsumeFlow atomically returns and deletes a pending flow.
// Expired flows are deleted and reported as not found.
func (s *Store) ConsumeFlow(ctx context.Context, state string) (flow *storage.PendingFlow, err error) {
	_, done := s.observer.Start(ctx, "consume_flow", "")
	defer func() { done(err) }()

	shard := s.flowShards[shardIndex(state)]
	shard.mu.Lock()
	item := shard.flows.Get(state)
	if item != nil {
		shard.flows.Delete(state)
	}
	shard.mu.Unlock()

	if item == nil {
		return nil, storage.ErrFlowNotFound
	}

	flow = item.Value()
	if !s.now().Before(flow.ExpiresAt) {
		s.logger.Debug("Rejected expired authorization flow",
			"service", flow.Service,
			"state_prefix", util.SafeTruncate(state, stateLogLength))
		return nil, storage.ErrFlowNotFound
	}
	return flow.Clone(), nil
}

// FlowCount returns the number of pending flows, including any expired ones
// not yet swept.
func (s *Store) FlowCount() int {
	n := 0
	for _, shard := range s.flowShards {
		n += shard.flows.Len()
	}
	return n
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired flows
func (s *Store) cleanup() {
	now := s.now()
	removed := 0

	for _, shard := range s.flowShards {
		shard.mu.Lock()
		shard.flows.DeleteExpired()
		for _, item := range shard.flows.Items() {
			if !now.Before(item.Value().ExpiresAt) {
				shard.flows.Delete(item.Key())
				removed++
			}
		}
		shard.mu.Unlock()
	}

	if removed > 0 {
		s.logger.Debug("Cleaned up expired authorization flows", "count", removed)
	}
}
