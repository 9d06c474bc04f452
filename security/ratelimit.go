package security

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxEntries caps how many identifiers are tracked at once
	DefaultMaxEntries = 10000

	// DefaultIdleTimeout drops limiters for identifiers not seen for this long
	DefaultIdleTimeout = 30 * time.Minute
)

// RateLimiter provides per-identifier rate limiting using a token bucket.
// Limiters live in a TTL cache: an identifier's TTL is extended on every
// request, idle identifiers expire, and at capacity the least recently
// used identifier is evicted.
type RateLimiter struct {
	limiters   *ttlcache.Cache[string, *rate.Limiter]
	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger
	stopOnce   sync.Once

	// Statistics
	totalEvictions atomic.Int64
	totalExpired   atomic.Int64
}

// NewRateLimiter creates a new rate limiter with automatic cleanup and LRU eviction.
// Default max entries is 10,000. Use NewRateLimiterWithConfig for custom max entries.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(requestsPerSecond, burst, DefaultMaxEntries, logger)
}

// NewRateLimiterWithConfig creates a new rate limiter with custom max entries configuration.
// Set maxEntries to 0 for unlimited (not recommended for production).
func NewRateLimiterWithConfig(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		logger.Warn("Invalid maxEntries, using default", "maxEntries", maxEntries)
		maxEntries = DefaultMaxEntries
	}

	opts := []ttlcache.Option[string, *rate.Limiter]{
		ttlcache.WithTTL[string, *rate.Limiter](DefaultIdleTimeout),
	}
	if maxEntries > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *rate.Limiter](uint64(maxEntries)))
	}

	rl := &RateLimiter{
		limiters:   ttlcache.New(opts...),
		rate:       requestsPerSecond,
		burst:      burst,
		maxEntries: maxEntries,
		logger:     logger,
	}

	rl.limiters.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *rate.Limiter]) {
		switch reason {
		case ttlcache.EvictionReasonCapacityReached:
			n := rl.totalEvictions.Add(1)
			rl.logger.Debug("Rate limiter LRU eviction",
				"identifier", item.Key(),
				"total_evictions", n)
		case ttlcache.EvictionReasonExpired:
			rl.totalExpired.Add(1)
		}
	})

	go rl.limiters.Start()

	return rl
}

// Allow checks if a request from the given identifier is allowed.
func (rl *RateLimiter) Allow(identifier string) bool {
	if item := rl.limiters.Get(identifier); item != nil {
		return item.Value().Allow()
	}

	item, _ := rl.limiters.GetOrSet(identifier, rate.NewLimiter(rate.Limit(rl.rate), rl.burst))
	return item.Value().Allow()
}

// Cleanup removes limiters whose idle timeout has passed.
// The background loop does this automatically; Cleanup forces a pass.
func (rl *RateLimiter) Cleanup() {
	rl.limiters.DeleteExpired()
}

// Stop stops the background cleanup. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(rl.limiters.Stop)
}

// Stats holds rate limiter statistics for monitoring
type Stats struct {
	CurrentEntries int     // Current number of tracked identifiers
	MaxEntries     int     // Maximum allowed entries (0 = unlimited)
	TotalEvictions int64   // Total number of LRU evictions
	TotalExpired   int64   // Total number of identifiers dropped after going idle
	MemoryPressure float64 // Percentage of max capacity used (0-100)
}

// GetStats returns current rate limiter statistics for monitoring and alerting.
func (rl *RateLimiter) GetStats() Stats {
	stats := Stats{
		CurrentEntries: rl.limiters.Len(),
		MaxEntries:     rl.maxEntries,
		TotalEvictions: rl.totalEvictions.Load(),
		TotalExpired:   rl.totalExpired.Load(),
	}

	if rl.maxEntries > 0 {
		stats.MemoryPressure = float64(stats.CurrentEntries) / float64(rl.maxEntries) * 100.0
	}

	return stats
}
