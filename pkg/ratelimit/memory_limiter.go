package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryRateLimiter keeps one token bucket per client and category.
type MemoryRateLimiter struct {
	config  *Config
	clock   clockwork.Clock
	total   atomic.Int64
	blocked atomic.Int64
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewMemoryRateLimiter creates a new in-memory rate limiter
func NewMemoryRateLimiter(config *Config, clock clockwork.Clock) *MemoryRateLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRateLimiter{
		config:  config,
		clock:   clock,
		buckets: make(map[string]*tokenBucket),
	}
}

func (r *MemoryRateLimiter) Allow(_ context.Context, clientID, operation string) (bool, time.Duration, error) {
	if !r.config.Enabled {
		return true, 0, nil
	}
	r.total.Add(1)

	category, limit := r.config.LimitFor(operation)
	key := clientID + ":" + category
	now := r.clock.Now()
	perToken := limit.WindowSize / time.Duration(limit.BurstSize)

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(limit.BurstSize), lastRefill: now}
		r.buckets[key] = bucket
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(bucket.lastRefill)
	bucket.tokens = min(float64(limit.BurstSize), bucket.tokens+float64(elapsed)/float64(perToken))
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true, 0, nil
	}

	r.blocked.Add(1)
	wait := time.Duration((1 - bucket.tokens) * float64(perToken))
	return false, wait, nil
}

func (r *MemoryRateLimiter) GetStats() RateLimiterStats {
	r.mu.Lock()
	active := len(r.buckets)
	r.mu.Unlock()
	return RateLimiterStats{
		TotalRequests:   r.total.Load(),
		BlockedRequests: r.blocked.Load(),
		ActiveClients:   active,
	}
}

// Cleanup drops buckets idle for over an hour. By then they have refilled
// and are indistinguishable from new ones.
func (r *MemoryRateLimiter) Cleanup() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, bucket := range r.buckets {
		if now.Sub(bucket.lastRefill) > time.Hour {
			delete(r.buckets, key)
			removed++
		}
	}
	return removed
}
