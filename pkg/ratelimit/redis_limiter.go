package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"fleet-sync/pkg/redis"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

// fixedWindowScript counts requests in the current window of a key.
// It returns {allowed, milliseconds until the window resets}.
var fixedWindowScript = goredis.NewScript(`
local key = KEYS[1]
local burst_size = tonumber(ARGV[1])
local window_size = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local count = tonumber(redis.call('HGET', key, 'count')) or 0
local window_start = tonumber(redis.call('HGET', key, 'window_start')) or now

if now - window_start >= window_size then
	count = 0
	window_start = now
end

local allowed = count < burst_size
if allowed then
	count = count + 1
end

redis.call('HSET', key, 'count', count, 'window_start', window_start)
redis.call('PEXPIRE', key, window_size)

local reset = 0
if not allowed then
	reset = (window_start + window_size) - now
end
return {allowed and 1 or 0, reset}
`)

// RedisRateLimiter shares fixed-window counters between server instances.
type RedisRateLimiter struct {
	client  *redis.Client
	config  *Config
	clock   clockwork.Clock
	total   atomic.Int64
	blocked atomic.Int64
}

// NewRedisRateLimiter creates a new Redis-backed rate limiter
func NewRedisRateLimiter(client *redis.Client, config *Config, clock clockwork.Clock) *RedisRateLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisRateLimiter{client: client, config: config, clock: clock}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, clientID, operation string) (bool, time.Duration, error) {
	if !r.config.Enabled {
		return true, 0, nil
	}
	r.total.Add(1)

	category, limit := r.config.LimitFor(operation)
	key := fmt.Sprintf("%s%s%s:%s", r.client.KeyPrefix(), r.config.KeyPrefix, clientID, category)

	result, err := fixedWindowScript.Run(ctx, r.client.GetClient(), []string{key},
		limit.BurstSize,
		limit.WindowSize.Milliseconds(),
		r.clock.Now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("rate limit check failed: unexpected reply %v", result)
	}

	if result[0] == 1 {
		return true, 0, nil
	}
	r.blocked.Add(1)
	return false, time.Duration(result[1]) * time.Millisecond, nil
}

func (r *RedisRateLimiter) GetStats() RateLimiterStats {
	return RateLimiterStats{
		TotalRequests:   r.total.Load(),
		BlockedRequests: r.blocked.Load(),
	}
}
