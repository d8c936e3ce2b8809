package ratelimit

import (
	"context"
	"time"
)

// RateLimiter decides whether a client may run one more operation.
// When a request is refused, Allow returns how long until it may retry.
type RateLimiter interface {
	Allow(ctx context.Context, clientID, operation string) (bool, time.Duration, error)
	GetStats() RateLimiterStats
}

// RateLimit allows BurstSize operations per WindowSize.
type RateLimit struct {
	BurstSize  int           `json:"burstSize"`
	WindowSize time.Duration `json:"windowSize"`
}

// RateLimiterStats provides statistics about rate limiting
type RateLimiterStats struct {
	TotalRequests   int64 `json:"totalRequests"`
	BlockedRequests int64 `json:"blockedRequests"`
	ActiveClients   int   `json:"activeClients"`
}
