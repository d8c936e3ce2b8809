package cache

import "time"

// CacheConfig holds configuration for cache size, TTL and key layout
type CacheConfig struct {
	MaxEntries int           `json:"maxEntries"`
	DefaultTTL time.Duration `json:"defaultTTL"`
	KeyPrefix  string        `json:"keyPrefix"` // redis only
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 512,
		DefaultTTL: 5 * time.Minute,
		KeyPrefix:  "fleet-sync:",
	}
}

// TTLOrDefault returns ttl when positive, otherwise the configured default.
func (c CacheConfig) TTLOrDefault(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.DefaultTTL
}
