package cache

import (
	"fmt"

	"fleet-sync/pkg/redis"

	"github.com/jonboulle/clockwork"
)

// NewCache creates the cache backend named by driver ("memory" or "redis").
func NewCache(driver string, redisClient *redis.Client, config CacheConfig, clock clockwork.Clock) (Cache, error) {
	switch driver {
	case "", "memory":
		return NewMemoryCache(config, clock)
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis cache requires a redis client")
		}
		return NewRedisCacheManager(redisClient, config, clock), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", driver)
	}
}

// NewDefaultCache creates an in-memory cache with default configuration
func NewDefaultCache() Cache {
	c, _ := NewMemoryCache(DefaultCacheConfig(), nil)
	return c
}
