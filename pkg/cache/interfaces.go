package cache

import (
	"encoding/json"
	"time"
)

// Cache stores operation responses keyed by operation text and variables.
// Invalidation is by substring match against the key, never by entity type.
type Cache interface {
	// Get returns the entry stored under key. Expired entries are dropped and reported as a miss.
	Get(key string) (Entry, bool, error)
	Set(entry Entry) error
	// Invalidate removes every entry whose key contains pattern and returns how many were removed.
	Invalidate(pattern string) (int, error)
	Clear() error

	GetCacheStats() CacheStats
	Close() error
}

// Entry is one cached response.
type Entry struct {
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"storedAt"`
	TTL      time.Duration   `json:"ttl"`
}

// Valid reports whether the entry is still fresh at now.
func (e Entry) Valid(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// CacheStats provides cache performance metrics
type CacheStats struct {
	HitRate       float64 `json:"hitRate"`
	MissRate      float64 `json:"missRate"`
	KeyCount      int     `json:"keyCount"`
	EvictionCount int     `json:"evictionCount"`
	TotalHits     int64   `json:"totalHits"`
	TotalMisses   int64   `json:"totalMisses"`
}
