package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fleet-sync/pkg/redis"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
	redisClient "github.com/redis/go-redis/v9"
)

// RedisCacheManager implements Cache on Redis so several processes can share responses.
type RedisCacheManager struct {
	client *redis.Client
	config CacheConfig
	clock  clockwork.Clock
	stats  *cacheStats
	ctx    context.Context
}

func NewRedisCacheManager(client *redis.Client, config CacheConfig, clock clockwork.Clock) *RedisCacheManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisCacheManager{
		client: client,
		config: config,
		clock:  clock,
		stats:  &cacheStats{},
		ctx:    context.Background(),
	}
}

func (r *RedisCacheManager) Get(key string) (Entry, bool, error) {
	data, err := r.client.GetClient().Get(r.ctx, r.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redisClient.Nil) {
			r.stats.recordMiss()
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to get response from cache: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	if !entry.Valid(r.clock.Now()) {
		r.stats.recordMiss()
		return Entry{}, false, nil
	}

	r.stats.recordHit()
	return entry, true, nil
}

func (r *RedisCacheManager) Set(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := r.client.GetClient().Set(r.ctx, r.buildKey(entry.Key), data, entry.TTL).Err(); err != nil {
		return fmt.Errorf("failed to set response in cache: %w", err)
	}
	return nil
}

func (r *RedisCacheManager) Invalidate(pattern string) (int, error) {
	match := r.buildKey("*" + escapeGlob(pattern) + "*")
	return r.deleteMatching(match)
}

func (r *RedisCacheManager) Clear() error {
	_, err := r.deleteMatching(r.buildKey("*"))
	return err
}

func (r *RedisCacheManager) deleteMatching(match string) (int, error) {
	rdb := r.client.GetClient()
	iter := rdb.Scan(r.ctx, 0, match, 100).Iterator()

	var keys []string
	for iter.Next(r.ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan keys for %s: %w", match, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := rdb.Pipeline()
	for _, key := range keys {
		pipe.Del(r.ctx, key)
	}
	if _, err := pipe.Exec(r.ctx); err != nil {
		return 0, fmt.Errorf("failed to invalidate keys for %s: %w", match, err)
	}

	r.stats.recordEvictions(len(keys))
	glog.V(2).Infof("cache: invalidated %d keys matching %s", len(keys), match)
	return len(keys), nil
}

func (r *RedisCacheManager) GetCacheStats() CacheStats {
	keyCount := 0
	iter := r.client.GetClient().Scan(r.ctx, 0, r.buildKey("*"), 100).Iterator()
	for iter.Next(r.ctx) {
		keyCount++
	}
	return r.stats.snapshot(keyCount)
}

// HealthCheck verifies cache connectivity
func (r *RedisCacheManager) HealthCheck() error {
	return r.client.GetClient().Ping(r.ctx).Err()
}

// Close leaves the shared Redis client open; its owner closes it.
func (r *RedisCacheManager) Close() error {
	return nil
}

func (r *RedisCacheManager) buildKey(key string) string {
	return r.config.KeyPrefix + "resp:" + key
}

// escapeGlob escapes the characters Redis MATCH treats as glob syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
