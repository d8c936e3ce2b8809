package cache

import (
	"testing"
	"time"

	"fleet-sync/internal/config"
	"fleet-sync/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	redisClient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCacheManager, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.Wrap(redisClient.NewClient(&redisClient.Options{Addr: mr.Addr()}), config.RedisConfig{})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultCacheConfig()
	cfg.KeyPrefix = "test:"
	return NewRedisCacheManager(client, cfg, nil), mr
}

func TestRedisCacheManager_GetSet(t *testing.T) {
	c, _ := newTestRedisCache(t)

	_, ok, err := c.Get("missing")
	assert.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(newEntry("query vehicules|null", time.Now(), time.Minute)))

	entry, ok, err := c.Get("query vehicules|null")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"ok":true}`, string(entry.Payload))

	stats := c.GetCacheStats()
	assert.Equal(t, int64(1), stats.TotalHits)
	assert.Equal(t, int64(1), stats.TotalMisses)
	assert.Equal(t, 1, stats.KeyCount)
}

func TestRedisCacheManager_TTLBehavior(t *testing.T) {
	c, mr := newTestRedisCache(t)

	require.NoError(t, c.Set(newEntry("ttl", time.Now(), 2*time.Second)))

	_, ok, _ := c.Get("ttl")
	assert.True(t, ok)

	mr.FastForward(3 * time.Second)

	_, ok, err := c.Get("ttl")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheManager_Invalidate(t *testing.T) {
	c, _ := newTestRedisCache(t)

	require.NoError(t, c.Set(newEntry("query Chauffeurs { chauffeurs { id } }|null", time.Now(), time.Minute)))
	require.NoError(t, c.Set(newEntry("query Rapports { rapports { id } }|null", time.Now(), time.Minute)))

	removed, err := c.Invalidate("chauffeurs")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, _ := c.Get("query Chauffeurs { chauffeurs { id } }|null")
	assert.False(t, ok)
	_, ok, _ = c.Get("query Rapports { rapports { id } }|null")
	assert.True(t, ok)

	require.NoError(t, c.Clear())
	_, ok, _ = c.Get("query Rapports { rapports { id } }|null")
	assert.False(t, ok)
	assert.NoError(t, c.HealthCheck())
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
	assert.Equal(t, "chauffeurs", escapeGlob("chauffeurs"))
}
