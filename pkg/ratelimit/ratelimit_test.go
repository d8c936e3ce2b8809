package ratelimit

import (
	"context"
	"testing"
	"time"

	"fleet-sync/internal/config"
	"fleet-sync/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Limits[CategoryLogin] = RateLimit{BurstSize: 2, WindowSize: time.Minute}
	return cfg
}

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryLogin, Category("connexion"))
	assert.Equal(t, CategoryLogout, Category("deconnexion"))
	assert.Equal(t, CategoryUpload, Category("televerserImage"))
	assert.Equal(t, CategoryMutation, Category("creerChauffeur"))
	assert.Equal(t, CategoryMutation, Category("modifierAccesChauffeur"))
	assert.Equal(t, CategoryMutation, Category("supprimerRapport"))
	assert.Equal(t, CategoryDefault, Category("vehicules"))
}

func TestMemoryRateLimiter_RefillsOverTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewMemoryRateLimiter(testConfig(), clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "client-1", "connexion")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, wait, err := limiter.Allow(ctx, "client-1", "connexion")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 30*time.Second, wait)

	// Other clients and categories have their own buckets.
	allowed, _, _ = limiter.Allow(ctx, "client-2", "connexion")
	assert.True(t, allowed)
	allowed, _, _ = limiter.Allow(ctx, "client-1", "chauffeurs")
	assert.True(t, allowed)

	clock.Advance(30 * time.Second)
	allowed, _, _ = limiter.Allow(ctx, "client-1", "connexion")
	assert.True(t, allowed)

	stats := limiter.GetStats()
	assert.Equal(t, int64(6), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
	assert.Equal(t, 3, stats.ActiveClients)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 3, limiter.Cleanup())
}

func TestMemoryRateLimiter_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	limiter := NewMemoryRateLimiter(cfg, clockwork.NewFakeClock())

	for i := 0; i < 10; i++ {
		allowed, _, err := limiter.Allow(context.Background(), "client-1", "connexion")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestRedisRateLimiter_FixedWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), config.RedisConfig{KeyPrefix: "test:"})
	t.Cleanup(func() { client.Close() })

	clock := clockwork.NewFakeClock()
	limiter := NewRedisRateLimiter(client, testConfig(), clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "client-1", "connexion")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, wait, err := limiter.Allow(ctx, "client-1", "connexion")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, wait)
	assert.True(t, mr.Exists("test:ratelimit:client-1:auth_login"))

	allowed, _, err = limiter.Allow(ctx, "client-2", "connexion")
	require.NoError(t, err)
	assert.True(t, allowed)

	clock.Advance(time.Minute)
	allowed, _, err = limiter.Allow(ctx, "client-1", "connexion")
	require.NoError(t, err)
	assert.True(t, allowed)

	stats := limiter.GetStats()
	assert.Equal(t, int64(5), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
}
