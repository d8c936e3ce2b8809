package redis

import (
	"testing"

	"fleet-sync/internal/config"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_HealthCheck(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), config.RedisConfig{KeyPrefix: "test:"})
	defer client.Close()

	assert.True(t, client.IsConnected())
	assert.Equal(t, "test:", client.KeyPrefix())

	status := client.HealthCheck()
	assert.True(t, status.IsConnected)
	assert.Empty(t, status.Error)
}

func TestHealthCheck_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1}), config.RedisConfig{})
	defer client.Close()

	mr.Close()

	status := client.HealthCheck()
	assert.False(t, status.IsConnected)
	assert.NotEmpty(t, status.Error)
	assert.False(t, client.IsConnected())
}
