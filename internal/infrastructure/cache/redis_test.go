package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofia-platform/billing/internal/infrastructure/cache"
	"github.com/sofia-platform/billing/internal/infrastructure/config"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	t.Run("bare address", func(t *testing.T) {
		client, err := cache.NewRedisClient(config.RedisConfig{URL: mr.Addr(), PoolSize: 4, ReadTimeout: time.Second})
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 4, client.Options().PoolSize)
		assert.NoError(t, cache.Ping(context.Background(), client))
	})

	t.Run("url with db", func(t *testing.T) {
		client, err := cache.NewRedisClient(config.RedisConfig{URL: "redis://" + mr.Addr() + "/2"})
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 2, client.Options().DB)
		assert.NoError(t, cache.Ping(context.Background(), client))
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := cache.NewRedisClient(config.RedisConfig{URL: "redis://" + mr.Addr() + "/not-a-db"})
		assert.Error(t, err)
	})
}
