package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func redisConfigFor(t *testing.T, mr *miniredis.Miniredis) config.RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return config.RedisConfig{Enabled: true, Host: mr.Host(), Port: port}
}

func TestRedisIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	store := NewRedisIdempotencyStore(client, "")

	isNew, err := store.MarkProcessed(ctx, "shop:evt-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.True(t, mr.Exists("sync:webhook:shop:evt-1"))

	isNew, err = store.MarkProcessed(ctx, "shop:evt-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, isNew)

	processed, err := store.IsProcessed(ctx, "shop:evt-1")
	require.NoError(t, err)
	assert.True(t, processed)

	require.NoError(t, store.Forget(ctx, "shop:evt-1"))
	assert.False(t, mr.Exists("sync:webhook:shop:evt-1"))
	isNew, err = store.MarkProcessed(ctx, "shop:evt-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)

	mr.FastForward(2 * time.Hour)
	processed, err = store.IsProcessed(ctx, "shop:evt-1")
	require.NoError(t, err)
	assert.False(t, processed)

	assert.NoError(t, store.Close())
	assert.NoError(t, client.Ping(ctx).Err(), "store does not close a shared client")
}

func TestRedisIdempotencyStore_BackendDown(t *testing.T) {
	mr, client := newMiniredis(t)
	store := NewRedisIdempotencyStore(client, "custom:")
	mr.Close()

	_, err := store.IsProcessed(context.Background(), "x")
	assert.Error(t, err)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	locker := NewRedisLocker(client)

	token, ok, err := locker.TryLock(ctx, "sync:lock:entity:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, token, mustGet(t, mr, "sync:lock:entity:1"))
	assert.Equal(t, time.Minute, mr.TTL("sync:lock:entity:1"))

	_, ok, err = locker.TryLock(ctx, "sync:lock:entity:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Unlock(ctx, "sync:lock:entity:1", "someone-else"))
	assert.True(t, mr.Exists("sync:lock:entity:1"), "foreign token must not release the lock")

	require.NoError(t, locker.Unlock(ctx, "sync:lock:entity:1", token))
	assert.False(t, mr.Exists("sync:lock:entity:1"))

	_, ok, err = locker.TryLock(ctx, "sync:lock:entity:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)
	_, ok, err = locker.TryLock(ctx, "sync:lock:entity:1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be retaken")
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestCoordinationFactory(t *testing.T) {
	t.Run("uses Redis when reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, err := NewCoordinationFactory(redisConfigFor(t, mr), WithLogger(zap.NewNop())).Create()
		require.NoError(t, err)
		defer c.Close()

		assert.True(t, c.Distributed)
		assert.IsType(t, &RedisLocker{}, c.Locker)
		assert.IsType(t, &RedisIdempotencyStore{}, c.Idempotency)
	})

	t.Run("honours key prefix", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, err := NewCoordinationFactory(redisConfigFor(t, mr), WithKeyPrefix("tenant-a:hooks:")).Create()
		require.NoError(t, err)
		defer c.Close()

		_, err = c.Idempotency.MarkProcessed(context.Background(), "evt-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, mr.Exists("tenant-a:hooks:evt-1"))
	})

	t.Run("falls back to memory when Redis is down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := redisConfigFor(t, mr)
		mr.Close()

		c, err := NewCoordinationFactory(cfg).Create()
		require.NoError(t, err)
		defer c.Close()

		assert.False(t, c.Distributed)
		assert.IsType(t, &InMemoryLocker{}, c.Locker)
	})

	t.Run("fails when fallback is disabled", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := redisConfigFor(t, mr)
		mr.Close()

		_, err := NewCoordinationFactory(cfg, WithInMemoryFallback(false)).Create()
		assert.Error(t, err)
	})

	t.Run("disabled Redis means memory stores", func(t *testing.T) {
		c, err := NewCoordinationFactory(config.RedisConfig{Enabled: false}).Create()
		require.NoError(t, err)
		defer c.Close()
		assert.IsType(t, &InMemoryIdempotencyStore{}, c.Idempotency)
	})
}
