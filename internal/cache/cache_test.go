package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-rentals/internal/cache"
	"ms-rentals/internal/config"
	"ms-rentals/internal/logger"
)

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := cache.NewMemoryCache().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))

	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheRunEvictsUnreadEntries(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := cache.NewMemoryCache().WithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "stale", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "fresh", []byte("2"), time.Hour))
	now = now.Add(2 * time.Minute)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		c.Run(runCtx, 5*time.Millisecond, logger.NewDiscardLogger())
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	_, ok, err := c.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := cache.NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 0))
	_, ok, _ := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := cache.Connect(config.RedisConfig{Addr: srv.Addr()}, logger.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := cache.NewRedisCache(client, "rentals")
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "actor", []byte(`{"id":"u1"}`), time.Minute))
	assert.True(t, srv.Exists("rentals:actor"))

	v, ok, err := c.Get(ctx, "actor")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"u1"}`, string(v))

	srv.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "actor")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "gone", []byte("x"), time.Minute))
	require.NoError(t, c.Delete(ctx, "gone"))
	assert.False(t, srv.Exists("rentals:gone"))
}

func TestConnectFailsWithoutServer(t *testing.T) {
	_, err := cache.Connect(config.RedisConfig{Addr: "127.0.0.1:1"}, logger.NewDiscardLogger())
	assert.Error(t, err)
}

var _ cache.Cache = (*cache.RedisCache)(nil)
var _ cache.Cache = (*cache.MemoryCache)(nil)
