package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Text string `json:"text"`
}

func exercise(t *testing.T, c CacheService) {
	ctx := context.Background()

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", payload{Text: "v1"}, time.Minute))
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "v1", got.Text)

	ok, err := c.SetNX(ctx, "k", payload{Text: "v2"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "v1", got.Text)

	ok, err = c.SetNX(ctx, "other", payload{Text: "v3"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestMemoryCache(t *testing.T) {
	exercise(t, NewMemoryCache())
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", payload{Text: "x"}, time.Second))
	require.NoError(t, c.Set(ctx, "forever", payload{Text: "y"}, 0))

	now = now.Add(2 * time.Second)

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "short", &got), ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "forever", &got))

	ok, err := c.SetNX(ctx, "short", payload{Text: "z"}, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, c.Purge())
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := NewRedisCache(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	exercise(t, c)

	require.NoError(t, c.Set(context.Background(), "ttl", payload{Text: "x"}, time.Second))
	assert.True(t, mr.Exists("prism:ttl"))
	mr.FastForward(2 * time.Second)
	var got payload
	assert.ErrorIs(t, c.Get(context.Background(), "ttl", &got), ErrCacheMiss)
}

func TestRedisCacheUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisCache(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}
