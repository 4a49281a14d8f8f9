package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_TTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache := newMemoryCacheWithClock(10*time.Minute, clock)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "dev1")
	assert.False(t, ok)

	cache.Put(ctx, "dev1", 42)

	id, ok := cache.Get(ctx, "dev1")
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	// Just inside the TTL.
	now = now.Add(10*time.Minute - time.Second)
	_, ok = cache.Get(ctx, "dev1")
	assert.True(t, ok)

	// At the TTL boundary the entry is stale.
	now = now.Add(time.Second)
	_, ok = cache.Get(ctx, "dev1")
	assert.False(t, ok)
}

func TestMemoryCache_PutRefreshesAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache := newMemoryCacheWithClock(10*time.Minute, clock)
	ctx := context.Background()

	cache.Put(ctx, "dev1", 1)
	now = now.Add(9 * time.Minute)
	cache.Put(ctx, "dev1", 1)
	now = now.Add(9 * time.Minute)

	_, ok := cache.Get(ctx, "dev1")
	assert.True(t, ok, "refreshed entry should still be fresh")
}

func TestRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	cache, err := NewRedisCache("redis://"+srv.Addr(), time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	_, ok := cache.Get(ctx, "dev1")
	assert.False(t, ok)

	cache.Put(ctx, "dev1", 99)

	id, ok := cache.Get(ctx, "dev1")
	require.True(t, ok)
	assert.Equal(t, int64(99), id)

	// Expiry is delegated to Redis.
	srv.FastForward(2 * time.Minute)
	_, ok = cache.Get(ctx, "dev1")
	assert.False(t, ok)
}

func TestRedisCache_MalformedValueIsMiss(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	cache, err := NewRedisCache("redis://"+srv.Addr(), time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, srv.Set("ingest:device:dev1", "not-a-number"))

	_, ok := cache.Get(ctx, "dev1")
	assert.False(t, ok)
}
