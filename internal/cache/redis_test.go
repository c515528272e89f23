package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Domenick1991/carpool/internal/cachekeys"
	"github.com/Domenick1991/carpool/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to REDIS_ADDR and skips the test when it is unset.
func newTestRedis(t *testing.T) *RedisCache {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: addr}), time.Minute)
	require.NoError(t, c.Ping(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_RideReadThrough(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	id := uuid.NewString()

	got, err := c.GetRide(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.SetRide(ctx, &domain.Ride{ID: id, Status: domain.RideStatusActive, TotalSeats: 3}))
	got, err = c.GetRide(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.TotalSeats)

	require.NoError(t, c.Invalidate(ctx, cachekeys.Ride(id)))
	got, err = c.GetRide(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCache_SetRideKeepsNewerVersion(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() { _ = c.Invalidate(context.Background(), cachekeys.Ride(id)) })

	require.NoError(t, c.SetRide(ctx, &domain.Ride{ID: id, AvailableSeats: 2, Version: 3}))
	require.NoError(t, c.SetRide(ctx, &domain.Ride{ID: id, AvailableSeats: 3, Version: 2}))
	got, err := c.GetRide(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.Version)

	require.NoError(t, c.SetRide(ctx, &domain.Ride{ID: id, AvailableSeats: 1, Version: 4}))
	got, err = c.GetRide(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableSeats)

	ttl, err := c.client.PTTL(ctx, cachekeys.Ride(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisCache_RideLock(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	id := uuid.NewString()

	token, ok, err := c.AcquireRideLock(ctx, id, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireRideLock(ctx, id, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// A stale token does not release the current holder's lease.
	require.NoError(t, c.ReleaseRideLock(ctx, id, "stale"))
	_, ok, err = c.AcquireRideLock(ctx, id, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseRideLock(ctx, id, token))
	_, ok, err = c.AcquireRideLock(ctx, id, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisCache_Dedupe(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	key := uuid.NewString()

	ok, err := c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Forget(ctx, key))
	ok, err = c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
