package leasesvc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
)

func setupRedisLeaser(t *testing.T) (*RedisLeaser, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLeaser(client), mr
}

func TestRedisLeaser_Acquire(t *testing.T) {
	ctx := context.Background()
	key := "curriculum:promote:AQA:GCSE:8035"

	t.Run("second acquire is rejected until release", func(t *testing.T) {
		l, mr := setupRedisLeaser(t)

		release, err := l.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, mr.Exists(key))

		_, err = l.Acquire(ctx, key, time.Minute)
		assert.ErrorIs(t, err, curriculum.ErrLeaseHeld)

		require.NoError(t, release(ctx))
		assert.False(t, mr.Exists(key))

		release, err = l.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		require.NoError(t, release(ctx))
	})

	t.Run("lease expires after ttl", func(t *testing.T) {
		l, mr := setupRedisLeaser(t)

		_, err := l.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		mr.FastForward(2 * time.Minute)

		_, err = l.Acquire(ctx, key, time.Minute)
		assert.NoError(t, err)
	})

	t.Run("stale release keeps the new owner's lease", func(t *testing.T) {
		l, mr := setupRedisLeaser(t)

		stale, err := l.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		mr.FastForward(2 * time.Minute)

		_, err = l.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)

		require.NoError(t, stale(ctx))
		assert.True(t, mr.Exists(key))
	})

	t.Run("redis down", func(t *testing.T) {
		l, mr := setupRedisLeaser(t)
		mr.Close()

		_, err := l.Acquire(ctx, key, time.Minute)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, curriculum.ErrLeaseHeld)
	})
}

func TestLocalLeaser_Acquire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewLocalLeaser()
	l.now = func() time.Time { return now }

	release, err := l.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "a", time.Minute)
	assert.ErrorIs(t, err, curriculum.ErrLeaseHeld)

	other, err := l.Acquire(ctx, "b", time.Minute)
	require.NoError(t, err, "keys are independent")
	require.NoError(t, other(ctx))

	now = now.Add(2 * time.Minute)
	stale := release
	release, err = l.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err, "expired lease can be taken over")

	require.NoError(t, stale(ctx))
	_, err = l.Acquire(ctx, "a", time.Minute)
	assert.ErrorIs(t, err, curriculum.ErrLeaseHeld, "stale release must not free the new lease")

	require.NoError(t, release(ctx))
	_, err = l.Acquire(ctx, "a", time.Minute)
	assert.NoError(t, err)
}

func TestNew(t *testing.T) {
	t.Run("local without redis address", func(t *testing.T) {
		l, closeFn, err := New(&core.Config{})
		require.NoError(t, err)
		assert.IsType(t, &LocalLeaser{}, l)
		assert.NoError(t, closeFn())
	})

	t.Run("redis when configured", func(t *testing.T) {
		mr := miniredis.RunT(t)
		l, closeFn, err := New(&core.Config{Redis: core.RedisConfig{Addr: mr.Addr()}})
		require.NoError(t, err)
		assert.IsType(t, &RedisLeaser{}, l)
		assert.NoError(t, closeFn())
	})
}
