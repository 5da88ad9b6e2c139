package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLock(t *testing.T, ttl time.Duration) (*RedisIdempotencyLock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisIdempotencyLock(rdb, ttl), mr
}

func TestRedisIdempotencyLock_SecondLockFails(t *testing.T) {
	lock, _ := setupLock(t, time.Minute)
	ctx := context.Background()

	token, ok, err := lock.TryLock(ctx, "user:1", "key-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = lock.TryLock(ctx, "user:1", "key-1")
	require.NoError(t, err)
	assert.False(t, ok)

	//スコープが違えば別のキー
	_, ok, err = lock.TryLock(ctx, "user:2", "key-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisIdempotencyLock_UnlockReleases(t *testing.T) {
	lock, _ := setupLock(t, time.Minute)
	ctx := context.Background()

	token, ok, err := lock.TryLock(ctx, "session:abc", "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Unlock(ctx, "session:abc", "k", token))

	_, ok, err = lock.TryLock(ctx, "session:abc", "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisIdempotencyLock_Expires(t *testing.T) {
	lock, mr := setupLock(t, 10*time.Second)
	ctx := context.Background()

	_, ok, err := lock.TryLock(ctx, "user:1", "k")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	_, ok, err = lock.TryLock(ctx, "user:1", "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

// TTL切れの後に遅れて来た解除は、次の持ち主のロックを消さない
func TestRedisIdempotencyLock_StaleUnlockKeepsNewOwner(t *testing.T) {
	lock, mr := setupLock(t, 10*time.Second)
	ctx := context.Background()

	stale, ok, err := lock.TryLock(ctx, "user:1", "k")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	current, ok, err := lock.TryLock(ctx, "user:1", "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Unlock(ctx, "user:1", "k", stale))

	got, err := mr.Get(lockKey("user:1", "k"))
	require.NoError(t, err)
	assert.Equal(t, current, got)

	_, ok, err = lock.TryLock(ctx, "user:1", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Unlock(ctx, "user:1", "k", current))
	assert.False(t, mr.Exists(lockKey("user:1", "k")))
}

func TestRedisIdempotencyLock_ServerDown(t *testing.T) {
	lock, mr := setupLock(t, time.Minute)
	mr.Close()

	_, _, err := lock.TryLock(context.Background(), "user:1", "k")
	assert.Error(t, err)
}
