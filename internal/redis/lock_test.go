package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestWithLock_ReleasesAfterRun(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisLocker(rdb, 5*time.Second)
	key := SlotLockKey(uuid.New())

	ran := false
	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(key))
}

func TestWithLock_SecondCallerRejected(t *testing.T) {
	_, rdb := newTestClient(t)
	locker := NewRedisLocker(rdb, 5*time.Second)
	key := ProfileSlotsLockKey(uuid.New())

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, key, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithLock_PropagatesError(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisLocker(rdb, 5*time.Second)
	key := "lock:test"
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), key, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(key))
}

func TestWithLock_DoesNotReleaseForeignToken(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisLocker(rdb, 5*time.Second)
	key := "lock:stolen"

	err := locker.WithLock(context.Background(), key, func(context.Context) error {
		// lock expired and another owner took it
		require.NoError(t, mr.Set(key, "someone-else"))
		return nil
	})
	require.NoError(t, err)

	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
