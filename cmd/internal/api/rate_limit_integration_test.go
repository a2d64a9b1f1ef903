package api

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("WARDEN_REDIS_ADDR"))
	if addr == "" {
		t.Skip("integration test skipped: WARDEN_REDIS_ADDR is not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("integration test skipped: Redis unreachable: %v", err)
	}
	return rdb
}

// Opt-in: requires WARDEN_REDIS_ADDR.
func TestRedisLimiter_FixedWindow(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	l := NewRedisLimiter(rdb, 2, time.Minute)
	key := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = rdb.Del(context.Background(), l.prefix+key).Err() })

	blocked, _, err := l.Blocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, l.Fail(ctx, key))
	blocked, _, err = l.Blocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, l.Fail(ctx, key))
	blocked, retry, err := l.Blocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, time.Minute)
}

// Opt-in: requires WARDEN_REDIS_ADDR.
func TestRedisLimiter_FailAlwaysLeavesTTL(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	l := NewRedisLimiter(rdb, 5, time.Minute)
	key := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = rdb.Del(context.Background(), l.prefix+key).Err() })

	require.NoError(t, l.Fail(ctx, key))
	first, err := rdb.TTL(ctx, l.prefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, first, time.Duration(0))

	// A counter stranded without a TTL picks one up on the next failure.
	require.NoError(t, rdb.Persist(ctx, l.prefix+key).Err())
	require.NoError(t, l.Fail(ctx, key))
	healed, err := rdb.TTL(ctx, l.prefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, healed, time.Duration(0))

	n, err := rdb.Get(ctx, l.prefix+key).Int()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisLimiter_DisabledWhenMaxZero(t *testing.T) {
	l := NewRedisLimiter(nil, 0, time.Minute)

	blocked, _, err := l.Blocked(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.NoError(t, l.Fail(context.Background(), "k"))
}
