package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, max int64, window time.Duration) *RedisLimiter {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "test", max, window)
}

func TestRedisLimiter_AllowsUpToMaxThenBlocks(t *testing.T) {
	t.Parallel()

	l := newTestRedisLimiter(t, 2, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "issuer-a"))
	require.True(t, l.Allow(ctx, "issuer-a"))
	require.False(t, l.Allow(ctx, "issuer-a"))
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := newTestRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "issuer-a"))
	require.False(t, l.Allow(ctx, "issuer-a"))
	require.True(t, l.Allow(ctx, "issuer-b"))
}

func TestRedisLimiter_Reset(t *testing.T) {
	t.Parallel()

	l := newTestRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "issuer-a"))
	require.False(t, l.Allow(ctx, "issuer-a"))

	require.NoError(t, l.Reset(ctx, "issuer-a"))
	require.True(t, l.Allow(ctx, "issuer-a"))
}
