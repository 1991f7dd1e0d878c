package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is the distributed counterpart to KeyedLimiter: a fixed-window
// counter shared across every resource-server instance, for deployments that
// run more than one process behind a load balancer and need JWKS-refetch or
// token-exchange rate limits to hold across the whole fleet rather than per
// process.
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	window    time.Duration
	max       int64
}

// NewRedis returns a RedisLimiter allowing max events per window per key.
// keyPrefix namespaces this limiter's counters from any other use of the
// same Redis instance.
func NewRedis(client redis.UniversalClient, keyPrefix string, max int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, keyPrefix: keyPrefix, window: window, max: max}
}

// Allow reports whether an event for key is permitted in the current window,
// incrementing the shared counter on every call, permitted or not. The first increment in a window
// sets its expiry; a failure to reach Redis is treated as "allow" so an
// outage of the shared limiter backing store degrades to no rate limiting
// rather than an outage of the protected operation itself.
func (r *RedisLimiter) Allow(ctx context.Context, key string) bool {
	allowed, err := r.allow(ctx, key)
	if err != nil {
		return true
	}
	return allowed
}

func (r *RedisLimiter) allow(ctx context.Context, key string) (bool, error) {
	redisKey := r.redisKey(key)

	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
	}
	return count <= r.max, nil
}

// Reset discards key's counter immediately, e.g. when a session ends.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis del: %w", err)
	}
	return nil
}

func (r *RedisLimiter) redisKey(key string) string {
	return r.keyPrefix + ":" + key
}
