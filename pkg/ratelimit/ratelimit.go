// Package ratelimit provides per-key rate limiting for the two places
// spec.md §5 requires it: JWKS re-fetches per issuer, and token-exchange
// calls per (sessionId, audience) when the delegation cache is disabled.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// KeyedLimiter maintains one token-bucket limiter per string key, created
// lazily on first use. Exhaustion is reported via Allow returning false; it
// never blocks, matching spec.md §5's "rate-limit exhaustion surfaces as
// typed errors, not stalls".
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// New returns a KeyedLimiter allowing `perMinute` events per minute per key,
// with a burst of `burst`.
func New(perMinute float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perMinute / 60.0),
		burst:    burst,
	}
}

// Allow reports whether an event for key is permitted right now, consuming
// one token if so.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.limiterFor(key).Allow()
}

func (k *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.r, k.burst)
		k.limiters[key] = l
	}
	return l
}

// Reset discards the limiter state for key, e.g. when a session ends.
func (k *KeyedLimiter) Reset(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.limiters, key)
}
