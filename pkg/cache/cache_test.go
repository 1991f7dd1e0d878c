package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/obo-core/pkg/cache"
)

func TestCache_SetGetRoundTrip(t *testing.T) {
	t.Parallel()

	c := cache.New()
	t.Cleanup(c.Close)

	c.ActivateSession("sess1", "subject-jwt", "user-1")
	require.NoError(t, c.Set("sess1", "te:aud:scope", "secret-token", "subject-jwt", time.Now().Add(time.Hour)))

	got, err := c.Get("sess1", "te:aud:scope", "subject-jwt")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", got)

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.Hits)
}

func TestCache_GetMissWhenUnknownSession(t *testing.T) {
	t.Parallel()

	c := cache.New()
	t.Cleanup(c.Close)

	_, err := c.Get("nope", "key", "subject-jwt")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestCache_GetMissWhenExpired(t *testing.T) {
	t.Parallel()

	c := cache.New()
	t.Cleanup(c.Close)

	c.ActivateSession("sess1", "subject-jwt", "user-1")
	require.NoError(t, c.Set("sess1", "key", "value", "subject-jwt", time.Now().Add(-time.Second)))

	_, err := c.Get("sess1", "key", "subject-jwt")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestCache_RotatedSubjectTokenIsRejectedAsMiss(t *testing.T) {
	t.Parallel()

	c := cache.New()
	t.Cleanup(c.Close)

	c.ActivateSession("sess1", "subject-jwt-v1", "user-1")
	require.NoError(t, c.Set("sess1", "key", "value", "subject-jwt-v1", time.Now().Add(time.Hour)))

	_, err := c.Get("sess1", "key", "subject-jwt-v2")
	assert.ErrorIs(t, err, cache.ErrMiss)

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.DecryptionFailures)
}

func TestCache_JWTSubjectMismatchReinitializesSession(t *testing.T) {
	t.Parallel()

	c := cache.New()
	t.Cleanup(c.Close)

	c.ActivateSession("sess1", "subject-jwt", "user-1")
	require.NoError(t, c.Set("sess1", "key", "value", "subject-jwt", time.Now().Add(time.Hour)))

	// A different jwtSubject activating the same sessionId is treated as
	// a spoofing attempt: the old session (and its entries) are cleared.
	c.ActivateSession("sess1", "subject-jwt-2", "user-2")

	_, err := c.Get("sess1", "key", "subject-jwt")
	assert.ErrorIs(t, err, cache.ErrMiss)

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.RequestorMismatch)
}

func TestCache_ClearSessionRemovesEntries(t *testing.T) {
	t.Parallel()

	c := cache.New()
	t.Cleanup(c.Close)

	c.ActivateSession("sess1", "subject-jwt", "user-1")
	require.NoError(t, c.Set("sess1", "key", "value", "subject-jwt", time.Now().Add(time.Hour)))

	c.ClearSession("sess1")

	_, err := c.Get("sess1", "key", "subject-jwt")
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Equal(t, 0, c.Metrics().ActiveSessions)
}

func TestCache_PerSessionCapEvictsLRU(t *testing.T) {
	t.Parallel()

	c := cache.New(cache.WithMaxEntriesPerSession(2))
	t.Cleanup(c.Close)

	c.ActivateSession("sess1", "subject-jwt", "user-1")
	require.NoError(t, c.Set("sess1", "k1", "v1", "subject-jwt", time.Now().Add(time.Hour)))
	require.NoError(t, c.Set("sess1", "k2", "v2", "subject-jwt", time.Now().Add(time.Hour)))
	require.NoError(t, c.Set("sess1", "k3", "v3", "subject-jwt", time.Now().Add(time.Hour)))

	_, err := c.Get("sess1", "k1", "subject-jwt")
	assert.ErrorIs(t, err, cache.ErrMiss, "k1 should have been evicted as least recently used")

	v3, err := c.Get("sess1", "k3", "subject-jwt")
	require.NoError(t, err)
	assert.Equal(t, "v3", v3)
}
