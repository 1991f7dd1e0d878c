// Package cache implements EncryptedTokenCache: a session-scoped,
// AES-256-GCM-encrypted cache of delegation tokens bound to the SHA-256
// hash of the requestor's raw JWT, per spec.md §4.8. A stolen ciphertext
// or a rotated requestor JWT must never yield usable plaintext.
package cache

import (
	"container/list"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcpauth/obo-core/pkg/logger"
)

const (
	keySize = 32 // AES-256
	ivSize  = 12 // GCM standard nonce size

	// DefaultMaxEntriesPerSession and DefaultMaxTotalEntries bound memory
	// use; both enforced via LRU eviction.
	DefaultMaxEntriesPerSession = 256
	DefaultMaxTotalEntries      = 100_000
	DefaultSessionTimeout       = 30 * time.Minute
	DefaultSweepInterval        = 1 * time.Minute
)

// ErrMiss is returned by Get whenever there is no usable plaintext —
// callers never learn whether that was a true cache miss, an expiry, a
// requestor mismatch, or a tamper attempt; those are all observable only
// via Metrics.
var ErrMiss = errors.New("cache: miss")

// cacheEntry is the at-rest representation of one cached value.
type cacheEntry struct {
	ciphertext []byte
	iv         [ivSize]byte
	expiresAt  time.Time
	createdAt  time.Time
	lruElem    *list.Element // element in the owning session's lru list
}

// session is one CacheSession: a key bound to a single requestor JWT.
type session struct {
	mu         sync.Mutex
	key        [keySize]byte
	aad        [sha256.Size]byte
	jwtSubject string
	lastActive time.Time
	entries    map[string]*cacheEntry
	lru        *list.List // front = most recently used
}

func newSession(subjectToken, jwtSubject string) *session {
	s := &session{
		aad:        sha256.Sum256([]byte(subjectToken)),
		jwtSubject: jwtSubject,
		lastActive: time.Now(),
		entries:    make(map[string]*cacheEntry),
		lru:        list.New(),
	}
	if _, err := rand.Read(s.key[:]); err != nil {
		// crypto/rand failing is unrecoverable; panics here surface at
		// ActivateSession, never mid-request inside Get/Set.
		panic(fmt.Sprintf("cache: failed to generate session key: %v", err))
	}
	return s
}

// wipe best-effort zeroes the session key before the session is released.
func (s *session) wipe() {
	for i := range s.key {
		s.key[i] = 0
	}
}

// Metrics is a point-in-time snapshot of cache counters (spec.md §4.8).
type Metrics struct {
	Hits               uint64
	Misses             uint64
	DecryptionFailures uint64
	RequestorMismatch  uint64
	ActiveSessions     int
	TotalEntries       int
}

// Cache is the EncryptedTokenCache.
type Cache struct {
	mu       sync.Mutex
	sessions map[string]*session

	maxPerSession int
	maxTotal      int
	timeout       time.Duration

	hits, misses, decryptFail, mismatch uint64
	totalEntries                        int

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// Option configures New.
type Option func(*Cache)

// WithMaxEntriesPerSession overrides DefaultMaxEntriesPerSession.
func WithMaxEntriesPerSession(n int) Option { return func(c *Cache) { c.maxPerSession = n } }

// WithMaxTotalEntries overrides DefaultMaxTotalEntries.
func WithMaxTotalEntries(n int) Option { return func(c *Cache) { c.maxTotal = n } }

// WithSessionTimeout overrides DefaultSessionTimeout.
func WithSessionTimeout(d time.Duration) Option { return func(c *Cache) { c.timeout = d } }

// New builds an empty Cache and starts its background sweeper. Call
// Close to stop the sweeper goroutine.
func New(opts ...Option) *Cache {
	c := &Cache{
		sessions:      make(map[string]*session),
		maxPerSession: DefaultMaxEntriesPerSession,
		maxTotal:      DefaultMaxTotalEntries,
		timeout:       DefaultSessionTimeout,
		stopSweep:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop(DefaultSweepInterval)
	return c
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

// ActivateSession creates or re-validates the CacheSession for sessionID.
// If a session already exists under a different jwtSubject, this is
// treated as a spoofing attempt per the resolved Open Question: clear
// and reinitialize, incrementing RequestorMismatch.
func (c *Cache) ActivateSession(sessionID, subjectToken, jwtSubject string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sessions[sessionID]; ok {
		if existing.jwtSubject == jwtSubject {
			existing.lastActive = time.Now()
			return
		}
		logger.Warnf("cache: jwtSubject mismatch for session %s, reinitializing", sessionID)
		c.mismatch++
		c.totalEntries -= len(existing.entries)
		existing.wipe()
	}
	c.sessions[sessionID] = newSession(subjectToken, jwtSubject)
}

// ClearSession destroys sessionID's key material immediately.
func (c *Cache) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearSessionLocked(sessionID)
}

func (c *Cache) clearSessionLocked(sessionID string) {
	s, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	c.totalEntries -= len(s.entries)
	s.wipe()
	delete(c.sessions, sessionID)
}

// Set encrypts plaintext and stores it under cacheKey, bound to
// subjectToken's AAD. Returns an error only if sessionID is unknown or
// subjectToken no longer matches the session's AAD (the session must be
// reactivated via ActivateSession in that case).
func (c *Cache) Set(sessionID, cacheKey, plaintext, subjectToken string, expiresAt time.Time) error {
	sess, err := c.lookupSessionForWrite(sessionID, subjectToken)
	if err != nil {
		return err
	}

	var iv [ivSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return fmt.Errorf("cache: failed to generate IV: %w", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	block, err := aes.NewCipher(sess.key[:])
	if err != nil {
		return fmt.Errorf("cache: failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("cache: failed to build GCM: %w", err)
	}
	ciphertext := gcm.Seal(nil, iv[:], []byte(plaintext), sess.aad[:])

	entry := &cacheEntry{ciphertext: ciphertext, iv: iv, expiresAt: expiresAt, createdAt: time.Now()}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, exists := sess.entries[cacheKey]; exists {
		sess.lru.Remove(old.lruElem)
		c.totalEntries--
	}
	entry.lruElem = sess.lru.PushFront(cacheKey)
	sess.entries[cacheKey] = entry
	c.totalEntries++
	sess.lastActive = time.Now()

	c.evictIfOverCapLocked(sess)
	return nil
}

func (c *Cache) lookupSessionForWrite(sessionID, subjectToken string) (*session, error) {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("cache: no active session %s", sessionID)
	}
	if sha256.Sum256([]byte(subjectToken)) != sess.aad {
		return nil, fmt.Errorf("cache: subject token does not match activated session %s", sessionID)
	}
	return sess, nil
}

// evictIfOverCapLocked must be called with c.mu held; evicts the least
// recently used entries of sess until both the per-session and global
// caps are satisfied.
func (c *Cache) evictIfOverCapLocked(sess *session) {
	for len(sess.entries) > c.maxPerSession || c.totalEntries > c.maxTotal {
		oldest := sess.lru.Back()
		if oldest == nil {
			return
		}
		key := oldest.Value.(string)
		sess.lru.Remove(oldest)
		delete(sess.entries, key)
		c.totalEntries--
	}
}

// Get decrypts and returns the plaintext stored under cacheKey, or
// ErrMiss if absent, expired, or the AAD no longer matches subjectToken
// (a rotated requestor JWT must not unlock previously cached tokens).
func (c *Cache) Get(sessionID, cacheKey, subjectToken string) (string, error) {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		c.recordMiss()
		return "", ErrMiss
	}

	if sha256.Sum256([]byte(subjectToken)) != sess.aad {
		c.recordDecryptFailure()
		return "", ErrMiss
	}

	sess.mu.Lock()
	entry, ok := sess.entries[cacheKey]
	if !ok {
		sess.mu.Unlock()
		c.recordMiss()
		return "", ErrMiss
	}
	if !entry.expiresAt.After(time.Now()) {
		sess.lru.Remove(entry.lruElem)
		delete(sess.entries, cacheKey)
		sess.mu.Unlock()
		c.mu.Lock()
		c.totalEntries--
		c.mu.Unlock()
		c.recordMiss()
		return "", ErrMiss
	}

	block, err := aes.NewCipher(sess.key[:])
	if err != nil {
		sess.mu.Unlock()
		c.recordDecryptFailure()
		return "", ErrMiss
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		sess.mu.Unlock()
		c.recordDecryptFailure()
		return "", ErrMiss
	}
	plaintext, err := gcm.Open(nil, entry.iv[:], entry.ciphertext, sess.aad[:])
	if err != nil {
		sess.mu.Unlock()
		c.recordDecryptFailure()
		return "", ErrMiss
	}
	sess.lru.MoveToFront(entry.lruElem)
	sess.lastActive = time.Now()
	sess.mu.Unlock()

	c.recordHit()
	return string(plaintext), nil
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *Cache) recordDecryptFailure() {
	c.mu.Lock()
	c.misses++
	c.decryptFail++
	c.mu.Unlock()
}

// Metrics returns a snapshot of the cache's counters.
func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		Hits:               c.hits,
		Misses:             c.misses,
		DecryptionFailures: c.decryptFail,
		RequestorMismatch:  c.mismatch,
		ActiveSessions:     len(c.sessions),
		TotalEntries:       c.totalEntries,
	}
}

// sweepLoop destroys sessions inactive for longer than c.timeout.
func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.sweepExpiredSessions()
		}
	}
}

func (c *Cache) sweepExpiredSessions() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.timeout)
	for id, sess := range c.sessions {
		if sess.lastActive.Before(cutoff) {
			c.clearSessionLocked(id)
		}
	}
}
