// Package cache provides a time-bound response cache whose entries carry a keyed
// integrity tag so tampering in shared storage is detected instead of trusted.
package cache

import (
	"crypto/hmac"
	"crypto/sha256"
	"log"
	"sync"
	"time"
)

// Fingerprint derives the cache key for a request payload.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return string(sum[:])
}

type entry struct {
	payload      []byte
	integrityTag []byte
	expiresAt    time.Time
}

// Cache is a concurrency-safe in-memory response cache. Entries are written and
// read as a unit under the lock, so a reader never observes a partial entry.
type Cache struct {
	mu      sync.RWMutex
	secret  []byte
	entries map[string]entry
	now     func() time.Time
}

// New returns a Cache using secret for integrity tags. The secret is process-wide
// and never stored alongside the entries.
func New(secret []byte) *Cache {
	return &Cache{
		secret:  append([]byte(nil), secret...),
		entries: map[string]entry{},
		now:     time.Now,
	}
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(secret []byte, now func() time.Time) *Cache {
	c := New(secret)
	c.now = now
	return c
}

func (c *Cache) tag(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Put stores payload under fingerprint with the given ttl. Last write wins.
func (c *Cache) Put(fingerprint string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	e := entry{
		payload:      append([]byte(nil), payload...),
		integrityTag: c.tag(payload),
		expiresAt:    c.now().Add(ttl),
	}
	c.mu.Lock()
	c.entries[fingerprint] = e
	c.mu.Unlock()
}

// Get returns the cached payload, or nil if absent, expired, or corrupted.
// A recomputed integrity tag is compared in constant time; a mismatch evicts the
// entry and is treated as a miss so tampered data is never returned.
func (c *Cache) Get(fingerprint string) []byte {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	if c.now().After(e.expiresAt) {
		c.evict(fingerprint)
		return nil
	}

	if !hmac.Equal(c.tag(e.payload), e.integrityTag) {
		log.Printf("[cache] integrity tag mismatch, evicting entry")
		c.evict(fingerprint)
		return nil
	}
	return append([]byte(nil), e.payload...)
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) evict(fingerprint string) {
	c.mu.Lock()
	delete(c.entries, fingerprint)
	c.mu.Unlock()
}

// Tamper overwrites the stored payload bytes for fingerprint without refreshing
// the integrity tag. It exists for tests that prove corruption is detected.
func (c *Cache) Tamper(fingerprint string, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		return false
	}
	e.payload = append([]byte(nil), payload...)
	c.entries[fingerprint] = e
	return true
}
