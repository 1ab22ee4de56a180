// ABOUTME: Thread-safe TTL cache of verified cookie claims
// ABOUTME: Spares repeat requests the PBKDF2 derivation without outliving a claim's expiry

package claimcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/2389/mirmod/internal/hashcookie"
)

// Default sizing used by the auth verifier.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10000
)

// cacheEntry stores a claim, its deadline and its place in the eviction order.
type cacheEntry struct {
	claim    hashcookie.Claim
	deadline time.Time
	element  *list.Element
}

// Cache maps a (raw token, key material) pair to the claim it verified to.
// Entries expire after the TTL or at the claim's own expiry, whichever
// comes first. When full, the oldest entry is evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background cleanup.
func New(ttl time.Duration, maxSize int) *Cache {
	return NewWithClock(ttl, maxSize, time.Now)
}

// NewWithClock creates a cache with an injected clock.
func NewWithClock(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Key identifies a verification. Changing the user's key material
// changes the key, so rotated secrets never hit old entries.
func Key(raw string, user hashcookie.KnownUser) string {
	h := sha256.New()
	for _, part := range []string{user.Subject, user.HexSecret, user.HexSalt, raw} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached claim for key, if it is still live.
func (c *Cache) Get(key string) (*hashcookie.Claim, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.live(entry, c.now()) {
		c.removeLocked(key, entry)
		return nil, false
	}
	return copyClaim(entry.claim), true
}

// Put stores claim under key. Claims that have already expired are not stored.
func (c *Cache) Put(key string, claim *hashcookie.Claim) {
	now := c.now()
	if now.Unix() > claim.Expiry {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.claim = *copyClaim(*claim)
		entry.deadline = now.Add(c.ttl)
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		claim:    *copyClaim(*claim),
		deadline: now.Add(c.ttl),
		element:  elem,
	}
}

// Len returns the number of stored entries, including ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// live reports whether entry can still be served at now. The claim is
// valid through its expiry second, matching the authenticator.
func (c *Cache) live(entry *cacheEntry, now time.Time) bool {
	return now.Before(entry.deadline) && now.Unix() <= entry.claim.Expiry
}

func (c *Cache) removeLocked(key string, entry *cacheEntry) {
	c.order.Remove(entry.element)
	delete(c.entries, key)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes every entry that can no longer be served.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if !c.live(entry, now) {
			c.removeLocked(key, entry)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

func copyClaim(c hashcookie.Claim) *hashcookie.Claim {
	out := c
	if c.Authorization != nil {
		auth := *c.Authorization
		out.Authorization = &auth
	}
	return &out
}
