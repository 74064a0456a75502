package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Cache is an in-memory TTL cache for plans. Re-running a draft with the
// same topic inside the TTL reuses the plan instead of burning another
// planner call.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	plan    *Plan
	expires time.Time
}

// NewCache creates a cache. ttl <= 0 disables caching.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Key derives the cache key from the full request.
func Key(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.Topic))
	h.Write([]byte{0})
	h.Write([]byte(req.Scope))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(req.Seeds, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached plan or nil. Expired entries are evicted on read.
func (c *Cache) Get(req Request) *Plan {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(req)
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil
	}
	return e.plan
}

// Put stores a plan.
func (c *Cache) Put(req Request, p *Plan) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key(req)] = cacheEntry{plan: p, expires: c.now().Add(c.ttl)}
}
