package tenant

import (
	"sync"
	"time"
)

// cacheEntry pairs a tenant snapshot with its expiry.
type cacheEntry struct {
	tenant    *Tenant
	expiresAt time.Time
}

// ttlCache is a small expiring cache in front of the store. Tenant rows
// change rarely, so a short TTL keeps the per-request lookup off the
// database without a real invalidation protocol.
type ttlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *ttlCache) get(key string, now time.Time) (*Tenant, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	cp := *entry.tenant
	return &cp, true
}

func (c *ttlCache) set(key string, t *Tenant, now time.Time) {
	cp := *t
	c.mu.Lock()
	c.entries[key] = cacheEntry{tenant: &cp, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache) invalidate(keys ...string) {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.mu.Unlock()
}
