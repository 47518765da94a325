package reconcile

import (
	"sync"
	"time"
)

// Policy decides when cache entries are evicted.
type Policy struct {
	retentionBlocks uint64
	ttl             time.Duration
}

// BlockRetention evicts entries not refreshed within the last k observed blocks.
func BlockRetention(k uint64) Policy {
	return Policy{retentionBlocks: k}
}

// TTL evicts entries older than d.
func TTL(d time.Duration) Policy {
	return Policy{ttl: d}
}

type entry[V any] struct {
	value     V
	seenBlock uint64
	seenAt    time.Time
}

// Cache is a concurrency-safe bounded cache keyed by a business key, holding the
// latest aggregate value and the block it was computed at.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	policy  Policy
	now     func() time.Time
}

// NewCache creates an empty cache with the given eviction policy.
func NewCache[K comparable, V any](policy Policy) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]entry[V]),
		policy:  policy,
		now:     time.Now,
	}
}

// Get returns the value stored for key and the block it was set at.
// Expired TTL entries are reported as missing even before a sweep.
func (c *Cache[K, V]) Get(key K) (V, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e, c.now()) {
		var zero V
		return zero, 0, false
	}
	return e.value, e.seenBlock, true
}

// Set stores value for key as computed at block.
func (c *Cache[K, V]) Set(key K, value V, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value:     value,
		seenBlock: block,
		seenAt:    c.now(),
	}
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Observe advances the cache to block and evicts entries with seen+K < block.
// It returns the number of evicted entries. It is a no-op under a TTL policy.
func (c *Cache[K, V]) Observe(block uint64) int {
	if c.policy.retentionBlocks == 0 && c.policy.ttl > 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for k, e := range c.entries {
		if e.seenBlock+c.policy.retentionBlocks < block {
			delete(c.entries, k)
			evicted++
		}
	}

	if evicted > 0 {
		cacheEvictionsInc("block", evicted)
	}
	return evicted
}

// Sweep evicts entries whose TTL elapsed and returns how many were removed.
// It is a no-op under a block retention policy.
func (c *Cache[K, V]) Sweep() int {
	if c.policy.ttl == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			evicted++
		}
	}

	if evicted > 0 {
		cacheEvictionsInc("ttl", evicted)
	}
	return evicted
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func (c *Cache[K, V]) expired(e entry[V], now time.Time) bool {
	return c.policy.ttl > 0 && now.Sub(e.seenAt) >= c.policy.ttl
}
