// Package cache implements the TTL-bounded LRU caches used across the
// engine: one for computed embeddings that survive restarts of the
// provider, and one for whole query results with near-duplicate lookup.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Default cache sizing and lifetimes.
const (
	DefaultEmbeddingCacheSize = 10000
	DefaultEmbeddingTTL       = 24 * time.Hour

	DefaultQueryCacheSize = 1000
	DefaultQueryTTL       = 5 * time.Minute
)

// Stats counts cache activity since creation.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

type entry[V any] struct {
	key         string
	value       V
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount uint64
}

// TTLLRU is a fixed-capacity cache with per-entry expiry. Entries
// expire a fixed TTL after insertion regardless of access; expiry is
// checked on every lookup, so a stale entry is never returned even if
// the background purge has not run. When full, the least recently used
// live entry is evicted.
//
// golang-lru/v2 does not expose insertion-time expiry checked on read
// nor access counts, so this is hand-rolled on container/list.
type TTLLRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	stats    Stats
	now      func() time.Time
}

// NewTTLLRU creates a cache holding up to capacity entries for ttl each.
func NewTTLLRU[V any](capacity int, ttl time.Duration) *TTLLRU[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &TTLLRU[V]{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the live entry for key. Expired entries are removed on
// the spot and reported as misses.
func (c *TTLLRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	ent := elem.Value.(*entry[V])
	if c.expired(ent) {
		c.removeElement(elem)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}
	ent.lastAccess = c.now()
	ent.accessCount++
	c.order.MoveToFront(elem)
	c.stats.Hits++
	return ent.value, true
}

// Put inserts or replaces a value. Replacing resets the entry's TTL.
func (c *TTLLRU[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[V])
		ent.value = value
		ent.insertedAt = now
		ent.lastAccess = now
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		c.evictOne()
	}
	elem := c.order.PushFront(&entry[V]{
		key:        key,
		value:      value,
		insertedAt: now,
		lastAccess: now,
	})
	c.items[key] = elem
}

// Remove drops a key if present.
func (c *TTLLRU[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Purge removes all expired entries and returns how many were dropped.
func (c *TTLLRU[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*entry[V])) {
			c.removeElement(elem)
			c.stats.Expirations++
			removed++
		}
		elem = prev
	}
	return removed
}

// Clear empties the cache. Stats are preserved.
func (c *TTLLRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of entries including any not yet purged.
func (c *TTLLRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the hit/miss counters.
func (c *TTLLRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// forEachLive walks live entries from most to least recently used.
// Expired entries encountered during the walk are removed. Callers
// hold no lock; iteration stops when fn returns false.
func (c *TTLLRU[V]) forEachLive(fn func(key string, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*entry[V])
		if c.expired(ent) {
			c.removeElement(elem)
			c.stats.Expirations++
		} else if !fn(ent.key, ent.value) {
			return
		}
		elem = next
	}
}

func (c *TTLLRU[V]) expired(ent *entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(ent.insertedAt) >= c.ttl
}

// evictOne prefers an expired entry; otherwise the LRU live entry goes.
func (c *TTLLRU[V]) evictOne() {
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		if c.expired(elem.Value.(*entry[V])) {
			c.removeElement(elem)
			c.stats.Expirations++
			return
		}
	}
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
	}
}

func (c *TTLLRU[V]) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry[V])
	c.order.Remove(elem)
	delete(c.items, ent.key)
}
