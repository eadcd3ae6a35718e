package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rankfuse/rankfuse/internal/vector"
)

// DefaultSimilarityThreshold is the minimum cosine similarity between
// query embeddings for a cached result to be reused for a different
// query text.
const DefaultSimilarityThreshold = 0.95

type queryEntry[V any] struct {
	value     V
	embedding []float32 // nil when the query never produced one
	scope     string    // filter signature + mode; reuse never crosses scopes
}

// QueryCache caches complete query responses. Lookup is two-tier:
// exact key match first, then a scan for a cached query whose
// embedding is close enough to the incoming one. Concurrent misses on
// the same key are collapsed through singleflight so the pipeline runs
// once.
type QueryCache[V any] struct {
	inner     *TTLLRU[queryEntry[V]]
	threshold float32 // <= 0 disables similarity reuse
	group     singleflight.Group
}

// NewQueryCache creates a query cache. A non-positive threshold turns
// similarity-based reuse off; exact matches still hit.
func NewQueryCache[V any](capacity int, ttl time.Duration, similarityThreshold float32) *QueryCache[V] {
	if capacity <= 0 {
		capacity = DefaultQueryCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	return &QueryCache[V]{
		inner:     NewTTLLRU[queryEntry[V]](capacity, ttl),
		threshold: similarityThreshold,
	}
}

// QueryKey builds the cache key from the normalized query text, the
// canonical filter signature and the retrieval mode. Any difference in
// filters or mode yields a different key.
func QueryKey(query, filterSignature, mode string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	hash := sha256.Sum256([]byte(normalized + "\x1f" + filterSignature + "\x1f" + mode))
	return hex.EncodeToString(hash[:])
}

// queryScope bounds similarity reuse to identical filters and mode.
func queryScope(filterSignature, mode string) string {
	return filterSignature + "\x1f" + mode
}

// Get looks up a cached response. queryEmbedding may be nil; then only
// the exact key can hit.
func (c *QueryCache[V]) Get(key string, queryEmbedding []float32, filterSignature, mode string) (V, bool) {
	if ent, ok := c.inner.Get(key); ok {
		return ent.value, true
	}
	var zero V
	if c.threshold <= 0 || queryEmbedding == nil {
		return zero, false
	}

	scope := queryScope(filterSignature, mode)
	var (
		found bool
		value V
	)
	c.inner.forEachLive(func(_ string, ent queryEntry[V]) bool {
		if ent.scope != scope || ent.embedding == nil {
			return true
		}
		if vector.Cosine(queryEmbedding, ent.embedding) >= c.threshold {
			value = ent.value
			found = true
			return false
		}
		return true
	})
	return value, found
}

// Put caches a response under its key, keeping the query embedding for
// later similarity lookups.
func (c *QueryCache[V]) Put(key string, value V, queryEmbedding []float32, filterSignature, mode string) {
	c.inner.Put(key, queryEntry[V]{
		value:     value,
		embedding: queryEmbedding,
		scope:     queryScope(filterSignature, mode),
	})
}

// GetOrCompute returns the cached response or runs compute exactly
// once per key across concurrent callers, caching its result.
func (c *QueryCache[V]) GetOrCompute(key string, queryEmbedding []float32, filterSignature, mode string, compute func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key, queryEmbedding, filterSignature, mode); ok {
		return v, true, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key, queryEmbedding, filterSignature, mode); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.Put(key, v, queryEmbedding, filterSignature, mode)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return result.(V), false, nil
}

// Invalidate clears all cached responses. Called on any index mutation
// since cached rankings may no longer reflect the corpus.
func (c *QueryCache[V]) Invalidate() { c.inner.Clear() }

// Purge drops expired entries.
func (c *QueryCache[V]) Purge() int { return c.inner.Purge() }

// Len returns the current entry count.
func (c *QueryCache[V]) Len() int { return c.inner.Len() }

// Stats returns hit/miss counters.
func (c *QueryCache[V]) Stats() Stats { return c.inner.Stats() }
