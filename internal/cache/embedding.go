package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// EmbeddingCache stores computed text embeddings keyed by a content
// hash of the normalized text, so the same text never hits the
// provider twice within the TTL.
type EmbeddingCache struct {
	inner *TTLLRU[[]float32]
	model string
}

// NewEmbeddingCache creates an embedding cache scoped to one model.
// Entries from different models must never collide, so the model name
// is folded into every key.
func NewEmbeddingCache(model string, capacity int, ttl time.Duration) *EmbeddingCache {
	if capacity <= 0 {
		capacity = DefaultEmbeddingCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultEmbeddingTTL
	}
	return &EmbeddingCache{
		inner: NewTTLLRU[[]float32](capacity, ttl),
		model: model,
	}
}

// EmbeddingKey hashes normalized text into a cache key. Normalization
// is lowercase plus whitespace collapse, matching query normalization
// so "Hello  World" and "hello world" share one entry.
func EmbeddingKey(model, text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	hash := sha256.Sum256([]byte(model + "\x00" + normalized))
	return hex.EncodeToString(hash[:])
}

// Get returns the cached embedding for text, if live.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	return c.inner.Get(EmbeddingKey(c.model, text))
}

// Put caches an embedding for text.
func (c *EmbeddingCache) Put(text string, embedding []float32) {
	c.inner.Put(EmbeddingKey(c.model, text), embedding)
}

// Purge drops expired entries.
func (c *EmbeddingCache) Purge() int { return c.inner.Purge() }

// Len returns the current entry count.
func (c *EmbeddingCache) Len() int { return c.inner.Len() }

// Stats returns hit/miss counters.
func (c *EmbeddingCache) Stats() Stats { return c.inner.Stats() }
