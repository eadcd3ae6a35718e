// Package embed turns text into vectors. Two providers ship: an HTTP
// provider speaking the Ollama embedding API, and a deterministic
// hash-based embedder that needs no network.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize bounds texts per provider request.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to bound request memory.
	MaxBatchSize = 256

	// DefaultTimeout is the per-request timeout for HTTP providers.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for retryable provider errors.
	DefaultMaxRetries = 3

	// StaticDimensions is the hash embedder's vector width.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
