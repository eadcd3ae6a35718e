package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankfuse/rankfuse/internal/rferrors"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, StaticDimensions)

	// Unit length.
	var norm float64
	for _, x := range v1 {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestStaticEmbedderSimilarTextsCloser(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, _ := e.Embed(ctx, "cats are wonderful pets")
	b, _ := e.Embed(ctx, "cats are great pets")
	c, _ := e.Embed(ctx, "quarterly revenue projections")

	simAB := dot(a, b)
	simAC := dot(a, c)
	assert.Greater(t, simAB, simAC, "overlapping vocabulary should score closer")
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticEmbedder()
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, x := range vec {
		assert.Equal(t, float32(0), x)
	}
}

func TestStaticEmbedderClosed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())
	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestHTTPEmbedderBatch(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		embs := make([][]float32, len(req.Input))
		for i := range embs {
			embs[i] = []float32{1, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: embs})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPConfig{Host: srv.URL, Model: "test", BatchSize: 2})
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, int32(2), requests.Load(), "3 texts at batch size 2 is two requests")
	assert.Equal(t, 3, e.Dimensions(), "dimension detected from first response")
}

func TestHTTPEmbedderRetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0, 1}}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPConfig{Host: srv.URL, Model: "test", MaxRetries: 3})
	defer e.Close()

	vecs, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPEmbedderBadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPConfig{Host: srv.URL, Model: "test", MaxRetries: 3})
	defer e.Close()

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, rferrors.ErrCodeEmbeddingFailed, rferrors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load(), "client errors are terminal")
}

func TestHTTPEmbedderUnreachable(t *testing.T) {
	e := NewHTTPEmbedder(HTTPConfig{
		Host:       "http://127.0.0.1:1",
		Model:      "test",
		MaxRetries: 1,
		Timeout:    time.Second,
	})
	defer e.Close()

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, rferrors.ErrProviderUnavailable)
	assert.False(t, e.Available(context.Background()))
}

func TestCachedEmbedderAvoidsRecompute(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 100, time.Hour)
	ctx := context.Background()

	_, err := c.Embed(ctx, "hello world")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "HELLO   world")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load(), "normalized variants share one entry")

	stats := c.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestCachedEmbedderBatchPartialHit(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 100, time.Hour)
	ctx := context.Background()

	_, err := c.Embed(ctx, "cached text")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"new one", "cached text", "new two"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, int32(3), inner.calls.Load(), "only the two misses reach the provider")
	for _, v := range vecs {
		assert.Len(t, v, 3)
	}
}

type countingEmbedder struct {
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	c.calls.Add(1)
	return []float32{1, 0, 0}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, _ := c.Embed(ctx, texts[i])
		out[i] = v
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int                  { return 3 }
func (c *countingEmbedder) ModelName() string                { return "counting" }
func (c *countingEmbedder) Available(_ context.Context) bool { return true }
func (c *countingEmbedder) Close() error                     { return nil }

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
