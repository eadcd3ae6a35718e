package search

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankfuse/rankfuse/internal/embed"
	"github.com/rankfuse/rankfuse/internal/filter"
	"github.com/rankfuse/rankfuse/internal/index"
	"github.com/rankfuse/rankfuse/internal/meta"
	"github.com/rankfuse/rankfuse/internal/rferrors"
	"github.com/rankfuse/rankfuse/internal/store"
	"github.com/rankfuse/rankfuse/internal/telemetry"
	"github.com/rankfuse/rankfuse/internal/vector"
)

var testSchema = meta.Schema{
	"category": meta.TypeString,
	"rating":   meta.TypeNumber,
	"tags":     meta.TypeStringSet,
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	vectors, err := vector.New(vector.DefaultConfig(embedder.Dimensions()))
	require.NoError(t, err)
	docs, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0 // exact cache hits only, keeps tests predictable

	e, err := NewEngine(index.New(index.DefaultConfig()), vectors, docs, embedder, testSchema, cfg, opts...)
	require.NoError(t, err)
	return e
}

func seedCorpus(t *testing.T, e *Engine) {
	t.Helper()
	err := e.Index(context.Background(),
		&store.Document{
			ID: "1", Text: "cats are great", SourceTag: "pets",
			Metadata: meta.Metadata{"category": meta.String("animals"), "rating": meta.Number(5)},
		},
		&store.Document{
			ID: "2", Text: "dogs are great", SourceTag: "pets",
			Metadata: meta.Metadata{"category": meta.String("animals"), "rating": meta.Number(4)},
		},
		&store.Document{
			ID: "3", Text: "cats and dogs", SourceTag: "pets",
			Metadata: meta.Metadata{"category": meta.String("mixed"), "rating": meta.Number(3)},
		},
	)
	require.NoError(t, err)
}

func TestLexicalEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)

	resp, err := e.Search(context.Background(), Query{Text: "cats", Mode: ModeLexical, K: 2})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	got := []string{resp.Results[0].DocID, resp.Results[1].DocID}
	assert.ElementsMatch(t, []string{"1", "3"}, got, "only documents containing cats")
	assert.Greater(t, resp.Results[0].LexicalScore, 0.0)
	assert.GreaterOrEqual(t, resp.Results[0].FusedScore, resp.Results[1].FusedScore)
	assert.False(t, resp.Degraded)
	assert.NotEmpty(t, resp.TraceID)
	assert.Equal(t, 2, resp.TotalCandidates)
}

func TestHybridEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)

	resp, err := e.Search(context.Background(), Query{Text: "cats", Mode: ModeHybrid, K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.False(t, resp.Degraded)

	// Documents mentioning cats appear in both source lists and fuse
	// ahead of the dog-only document.
	assert.Contains(t, []string{"1", "3"}, resp.Results[0].DocID)
	assert.True(t, resp.Results[0].InBoth)
	assert.InDelta(t, 1.0, resp.Results[0].FusedScore, 1e-9)
	assert.GreaterOrEqual(t, resp.Timings.RetrievalMs, int64(0))
	assert.Nil(t, resp.Timings.RerankMs, "rerank timing absent when stage skipped")
}

func TestFilteredSearch(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)

	resp, err := e.Search(context.Background(), Query{
		Text:   "cats dogs",
		Mode:   ModeLexical,
		K:      10,
		Filter: filter.Cmp("category", filter.OpEq, meta.String("animals")),
	})
	require.NoError(t, err)

	for _, r := range resp.Results {
		assert.NotEqual(t, "3", r.DocID, "category=mixed must be filtered out")
	}
	require.Len(t, resp.Results, 2)
}

func TestValidationErrors(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)
	ctx := context.Background()

	_, err := e.Search(ctx, Query{Text: "   ", Mode: ModeLexical})
	require.Error(t, err)
	assert.Equal(t, rferrors.ErrCodeInvalidQuery, rferrors.GetCode(err))

	_, err = e.Search(ctx, Query{Text: "cats", Mode: "fuzzy"})
	require.Error(t, err)

	// Filter type mismatch fails before any retrieval.
	_, err = e.Search(ctx, Query{
		Text:   "cats",
		Mode:   ModeLexical,
		Filter: filter.Cmp("rating", filter.OpGt, meta.String("high")),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, rferrors.ErrInvalidFilterType)

	_, err = e.Search(ctx, Query{Text: "cats", Mode: ModeLexical, DiversificationLambda: 1.5})
	require.Error(t, err)
}

type failingEmbedder struct{ embed.Embedder }

func newFailingEmbedder() *failingEmbedder {
	return &failingEmbedder{Embedder: embed.NewStaticEmbedder()}
}

func (f *failingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, rferrors.New(rferrors.ErrCodeProviderUnavailable,
		"provider down", rferrors.ErrProviderUnavailable)
}

func TestHybridDegradesToLexicalOnly(t *testing.T) {
	embedder := embed.NewStaticEmbedder()
	vectors, err := vector.New(vector.DefaultConfig(embedder.Dimensions()))
	require.NoError(t, err)
	docs, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0

	e, err := NewEngine(index.New(index.DefaultConfig()), vectors, docs, embedder, testSchema, cfg)
	require.NoError(t, err)
	seedCorpus(t, e)

	// Swap in an embedder that fails every query-time call. Indexed
	// vectors stay in place; only query embedding breaks.
	e.embedder = newFailingEmbedder()

	resp, err := e.Search(context.Background(), Query{Text: "cats", Mode: ModeHybrid, K: 2})
	require.NoError(t, err, "degradation is never a hard failure")
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReasons, ReasonVectorUnavailable)
	require.NotEmpty(t, resp.Results, "lexical results still served")
	for _, r := range resp.Results {
		assert.Zero(t, r.VectorRank)
	}
}

func TestVectorModeFailsWhenEmbedderDown(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)
	e.embedder = newFailingEmbedder()

	_, err := e.Search(context.Background(), Query{Text: "cats", Mode: ModeVector, K: 2})
	require.Error(t, err, "vector-only with no embedding has no source left")
}

func TestFacetsComputedOverCandidatePool(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)

	resp, err := e.Search(context.Background(), Query{
		Text:   "cats dogs",
		Mode:   ModeLexical,
		K:      1, // top-K smaller than the pool
		Facets: []string{"category"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	// Facets describe the whole candidate pool, not the returned K.
	require.Contains(t, resp.Facets, "category")
	total := 0
	for _, c := range resp.Facets["category"] {
		total += c.Count
	}
	assert.Equal(t, resp.TotalCandidates, total)
	assert.Greater(t, total, 1)
}

func TestRerankingStage(t *testing.T) {
	e := newTestEngine(t, WithReranker(&OverlapReranker{}))
	seedCorpus(t, e)

	resp, err := e.Search(context.Background(), Query{
		Text:         "cats are great",
		Mode:         ModeLexical,
		K:            3,
		UseReranking: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	require.NotNil(t, resp.Timings.RerankMs)

	// The exact-phrase document wins on token coverage.
	assert.Equal(t, "1", resp.Results[0].DocID)
	assert.Greater(t, resp.Results[0].RerankScore, 0.0)
}

type failingReranker struct{}

func (failingReranker) Score(context.Context, string, []Candidate) ([]float64, error) {
	return nil, errors.New("cross-encoder offline")
}
func (failingReranker) Available(context.Context) bool { return false }

func TestRerankFailureFallsBackToFusedOrder(t *testing.T) {
	e := newTestEngine(t, WithReranker(failingReranker{}))
	seedCorpus(t, e)

	resp, err := e.Search(context.Background(), Query{
		Text:         "cats",
		Mode:         ModeLexical,
		K:            2,
		UseReranking: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReasons, ReasonRerankUnavailable)
	assert.Nil(t, resp.Timings.RerankMs)
	require.NotEmpty(t, resp.Results)
}

func TestExpansionWithoutExpanderDegrades(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)

	resp, err := e.Search(context.Background(), Query{
		Text:         "cats",
		Mode:         ModeLexical,
		K:            2,
		UseExpansion: true,
	})
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedReasons, ReasonExpansionUnavailable)
	require.Len(t, resp.Results, 2, "retrieval still runs without expansion")
}

func TestMetricsObserveQueriesAndRebuilds(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, WithMetrics(telemetry.New(reg)))
	seedCorpus(t, e)

	_, err := e.Search(context.Background(), Query{Text: "cats", Mode: ModeLexical, K: 2})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]uint64{}
	for _, mf := range families {
		switch mf.GetName() {
		case "rankfuse_queries_total":
			byName[mf.GetName()] = uint64(mf.GetMetric()[0].GetCounter().GetValue())
		case "rankfuse_index_rebuild_duration_seconds":
			byName[mf.GetName()] = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.EqualValues(t, 1, byName["rankfuse_queries_total"])
	assert.GreaterOrEqual(t, byName["rankfuse_index_rebuild_duration_seconds"], uint64(1),
		"indexing marks the stats dirty, the first search rebuilds")
}

func TestExpansionAddsVariants(t *testing.T) {
	exp := NewSynonymExpander(map[string][]string{"cats": {"felines"}})
	e := newTestEngine(t, WithExpander(exp))
	require.NoError(t, e.Index(context.Background(),
		&store.Document{ID: "f", Text: "felines purr softly"},
		&store.Document{ID: "c", Text: "cats purr softly"},
	))

	resp, err := e.Search(context.Background(), Query{
		Text:         "cats",
		Mode:         ModeLexical,
		K:            5,
		UseExpansion: true,
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.DocID)
	}
	assert.Contains(t, ids, "f", "synonym variant recalls the felines document")
	assert.Contains(t, ids, "c")
}

func TestQueryCacheHitOnRepeat(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)
	ctx := context.Background()

	q := Query{Text: "cats", Mode: ModeLexical, K: 2}
	first, err := e.Search(ctx, q)
	require.NoError(t, err)

	second, err := e.Search(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, first.TraceID, second.TraceID, "identical trace proves the cached response was reused")

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.QueryCache.Hits)
}

func TestIndexInvalidatesQueryCache(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)
	ctx := context.Background()

	q := Query{Text: "cats", Mode: ModeLexical, K: 5}
	first, err := e.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, first.Results, 2)

	require.NoError(t, e.Index(ctx, &store.Document{ID: "4", Text: "more cats here"}))

	refreshed, err := e.Search(ctx, q)
	require.NoError(t, err)
	assert.Len(t, refreshed.Results, 3, "mutation dropped the stale cached response")
}

func TestDeleteRemovesFromResults(t *testing.T) {
	e := newTestEngine(t)
	seedCorpus(t, e)
	ctx := context.Background()

	require.NoError(t, e.Delete(ctx, "1"))

	resp, err := e.Search(ctx, Query{Text: "cats", Mode: ModeHybrid, K: 5})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, "1", r.DocID)
	}
	assert.Equal(t, 2, e.Stats().Documents)
}

func TestMetadataValidationOnIngest(t *testing.T) {
	e := newTestEngine(t)
	err := e.Index(context.Background(), &store.Document{
		ID:   "bad",
		Text: "text",
		Metadata: meta.Metadata{
			"unknown_field": meta.String("x"),
		},
	})
	require.Error(t, err)
	assert.Equal(t, rferrors.ErrCodeInvalidQuery, rferrors.GetCode(err))
}

func TestIndexBatchLargeSet(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	docs := make([]*store.Document, 50)
	for i := range docs {
		docs[i] = &store.Document{
			ID:   string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Text: "document about cats number",
		}
	}
	require.NoError(t, e.IndexBatch(ctx, docs, 8))
	assert.Equal(t, 50, e.Stats().Documents)

	resp, err := e.Search(ctx, Query{Text: "cats", Mode: ModeLexical, K: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 10)
	assert.Equal(t, 50, resp.TotalCandidates)
}

func TestRebuildFromStore(t *testing.T) {
	embedder := embed.NewStaticEmbedder()
	docs, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })
	ctx := context.Background()

	// Populate the durable store directly, then rebuild indexes from it.
	emb, err := embedder.Embed(ctx, "cats are great")
	require.NoError(t, err)
	require.NoError(t, docs.Put(ctx, &store.Document{ID: "1", Text: "cats are great", Embedding: emb}))

	vectors, err := vector.New(vector.DefaultConfig(embedder.Dimensions()))
	require.NoError(t, err)
	e, err := NewEngine(index.New(index.DefaultConfig()), vectors, docs, embedder, testSchema, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, e.Rebuild(ctx))

	resp, err := e.Search(ctx, Query{Text: "cats", Mode: ModeHybrid, K: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "1", resp.Results[0].DocID)
	assert.True(t, resp.Results[0].InBoth)
}
