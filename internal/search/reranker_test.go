package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlapRerankerScoresByCoverage(t *testing.T) {
	r := &OverlapReranker{}
	scores, err := r.Score(context.Background(), "cats and dogs", []Candidate{
		{DocID: "full", Text: "cats and dogs play together"},
		{DocID: "half", Text: "cats sleep all day"},
		{DocID: "none", Text: "quarterly revenue report"},
		{DocID: "empty", Text: ""},
	})
	require.NoError(t, err)
	require.Len(t, scores, 4)
	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[1], scores[2])
	assert.Equal(t, 0.0, scores[2])
	assert.Equal(t, 0.0, scores[3])
}

type countingReranker struct {
	calls atomic.Int32
	fail  bool
}

func (c *countingReranker) Score(_ context.Context, _ string, candidates []Candidate) ([]float64, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("model offline")
	}
	scores := make([]float64, len(candidates))
	for i := range candidates {
		scores[i] = float64(len(candidates[i].Text))
	}
	return scores, nil
}

func (c *countingReranker) Available(_ context.Context) bool { return !c.fail }

func TestCachedRerankerMemoizesPairs(t *testing.T) {
	inner := &countingReranker{}
	c := NewCachedReranker(inner, 100)
	ctx := context.Background()

	cands := []Candidate{{DocID: "a", Text: "xx"}, {DocID: "b", Text: "yyyy"}}
	first, err := c.Score(ctx, "query", cands)
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())

	// Same pairs: fully served from cache.
	second, err := c.Score(ctx, "query", cands)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())

	// One new pair: only the miss reaches the scorer.
	third, err := c.Score(ctx, "query", append(cands, Candidate{DocID: "c", Text: "z"}))
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, first[0], third[0])

	// Different query text is a different pair.
	_, err = c.Score(ctx, "other query", cands[:1])
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestApplyRerankOrder(t *testing.T) {
	results := []*RankedResult{
		{DocID: "a", FusedScore: 1.0},
		{DocID: "b", FusedScore: 0.9},
		{DocID: "c", FusedScore: 0.8},
	}
	applyRerankOrder(results, []float64{0.1, 0.9, 0.9})

	// c and b tie on rerank score; b wins on fused score.
	assert.Equal(t, "b", results[0].DocID)
	assert.Equal(t, "c", results[1].DocID)
	assert.Equal(t, "a", results[2].DocID)
	assert.Equal(t, 0.9, results[0].RerankScore)
}

func TestSynonymExpander(t *testing.T) {
	e := NewSynonymExpander(map[string][]string{
		"cat": {"feline", "kitten"},
	})

	variants, err := e.Expand(context.Background(), "my cat photos")
	require.NoError(t, err)
	assert.Equal(t, []string{"my feline photos", "my kitten photos"}, variants)

	variants, err = e.Expand(context.Background(), "no matches here")
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestSynonymExpanderCapsVariants(t *testing.T) {
	e := NewSynonymExpander(map[string][]string{
		"big": {"large", "huge", "giant", "massive", "vast"},
	})
	variants, err := e.Expand(context.Background(), "big data")
	require.NoError(t, err)
	assert.Len(t, variants, MaxQueryVariants-1)
}

func TestDiversifyDemotesNearDuplicates(t *testing.T) {
	embeddings := map[string][]float32{
		"top":       {1, 0, 0},
		"duplicate": {0.999, 0.01, 0},
		"different": {0, 1, 0},
	}
	lookup := func(id string) ([]float32, bool) {
		e, ok := embeddings[id]
		return e, ok
	}

	results := []*RankedResult{
		{DocID: "top", FusedScore: 1.0},
		{DocID: "duplicate", FusedScore: 0.95},
		{DocID: "different", FusedScore: 0.5},
	}

	ordered := diversify(results, 0.5, lookup)
	require.Len(t, ordered, 3)
	assert.Equal(t, "top", ordered[0].DocID)
	assert.Equal(t, "different", ordered[1].DocID, "near-duplicate of the top pick is pushed down")
	assert.Equal(t, "duplicate", ordered[2].DocID)
}

func TestDiversifyPureRelevanceIsIdentity(t *testing.T) {
	results := []*RankedResult{
		{DocID: "a", FusedScore: 1.0},
		{DocID: "b", FusedScore: 0.9},
		{DocID: "c", FusedScore: 0.8},
	}
	ordered := diversify(results, 1.0, func(string) ([]float32, bool) { return nil, false })
	assert.Equal(t, results, ordered)
}
