package search

import (
	"context"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Candidate pairs a document ID with its text for re-ranking.
type Candidate struct {
	DocID string
	Text  string
}

// Reranker re-scores candidates against the original query text.
// Cross-encoders are the expensive stage of the pipeline, so scores
// are cached per (query, document) pair by CachedReranker.
type Reranker interface {
	// Score returns a relevance score per candidate, index-aligned
	// with the input.
	Score(ctx context.Context, query string, candidates []Candidate) ([]float64, error)

	// Available checks if the reranker is ready.
	Available(ctx context.Context) bool
}

// OverlapReranker scores by weighted token overlap between query and
// document. A stand-in cross-encoder: deterministic, dependency-free,
// and exercising the same pipeline path a model-backed scorer would.
type OverlapReranker struct{}

var _ Reranker = (*OverlapReranker)(nil)

// Score computes normalized token overlap per candidate.
func (r *OverlapReranker) Score(_ context.Context, query string, candidates []Candidate) ([]float64, error) {
	queryTokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		queryTokens[tok] = true
	}

	scores := make([]float64, len(candidates))
	if len(queryTokens) == 0 {
		return scores, nil
	}
	for i, c := range candidates {
		docTokens := strings.Fields(strings.ToLower(c.Text))
		if len(docTokens) == 0 {
			continue
		}
		matched := 0
		seen := make(map[string]bool, len(docTokens))
		for _, tok := range docTokens {
			if queryTokens[tok] && !seen[tok] {
				matched++
				seen[tok] = true
			}
		}
		scores[i] = float64(matched) / float64(len(queryTokens))
	}
	return scores, nil
}

// Available always reports ready.
func (r *OverlapReranker) Available(_ context.Context) bool { return true }

// CachedReranker memoizes pair scores in an LRU keyed by
// query + document ID. Repeated pairs are common across sessions, so
// hits skip the scorer entirely.
type CachedReranker struct {
	inner Reranker
	cache *lru.Cache[string, float64]
}

var _ Reranker = (*CachedReranker)(nil)

// NewCachedReranker wraps inner with a pair-score LRU.
func NewCachedReranker(inner Reranker, cacheSize int) *CachedReranker {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, _ := lru.New[string, float64](cacheSize)
	return &CachedReranker{inner: inner, cache: cache}
}

func pairKey(query, docID string) string {
	return query + "\x1f" + docID
}

// Score serves cached pairs and sends only misses to the inner
// reranker, preserving input alignment.
func (c *CachedReranker) Score(ctx context.Context, query string, candidates []Candidate) ([]float64, error) {
	scores := make([]float64, len(candidates))
	missIdx := make([]int, 0, len(candidates))
	misses := make([]Candidate, 0, len(candidates))

	for i, cand := range candidates {
		if s, ok := c.cache.Get(pairKey(query, cand.DocID)); ok {
			scores[i] = s
		} else {
			missIdx = append(missIdx, i)
			misses = append(misses, cand)
		}
	}
	if len(misses) == 0 {
		return scores, nil
	}

	computed, err := c.inner.Score(ctx, query, misses)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		scores[i] = computed[j]
		c.cache.Add(pairKey(query, misses[j].DocID), computed[j])
	}
	return scores, nil
}

// Available passes through to the inner reranker.
func (c *CachedReranker) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// applyRerankOrder reorders results by rerank score descending with
// fused score, then doc ID, breaking ties.
func applyRerankOrder(results []*RankedResult, scores []float64) {
	for i, s := range scores {
		results[i].RerankScore = s
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RerankScore != b.RerankScore {
			return a.RerankScore > b.RerankScore
		}
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		return a.DocID < b.DocID
	})
}
