package search

import "github.com/rankfuse/rankfuse/internal/vector"

// diversify reorders results with Maximal Marginal Relevance: each
// step picks the candidate maximizing
//
//	lambda*relevance - (1-lambda)*max_sim(candidate, selected)
//
// where relevance is the current ranking score (rerank score when
// present, fused otherwise) and similarity is embedding cosine.
// lambda 1.0 is pure relevance, 0.0 pure diversity. Candidates with
// no stored embedding keep a similarity of 0 and so compete on
// relevance alone.
func diversify(results []*RankedResult, lambda float64, embeddingOf func(id string) ([]float32, bool)) []*RankedResult {
	if len(results) <= 2 || lambda >= 1.0 {
		return results
	}

	embeddings := make(map[string][]float32, len(results))
	for _, r := range results {
		if emb, ok := embeddingOf(r.DocID); ok {
			embeddings[r.DocID] = emb
		}
	}

	relevance := func(r *RankedResult) float64 {
		if r.RerankScore > 0 {
			return r.RerankScore
		}
		return r.FusedScore
	}

	remaining := make([]*RankedResult, len(results))
	copy(remaining, results)
	selected := make([]*RankedResult, 0, len(results))

	// Input is relevance-ordered; the first pick is always the head.
	selected = append(selected, remaining[0])
	remaining = remaining[1:]

	for len(remaining) > 0 {
		bestIdx := 0
		bestScore := mmrScore(remaining[0], selected, lambda, relevance, embeddings)
		for i := 1; i < len(remaining); i++ {
			if s := mmrScore(remaining[i], selected, lambda, relevance, embeddings); s > bestScore {
				bestScore = s
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func mmrScore(c *RankedResult, selected []*RankedResult, lambda float64, relevance func(*RankedResult) float64, embeddings map[string][]float32) float64 {
	var maxSim float64
	if emb, ok := embeddings[c.DocID]; ok {
		for _, s := range selected {
			if sEmb, ok := embeddings[s.DocID]; ok {
				if sim := float64(vector.Cosine(emb, sEmb)); sim > maxSim {
					maxSim = sim
				}
			}
		}
	}
	return lambda*relevance(c) - (1-lambda)*maxSim
}
