package search

import "sort"

// Source labels a ranked list's origin for fusion bookkeeping.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
)

// ListEntry is one document in a per-source ranked list.
type ListEntry struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// RankedList is one retrieval source's output for one query variant.
type RankedList struct {
	Source  Source
	Entries []ListEntry
}

// Fusion merges ranked lists with Reciprocal Rank Fusion.
//
// RRF_score(d) = Σ over lists containing d of 1/(k + rank_in_list).
// A document absent from a list contributes nothing from that list.
// Rank-based fusion sidesteps score normalization between BM25 and
// cosine scales entirely.
type Fusion struct {
	K int
}

// NewFusion creates a fuser; k <= 0 falls back to the default of 60.
func NewFusion(k int) *Fusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fusion{K: k}
}

// Fuse combines any number of per-source, per-variant ranked lists.
// Per-source scores and ranks keep the best (lowest) rank seen across
// variants. Output order: fused score desc, then in-both-sources
// first, then lexical score desc, then doc ID asc, so identical input
// always yields identical output.
func (f *Fusion) Fuse(lists []RankedList) []*RankedResult {
	merged := make(map[string]*RankedResult)

	for _, list := range lists {
		for i, entry := range list.Entries {
			rank := i + 1
			r, ok := merged[entry.DocID]
			if !ok {
				r = &RankedResult{DocID: entry.DocID}
				merged[entry.DocID] = r
			}
			r.FusedScore += 1.0 / float64(f.K+rank)

			switch list.Source {
			case SourceLexical:
				if r.LexicalRank == 0 || rank < r.LexicalRank {
					r.LexicalRank = rank
					r.LexicalScore = entry.Score
					r.MatchedTerms = entry.MatchedTerms
				}
			case SourceVector:
				if r.VectorRank == 0 || rank < r.VectorRank {
					r.VectorRank = rank
					r.VectorScore = entry.Score
				}
			}
		}
	}

	results := make([]*RankedResult, 0, len(merged))
	for _, r := range merged {
		r.InBoth = r.LexicalRank > 0 && r.VectorRank > 0
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.InBoth != b.InBoth {
			return a.InBoth
		}
		if a.LexicalScore != b.LexicalScore {
			return a.LexicalScore > b.LexicalScore
		}
		return a.DocID < b.DocID
	})

	normalizeFused(results)
	return results
}

// normalizeFused scales fused scores so the top result reads 1.0.
func normalizeFused(results []*RankedResult) {
	if len(results) == 0 {
		return
	}
	max := results[0].FusedScore
	if max == 0 {
		return
	}
	for _, r := range results {
		r.FusedScore /= max
	}
}
