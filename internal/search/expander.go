package search

import (
	"context"
	"strings"
)

// Expander produces alternative phrasings of a query. An empty slice
// means no expansion; the pipeline always retrieves the original text
// regardless.
type Expander interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

// SynonymExpander rewrites queries with a static synonym table. Each
// synonym group yields one variant with the matched term replaced.
type SynonymExpander struct {
	synonyms map[string][]string
}

// NewSynonymExpander creates an expander from term -> alternatives.
// Keys are matched case-insensitively against whole query tokens.
func NewSynonymExpander(synonyms map[string][]string) *SynonymExpander {
	normalized := make(map[string][]string, len(synonyms))
	for term, alts := range synonyms {
		normalized[strings.ToLower(term)] = alts
	}
	return &SynonymExpander{synonyms: normalized}
}

var _ Expander = (*SynonymExpander)(nil)

// Expand returns variants with synonyms substituted, capped at
// MaxQueryVariants-1 so the original always fits in the budget.
func (e *SynonymExpander) Expand(_ context.Context, query string) ([]string, error) {
	tokens := strings.Fields(query)
	var variants []string
	seen := map[string]bool{strings.ToLower(query): true}

	for i, token := range tokens {
		alts, ok := e.synonyms[strings.ToLower(token)]
		if !ok {
			continue
		}
		for _, alt := range alts {
			replaced := make([]string, len(tokens))
			copy(replaced, tokens)
			replaced[i] = alt
			variant := strings.Join(replaced, " ")
			key := strings.ToLower(variant)
			if seen[key] {
				continue
			}
			seen[key] = true
			variants = append(variants, variant)
			if len(variants) >= MaxQueryVariants-1 {
				return variants, nil
			}
		}
	}
	return variants, nil
}
