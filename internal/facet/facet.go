// Package facet counts metadata value frequencies over a result set.
package facet

import (
	"sort"

	"github.com/rankfuse/rankfuse/internal/meta"
)

// Count is one value bucket within a field facet.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Lookup resolves a document ID to its metadata.
type Lookup func(id string) (meta.Metadata, bool)

// Aggregate counts metadata values for the requested fields across the
// given documents. String set fields contribute one count per element.
// Documents missing a field contribute nothing to that field's facet.
// Buckets are ordered by count descending, then value ascending, so
// output is stable across runs.
func Aggregate(ids []string, fields []string, lookup Lookup) map[string][]Count {
	facets := make(map[string][]Count, len(fields))
	if len(ids) == 0 || len(fields) == 0 {
		for _, f := range fields {
			facets[f] = []Count{}
		}
		return facets
	}

	for _, field := range fields {
		counts := make(map[string]int)
		for _, id := range ids {
			md, ok := lookup(id)
			if !ok {
				continue
			}
			v, ok := md[field]
			if !ok {
				continue
			}
			if v.Kind() == meta.KindStringSet {
				for _, elem := range v.Set() {
					counts[elem]++
				}
			} else {
				counts[v.String()]++
			}
		}

		buckets := make([]Count, 0, len(counts))
		for value, n := range counts {
			buckets = append(buckets, Count{Value: value, Count: n})
		}
		sort.Slice(buckets, func(i, j int) bool {
			if buckets[i].Count != buckets[j].Count {
				return buckets[i].Count > buckets[j].Count
			}
			return buckets[i].Value < buckets[j].Value
		})
		facets[field] = buckets
	}
	return facets
}
