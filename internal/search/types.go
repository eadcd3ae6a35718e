// Package search orchestrates the query pipeline: expansion, parallel
// lexical and vector retrieval under a shared filter, Reciprocal Rank
// Fusion, optional re-ranking and diversification, and facet counts.
package search

import (
	"strings"
	"time"

	"github.com/rankfuse/rankfuse/internal/facet"
	"github.com/rankfuse/rankfuse/internal/filter"
	"github.com/rankfuse/rankfuse/internal/rferrors"
)

// Mode selects the retrieval sources for a query.
type Mode string

const (
	ModeLexical Mode = "lexical"
	ModeVector  Mode = "vector"
	ModeHybrid  Mode = "hybrid"
)

// Pipeline defaults.
const (
	DefaultK                = 10
	DefaultRRFConstant      = 60
	DefaultFusionHeadroom   = 4 // candidates fetched per source = headroom * K
	DefaultMMRLambda        = 0.7
	DefaultRetrievalTimeout = 2 * time.Second
	DefaultRerankTimeout    = 5 * time.Second
	MaxQueryVariants        = 4
)

// Query is the single explicit configuration for one search. Every
// recognized option is a field here; nothing is implied by code paths.
type Query struct {
	Text                  string      `json:"text"`
	Filter                filter.Expr `json:"-"`
	Mode                  Mode        `json:"mode"`
	UseReranking          bool        `json:"use_reranking"`
	UseExpansion          bool        `json:"use_expansion"`
	UseDiversification    bool        `json:"use_diversification"`
	DiversificationLambda float64     `json:"diversification_lambda,omitempty"`
	K                     int         `json:"k"`
	Facets                []string    `json:"facets,omitempty"`
}

// RankedResult is one scored document in a response. Constructed per
// query, never persisted.
type RankedResult struct {
	DocID        string   `json:"doc_id"`
	LexicalScore float64  `json:"lexical_score"`
	VectorScore  float64  `json:"vector_score"`
	FusedScore   float64  `json:"fused_score"`
	RerankScore  float64  `json:"rerank_score,omitempty"`
	LexicalRank  int      `json:"lexical_rank,omitempty"`
	VectorRank   int      `json:"vector_rank,omitempty"`
	InBoth       bool     `json:"in_both"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Timings breaks down where a query spent its time.
type Timings struct {
	RetrievalMs int64  `json:"retrieval_ms"`
	FusionMs    int64  `json:"fusion_ms"`
	RerankMs    *int64 `json:"rerank_ms,omitempty"`
}

// Response is the assembled result of one query.
type Response struct {
	Results         []*RankedResult          `json:"results"`
	TotalCandidates int                      `json:"total_candidates"`
	Facets          map[string][]facet.Count `json:"facets,omitempty"`
	Timings         Timings                  `json:"timings"`
	Degraded        bool                     `json:"degraded"`
	DegradedReasons []string                 `json:"degraded_reasons,omitempty"`
	TraceID         string                   `json:"trace_id"`
}

// Machine-readable degradation reasons.
const (
	ReasonVectorUnavailable    = "vector_source_unavailable"
	ReasonLexicalUnavailable   = "lexical_source_unavailable"
	ReasonRetrievalTimeout     = "retrieval_timeout"
	ReasonExpansionFailed      = "expansion_failed"
	ReasonExpansionUnavailable = "expansion_unavailable"
	ReasonRerankUnavailable    = "rerank_unavailable"
)

// normalize trims and defaults a query in place, returning a
// validation error for anything malformed. Runs before any retrieval
// work.
func (q *Query) normalize() error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return rferrors.ValidationError("query text is empty", nil)
	}
	switch q.Mode {
	case "":
		q.Mode = ModeHybrid
	case ModeLexical, ModeVector, ModeHybrid:
	default:
		return rferrors.ValidationError("unknown mode \""+string(q.Mode)+"\"", nil)
	}
	if q.K <= 0 {
		q.K = DefaultK
	}
	if q.DiversificationLambda == 0 {
		q.DiversificationLambda = DefaultMMRLambda
	}
	if q.DiversificationLambda < 0 || q.DiversificationLambda > 1 {
		return rferrors.ValidationError("diversification_lambda must be in [0,1]", nil)
	}
	return nil
}
