package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rankfuse/rankfuse/internal/cache"
	"github.com/rankfuse/rankfuse/internal/embed"
	"github.com/rankfuse/rankfuse/internal/facet"
	"github.com/rankfuse/rankfuse/internal/filter"
	"github.com/rankfuse/rankfuse/internal/index"
	"github.com/rankfuse/rankfuse/internal/meta"
	"github.com/rankfuse/rankfuse/internal/rferrors"
	"github.com/rankfuse/rankfuse/internal/store"
	"github.com/rankfuse/rankfuse/internal/telemetry"
	"github.com/rankfuse/rankfuse/internal/vector"
)

// Config tunes the pipeline.
type Config struct {
	RRFConstant         int
	FusionHeadroom      int
	RetrievalTimeout    time.Duration
	RerankTimeout       time.Duration
	QueryCacheSize      int
	QueryCacheTTL       time.Duration
	SimilarityThreshold float32 // <= 0 disables near-duplicate cache hits
	RerankCacheSize     int
}

// DefaultConfig returns the documented pipeline defaults.
func DefaultConfig() Config {
	return Config{
		RRFConstant:         DefaultRRFConstant,
		FusionHeadroom:      DefaultFusionHeadroom,
		RetrievalTimeout:    DefaultRetrievalTimeout,
		RerankTimeout:       DefaultRerankTimeout,
		QueryCacheSize:      cache.DefaultQueryCacheSize,
		QueryCacheTTL:       cache.DefaultQueryTTL,
		SimilarityThreshold: cache.DefaultSimilarityThreshold,
		RerankCacheSize:     4096,
	}
}

// ErrNilDependency is returned when a required dependency is missing.
var ErrNilDependency = errors.New("nil dependency")

// Engine wires the lexical index, vector index, document store,
// embedder and caches into the retrieval pipeline.
type Engine struct {
	lexical    *index.Index
	vectors    *vector.Store
	docs       *store.Store
	embedder   embed.Embedder
	schema     meta.Schema
	fusion     *Fusion
	expander   Expander
	reranker   Reranker
	queryCache *cache.QueryCache[*Response]
	metrics    *telemetry.Metrics
	config     Config
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithExpander sets the query-expansion collaborator.
func WithExpander(e Expander) Option {
	return func(eng *Engine) { eng.expander = e }
}

// WithReranker sets the cross-encoder used by the rerank stage. It is
// wrapped with a pair-score cache.
func WithReranker(r Reranker) Option {
	return func(eng *Engine) { eng.reranker = r }
}

// WithMetrics attaches a telemetry collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(eng *Engine) { eng.metrics = m }
}

// NewEngine creates the engine. Every store dependency is required;
// expander and reranker are optional collaborators.
func NewEngine(lexical *index.Index, vectors *vector.Store, docs *store.Store,
	embedder embed.Embedder, schema meta.Schema, cfg Config, opts ...Option) (*Engine, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index", ErrNilDependency)
	}
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector store", ErrNilDependency)
	}
	if docs == nil {
		return nil, fmt.Errorf("%w: document store", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.FusionHeadroom <= 0 {
		cfg.FusionHeadroom = DefaultFusionHeadroom
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = DefaultRetrievalTimeout
	}
	if cfg.RerankTimeout <= 0 {
		cfg.RerankTimeout = DefaultRerankTimeout
	}

	e := &Engine{
		lexical:    lexical,
		vectors:    vectors,
		docs:       docs,
		embedder:   embedder,
		schema:     schema,
		fusion:     NewFusion(cfg.RRFConstant),
		queryCache: cache.NewQueryCache[*Response](cfg.QueryCacheSize, cfg.QueryCacheTTL, cfg.SimilarityThreshold),
		config:     cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reranker != nil {
		e.reranker = NewCachedReranker(e.reranker, cfg.RerankCacheSize)
	}
	if e.metrics != nil {
		lexical.SetRebuildHook(e.metrics.ObserveRebuild)
	}
	return e, nil
}

// Search runs the full pipeline for one query. Validation failures
// return synchronously before any retrieval work; source failures
// degrade the response instead of failing it.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()

	if err := q.normalize(); err != nil {
		e.metrics.ObserveQuery(string(q.Mode), time.Since(start), false, err)
		return nil, err
	}

	pred, err := e.compileFilter(q.Filter)
	if err != nil {
		e.metrics.ObserveQuery(string(q.Mode), time.Since(start), false, err)
		return nil, err
	}

	if err := e.validateDimensions(q.Mode); err != nil {
		e.metrics.ObserveQuery(string(q.Mode), time.Since(start), false, err)
		return nil, err
	}

	// The query embedding doubles as the cache's near-duplicate probe,
	// so it is computed before the lookup in vector-capable modes.
	var queryEmbedding []float32
	var embedErr error
	if q.Mode != ModeLexical {
		queryEmbedding, embedErr = e.embedder.Embed(ctx, q.Text)
		if embedErr != nil {
			slog.Warn("query_embed_failed",
				slog.String("error", embedErr.Error()),
				slog.String("mode", string(q.Mode)))
			queryEmbedding = nil
		}
	}

	scope := q.cacheScope(pred.Signature())
	key := cache.QueryKey(q.Text, pred.Signature(), scope)

	resp, hit, err := e.queryCache.GetOrCompute(key, queryEmbedding, pred.Signature(), scope, func() (*Response, error) {
		return e.runPipeline(ctx, q, pred, queryEmbedding, embedErr)
	})
	e.metrics.ObserveCache("query", hit)
	if err != nil {
		e.metrics.ObserveQuery(string(q.Mode), time.Since(start), false, err)
		return nil, err
	}
	e.metrics.ObserveQuery(string(q.Mode), time.Since(start), resp.Degraded, nil)
	return resp, nil
}

// cacheScope folds every option that changes the response shape into
// the cache key so a cached answer is only reused for an equivalent
// request.
func (q *Query) cacheScope(filterSig string) string {
	return fmt.Sprintf("%s|k=%d|rr=%t|ex=%t|dv=%t|l=%g|f=%v|%s",
		q.Mode, q.K, q.UseReranking, q.UseExpansion, q.UseDiversification,
		q.DiversificationLambda, q.Facets, filterSig)
}

func (e *Engine) compileFilter(expr filter.Expr) (*filter.Predicate, error) {
	if expr == nil {
		return filter.MatchAll(), nil
	}
	return filter.Compile(expr, e.schema)
}

// validateDimensions rejects vector-capable queries when the embedder
// and index disagree on dimension. Caught here, before retrieval, so
// the caller gets a synchronous validation error.
func (e *Engine) validateDimensions(mode Mode) error {
	if mode == ModeLexical {
		return nil
	}
	embDim := e.embedder.Dimensions()
	idxDim := e.vectors.Dimensions()
	if embDim > 0 && embDim != idxDim {
		return rferrors.New(rferrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index expects %d dimensions but embedder %s produces %d",
				idxDim, e.embedder.ModelName(), embDim),
			rferrors.ErrDimensionMismatch)
	}
	return nil
}

// retrievalTask is one source x variant dispatch.
type retrievalTask struct {
	variant   string
	source    Source
	embedding []float32
}

func (e *Engine) runPipeline(ctx context.Context, q Query, pred *filter.Predicate, queryEmbedding []float32, embedErr error) (*Response, error) {
	traceID := uuid.NewString()
	resp := &Response{TraceID: traceID}
	reasons := newReasonSet()

	// Expanded: the original text always retrieves; expansion only
	// adds variants.
	variants := []string{q.Text}
	if q.UseExpansion && e.expander == nil {
		reasons.add(ReasonExpansionUnavailable)
	}
	if q.UseExpansion && e.expander != nil {
		extra, err := e.expander.Expand(ctx, q.Text)
		if err != nil {
			reasons.add(ReasonExpansionFailed)
			slog.Warn("query_expansion_failed",
				slog.String("trace_id", traceID),
				slog.String("error", err.Error()))
		} else {
			for _, v := range extra {
				if len(variants) >= MaxQueryVariants {
					break
				}
				variants = append(variants, v)
			}
		}
	}

	tasks, taskErr := e.buildTasks(ctx, q, variants, queryEmbedding, embedErr, reasons)
	if taskErr != nil {
		return nil, taskErr
	}

	candidateFilter := func(id string) bool {
		md, _ := e.docs.Metadata(id)
		return pred.Evaluate(md)
	}

	// Retrieved: every task runs concurrently with its own deadline.
	// A task that fails or times out is excluded, never fatal here.
	retrievalStart := time.Now()
	fetch := q.K * e.config.FusionHeadroom
	lists := e.dispatch(ctx, tasks, fetch, candidateFilter, reasons, traceID)
	resp.Timings.RetrievalMs = time.Since(retrievalStart).Milliseconds()

	if len(lists) == 0 {
		return nil, rferrors.New(rferrors.ErrCodeSearchFailed,
			"all retrieval sources failed", nil)
	}

	// Fused.
	fusionStart := time.Now()
	fused := e.fusion.Fuse(lists)
	resp.Timings.FusionMs = time.Since(fusionStart).Milliseconds()
	resp.TotalCandidates = len(fused)

	// Faceted: over the filtered candidate pool, before rerank and
	// diversification touch the ordering.
	if len(q.Facets) > 0 {
		ids := make([]string, len(fused))
		for i, r := range fused {
			ids[i] = r.DocID
		}
		resp.Facets = facet.Aggregate(ids, q.Facets, e.docs.Metadata)
	}

	top := fused
	if len(top) > q.K {
		top = top[:q.K]
	}

	// Reranked: failure falls back to fused order.
	if q.UseReranking && e.reranker != nil && len(top) > 0 {
		rerankStart := time.Now()
		if err := e.rerank(ctx, q.Text, top); err != nil {
			reasons.add(ReasonRerankUnavailable)
			slog.Warn("rerank_failed",
				slog.String("trace_id", traceID),
				slog.String("error", err.Error()))
		} else {
			ms := time.Since(rerankStart).Milliseconds()
			resp.Timings.RerankMs = &ms
		}
	}

	// Diversified.
	if q.UseDiversification {
		top = diversify(top, q.DiversificationLambda, e.vectors.Embedding)
	}

	resp.Results = top
	resp.DegradedReasons = reasons.list()
	resp.Degraded = len(resp.DegradedReasons) > 0

	slog.Debug("query_complete",
		slog.String("trace_id", traceID),
		slog.String("mode", string(q.Mode)),
		slog.Int("variants", len(variants)),
		slog.Int("candidates", resp.TotalCandidates),
		slog.Int("results", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded))
	return resp, nil
}

// buildTasks plans the source x variant dispatches, embedding variants
// as needed. An unusable source degrades the plan except when it was
// the only source, which is a hard error.
func (e *Engine) buildTasks(ctx context.Context, q Query, variants []string, queryEmbedding []float32, embedErr error, reasons *reasonSet) ([]retrievalTask, error) {
	var tasks []retrievalTask

	if q.Mode != ModeVector {
		for _, v := range variants {
			tasks = append(tasks, retrievalTask{variant: v, source: SourceLexical})
		}
	}

	if q.Mode != ModeLexical {
		if queryEmbedding == nil {
			if q.Mode == ModeVector {
				return nil, rferrors.New(rferrors.ErrCodeEmbeddingFailed,
					"cannot embed query for vector retrieval", embedErr)
			}
			reasons.add(ReasonVectorUnavailable)
		} else {
			embeddings := make([][]float32, len(variants))
			embeddings[0] = queryEmbedding
			if len(variants) > 1 {
				extra, err := e.embedder.EmbedBatch(ctx, variants[1:])
				if err != nil {
					// Variant embeddings are an optimization; the
					// original still retrieves.
					slog.Warn("variant_embed_failed", slog.String("error", err.Error()))
				} else {
					copy(embeddings[1:], extra)
				}
			}
			for i, v := range variants {
				if embeddings[i] != nil {
					tasks = append(tasks, retrievalTask{variant: v, source: SourceVector, embedding: embeddings[i]})
				}
			}
		}
	}
	return tasks, nil
}

// dispatch fans the tasks out and joins on completion. Each task
// carries its own deadline; overruns and failures are excluded from
// fusion and recorded as degradation reasons.
func (e *Engine) dispatch(ctx context.Context, tasks []retrievalTask, fetch int, candidateFilter func(string) bool, reasons *reasonSet, traceID string) []RankedList {
	var (
		mu    sync.Mutex
		lists []RankedList
	)
	var g errgroup.Group

	for _, task := range tasks {
		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(ctx, e.config.RetrievalTimeout)
			defer cancel()

			var (
				list RankedList
				err  error
			)
			switch task.source {
			case SourceLexical:
				var results []*index.Result
				results, err = e.lexical.Search(taskCtx, task.variant, fetch, candidateFilter)
				if err == nil {
					list = RankedList{Source: SourceLexical, Entries: make([]ListEntry, len(results))}
					for i, r := range results {
						list.Entries[i] = ListEntry{DocID: r.DocID, Score: r.Score, MatchedTerms: r.MatchedTerms}
					}
				}
			case SourceVector:
				var results []*vector.Result
				results, err = e.vectors.Search(taskCtx, task.embedding, fetch, candidateFilter)
				if err == nil {
					list = RankedList{Source: SourceVector, Entries: make([]ListEntry, len(results))}
					for i, r := range results {
						list.Entries[i] = ListEntry{DocID: r.ID, Score: float64(r.Score)}
					}
				}
			}

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					reasons.add(ReasonRetrievalTimeout)
				} else if task.source == SourceVector {
					reasons.add(ReasonVectorUnavailable)
				} else {
					reasons.add(ReasonLexicalUnavailable)
				}
				slog.Warn("retrieval_task_failed",
					slog.String("trace_id", traceID),
					slog.String("source", string(task.source)),
					slog.String("error", err.Error()))
				return nil
			}

			mu.Lock()
			lists = append(lists, list)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return lists
}

func (e *Engine) rerank(ctx context.Context, query string, top []*RankedResult) error {
	rerankCtx, cancel := context.WithTimeout(ctx, e.config.RerankTimeout)
	defer cancel()

	ids := make([]string, len(top))
	for i, r := range top {
		ids[i] = r.DocID
	}
	docs, err := e.docs.GetBatch(rerankCtx, ids)
	if err != nil {
		return err
	}
	texts := make(map[string]string, len(docs))
	for _, d := range docs {
		texts[d.ID] = d.Text
	}

	candidates := make([]Candidate, len(top))
	for i, r := range top {
		candidates[i] = Candidate{DocID: r.DocID, Text: texts[r.DocID]}
	}

	scores, err := e.reranker.Score(rerankCtx, query, candidates)
	if err != nil {
		return err
	}
	applyRerankOrder(top, scores)
	return nil
}

// reasonSet deduplicates degradation reasons while keeping first-seen
// order.
type reasonSet struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
}

func newReasonSet() *reasonSet {
	return &reasonSet{seen: make(map[string]bool)}
}

func (r *reasonSet) add(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seen[reason] {
		r.seen[reason] = true
		r.order = append(r.order, reason)
	}
}

func (r *reasonSet) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
