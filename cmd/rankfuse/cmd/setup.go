package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rankfuse/rankfuse/internal/config"
	"github.com/rankfuse/rankfuse/internal/embed"
	"github.com/rankfuse/rankfuse/internal/index"
	"github.com/rankfuse/rankfuse/internal/search"
	"github.com/rankfuse/rankfuse/internal/store"
	"github.com/rankfuse/rankfuse/internal/telemetry"
	"github.com/rankfuse/rankfuse/internal/vector"
)

const documentDBFile = "documents.db"

// buildEngine wires the document store, indexes, embedder, and caches
// into a search engine. Index snapshots are loaded when present;
// otherwise both indexes are rebuilt from the document store.
func buildEngine(ctx context.Context, cfg *config.Config) (*search.Engine, error) {
	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	schema, err := cfg.MetadataSchema()
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	docs, err := store.Open(filepath.Join(dataDir, documentDBFile))
	if err != nil {
		return nil, err
	}

	lexical, lexicalLoaded, err := loadLexical(dataDir, cfg)
	if err != nil {
		_ = docs.Close()
		return nil, err
	}
	vectors, vectorsLoaded, err := loadVectors(ctx, dataDir, cfg, embedder)
	if err != nil {
		_ = docs.Close()
		return nil, err
	}

	engineCfg := search.Config{
		RRFConstant:         cfg.Search.RRFConstant,
		FusionHeadroom:      cfg.Search.FusionHeadroom,
		RetrievalTimeout:    cfg.RetrievalTimeout(),
		RerankTimeout:       cfg.RerankTimeout(),
		QueryCacheSize:      cfg.Cache.QuerySize,
		QueryCacheTTL:       cfg.QueryTTL(),
		SimilarityThreshold: float32(cfg.Search.SimilarityThreshold),
	}

	opts := []search.Option{
		search.WithReranker(&search.OverlapReranker{}),
		search.WithMetrics(telemetry.New(prometheus.NewRegistry())),
	}
	if len(cfg.Search.Synonyms) > 0 {
		opts = append(opts, search.WithExpander(search.NewSynonymExpander(cfg.Search.Synonyms)))
	}

	eng, err := search.NewEngine(lexical, vectors, docs, embedder, schema, engineCfg, opts...)
	if err != nil {
		_ = docs.Close()
		return nil, err
	}

	if (!lexicalLoaded || !vectorsLoaded) && docs.Count() > 0 {
		slog.Info("rebuilding_indexes", slog.Int("documents", docs.Count()))
		if err := eng.Rebuild(ctx); err != nil {
			_ = eng.Close()
			return nil, fmt.Errorf("failed to rebuild indexes: %w", err)
		}
	}

	return eng, nil
}

// buildEmbedder selects the provider per config. Empty provider
// auto-detects: Ollama when reachable, static fallback otherwise.
// The result is wrapped with the embedding cache.
func buildEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	var inner embed.Embedder

	provider := strings.ToLower(cfg.Embeddings.Provider)
	switch provider {
	case "static":
		inner = embed.NewStaticEmbedder()
	case "ollama":
		inner = newOllamaEmbedder(cfg)
	case "":
		ollama := newOllamaEmbedder(cfg)
		if ollama.Available(ctx) {
			inner = ollama
		} else {
			slog.Info("embedder_fallback", slog.String("provider", "static"))
			inner = embed.NewStaticEmbedder()
		}
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", provider)
	}

	return embed.NewCachedEmbedder(inner, cfg.Cache.EmbeddingSize, cfg.EmbeddingTTL()), nil
}

func newOllamaEmbedder(cfg *config.Config) *embed.HTTPEmbedder {
	return embed.NewHTTPEmbedder(embed.HTTPConfig{
		Host:       cfg.Embeddings.OllamaHost,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		Timeout:    cfg.EmbeddingTimeout(),
		MaxRetries: cfg.Embeddings.MaxRetries,
		BatchSize:  cfg.Embeddings.BatchSize,
	})
}

// loadLexical restores the lexical index snapshot, or builds an empty
// index with the configured BM25 parameters. A snapshot that exists
// but fails to decode aborts startup; silently serving an empty index
// over a damaged one would hide data loss.
func loadLexical(dataDir string, cfg *config.Config) (*index.Index, bool, error) {
	path := filepath.Join(dataDir, search.LexicalSnapshotFile)
	if ix, err := index.Load(path); err == nil {
		return ix, true, nil
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("lexical snapshot %s: %w", path, err)
	}

	ixCfg := index.DefaultConfig()
	ixCfg.K1 = cfg.Index.BM25K1
	ixCfg.B = cfg.Index.BM25B
	return index.New(ixCfg), false, nil
}

// loadVectors restores the vector snapshot when present and
// dimension-compatible, else creates an empty store. The dimension
// comes from config, the embedder, or a probe embedding, in that order.
func loadVectors(ctx context.Context, dataDir string, cfg *config.Config, embedder embed.Embedder) (*vector.Store, bool, error) {
	path := filepath.Join(dataDir, search.VectorSnapshotFile)
	dims, err := resolveDimensions(ctx, cfg, embedder)
	if err != nil {
		return nil, false, err
	}

	if vs, err := vector.Load(path); err == nil {
		if vs.Dimensions() == dims {
			return vs, true, nil
		}
		// Model change, not corruption: rebuild with the new dimensions.
		slog.Warn("vector_snapshot_dimension_mismatch",
			slog.Int("snapshot", vs.Dimensions()), slog.Int("embedder", dims))
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("vector snapshot %s: %w", path, err)
	}

	vcfg := vector.Config{
		Dimensions: dims,
		M:          cfg.Index.HNSWM,
		EfSearch:   cfg.Index.HNSWEfSearch,
	}
	vs, err := vector.New(vcfg)
	if err != nil {
		return nil, false, err
	}
	return vs, false, nil
}

func resolveDimensions(ctx context.Context, cfg *config.Config, embedder embed.Embedder) (int, error) {
	if cfg.Embeddings.Dimensions > 0 {
		return cfg.Embeddings.Dimensions, nil
	}
	if d := embedder.Dimensions(); d > 0 {
		return d, nil
	}
	// Providers that detect dimensions lazily need one embedding.
	if _, err := embedder.Embed(ctx, "dimension probe"); err != nil {
		return 0, fmt.Errorf("failed to detect embedding dimensions: %w", err)
	}
	d := embedder.Dimensions()
	if d <= 0 {
		return 0, fmt.Errorf("embedder reported no dimensions")
	}
	return d, nil
}
