package search

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/rankfuse/rankfuse/internal/index"
	"github.com/rankfuse/rankfuse/internal/rferrors"
	"github.com/rankfuse/rankfuse/internal/store"
)

// DefaultIngestBatchSize bounds documents per ingestion batch.
const DefaultIngestBatchSize = 64

// Index ingests documents: embeds missing vectors, persists to the
// document store, and updates both retrieval indexes. Re-indexing an
// existing ID replaces it everywhere. Any cached query result may be
// stale afterwards, so the query cache is dropped.
func (e *Engine) Index(ctx context.Context, docs ...*store.Document) error {
	if len(docs) == 0 {
		return nil
	}

	accepted := make([]*store.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			slog.Warn("ingest_skip_doc", slog.String("reason", "empty id"))
			continue
		}
		if e.schema != nil && doc.Metadata != nil {
			if err := e.schema.Validate(doc.Metadata); err != nil {
				return rferrors.ValidationError(
					fmt.Sprintf("document %s metadata: %v", doc.ID, err), err)
			}
		}
		accepted = append(accepted, doc)
	}
	if len(accepted) == 0 {
		return nil
	}

	// Embed only what arrived without a vector.
	var missIdx []int
	var missTexts []string
	for i, doc := range accepted {
		if doc.Embedding == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, doc.Text)
		}
	}
	if len(missTexts) > 0 {
		embeddings, err := e.embedder.EmbedBatch(ctx, missTexts)
		if err != nil {
			return fmt.Errorf("embed documents: %w", err)
		}
		for j, i := range missIdx {
			accepted[i].Embedding = embeddings[j]
		}
	}

	if err := e.docs.Put(ctx, accepted...); err != nil {
		return fmt.Errorf("persist documents: %w", err)
	}

	lexDocs := make([]index.Doc, len(accepted))
	for i, doc := range accepted {
		lexDocs[i] = index.Doc{ID: doc.ID, Text: doc.Text}
	}
	e.lexical.Add(lexDocs...)

	for _, doc := range accepted {
		if err := e.vectors.Add(ctx, doc.ID, doc.Embedding); err != nil {
			return fmt.Errorf("add vector for %s: %w", doc.ID, err)
		}
	}

	e.queryCache.Invalidate()
	e.metrics.SetIndexedDocuments(e.docs.Count())
	return nil
}

// IndexBatch ingests a large document set through a worker pool,
// batching embedding calls. The first batch error aborts the rest.
func (e *Engine) IndexBatch(ctx context.Context, docs []*store.Document, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultIngestBatchSize
	}
	if len(docs) <= batchSize {
		return e.Index(ctx, docs...)
	}

	pool, err := ants.NewPool(runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("create ingest pool: %w", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))
		batch := docs[start:end]

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			mu.Lock()
			aborted := firstErr != nil
			mu.Unlock()
			if aborted {
				return
			}

			if err := e.Index(ctx, batch...); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			return fmt.Errorf("submit ingest batch: %w", submitErr)
		}
	}
	wg.Wait()
	return firstErr
}

// Delete removes documents from the store and both indexes. Unknown
// IDs are ignored.
func (e *Engine) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.docs.Delete(ctx, ids...); err != nil {
		return err
	}
	e.lexical.Remove(ids...)
	e.vectors.Remove(ids...)
	e.queryCache.Invalidate()
	e.metrics.SetIndexedDocuments(e.docs.Count())
	return nil
}

// Compact rebuilds the vector graph without its lazily deleted
// entries. Worth running after heavy churn; search quality is
// unaffected either way.
func (e *Engine) Compact() {
	e.vectors.Compact()
	e.queryCache.Invalidate()
}

// Snapshot file names within the data directory.
const (
	LexicalSnapshotFile = "lexical.snap"
	VectorSnapshotFile  = "vectors.hnsw"
)

// Save persists both index snapshots atomically under dir. The
// document store is already durable on its own.
func (e *Engine) Save(dir string) error {
	if err := e.lexical.Save(filepath.Join(dir, LexicalSnapshotFile)); err != nil {
		return err
	}
	return e.vectors.Save(filepath.Join(dir, VectorSnapshotFile))
}

// Rebuild repopulates both indexes from the document store. Used on
// startup when snapshots are missing.
func (e *Engine) Rebuild(ctx context.Context) error {
	return e.docs.All(ctx, func(doc *store.Document) error {
		e.lexical.Add(index.Doc{ID: doc.ID, Text: doc.Text})
		if doc.Embedding != nil {
			if err := e.vectors.Add(ctx, doc.ID, doc.Embedding); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats aggregates store and cache statistics.
type Stats struct {
	Documents     int         `json:"documents"`
	Lexical       index.Stats `json:"lexical"`
	VectorCount   int         `json:"vector_count"`
	VectorOrphans int         `json:"vector_orphans"`
	QueryCache    CacheStats  `json:"query_cache"`
}

// CacheStats is the telemetry view of one cache.
type CacheStats struct {
	Entries     int    `json:"entries"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() Stats {
	qc := e.queryCache.Stats()
	return Stats{
		Documents:     e.docs.Count(),
		Lexical:       e.lexical.Stats(),
		VectorCount:   e.vectors.Count(),
		VectorOrphans: e.vectors.Orphans(),
		QueryCache: CacheStats{
			Entries:     e.queryCache.Len(),
			Hits:        qc.Hits,
			Misses:      qc.Misses,
			Evictions:   qc.Evictions,
			Expirations: qc.Expirations,
		},
	}
}

// Close releases the embedder and the document store.
func (e *Engine) Close() error {
	embErr := e.embedder.Close()
	docErr := e.docs.Close()
	if embErr != nil {
		return embErr
	}
	return docErr
}
