// Package vector provides the nearest-neighbor index over document
// embeddings, built on the coder/hnsw pure Go HNSW implementation.
//
// Search is approximate: HNSW trades a small amount of recall
// (typically <2% at the default EfSearch) for sub-linear query time.
// Deletes are lazy: the ID mapping is dropped immediately while the
// graph node lingers until Compact rebuilds the graph.
package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/rankfuse/rankfuse/internal/rferrors"
)

// Config tunes the HNSW graph.
type Config struct {
	// Dimensions is the fixed embedding dimension, set at creation time.
	Dimensions int

	// M is the max connections per layer (default: 16).
	M int

	// EfSearch is the query-time search width (default: 64).
	EfSearch int
}

// DefaultConfig returns sensible HNSW defaults for the given dimension.
func DefaultConfig(dimensions int) Config {
	return Config{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// Result is a single nearest-neighbor hit.
type Result struct {
	ID    string
	Score float32 // cosine similarity mapped to 0-1, higher is closer
}

// DimensionMismatchError reports an embedding whose length does not
// match the index dimension. It wraps rferrors.ErrDimensionMismatch.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e DimensionMismatchError) Unwrap() error { return rferrors.ErrDimensionMismatch }

// Store is the vector index.
type Store struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[string]uint64 // document ID -> internal key
	keyMap  map[uint64]string // internal key -> document ID
	vecs    map[uint64][]float32
	nextKey uint64
}

// storeMetadata is the gob sidecar persisted next to the graph.
type storeMetadata struct {
	IDMap   map[string]uint64
	Vecs    map[uint64][]float32
	NextKey uint64
	Config  Config
}

// New creates an empty vector store with a fixed dimension.
func New(cfg Config) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector store requires a positive dimension, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch

	return &Store{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		vecs:   make(map[uint64][]float32),
	}, nil
}

// Dimensions returns the fixed embedding dimension.
func (s *Store) Dimensions() int { return s.config.Dimensions }

// Add inserts an embedding under an ID. Re-adding an existing ID
// replaces it. A vector of mismatched dimension fails, never silently
// truncated or padded.
func (s *Store) Add(ctx context.Context, id string, embedding []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(embedding) != s.config.Dimensions {
		return DimensionMismatchError{Expected: s.config.Dimensions, Got: len(embedding)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Lazy replacement: orphan the old graph node, keep the new mapping.
	if oldKey, exists := s.idMap[id]; exists {
		delete(s.keyMap, oldKey)
		delete(s.vecs, oldKey)
		delete(s.idMap, id)
	}

	key := s.nextKey
	s.nextKey++

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	normalizeInPlace(vec)

	s.graph.Add(hnsw.MakeNode(key, vec))
	s.idMap[id] = key
	s.keyMap[key] = id
	s.vecs[key] = vec
	return nil
}

// AddBatch inserts many embeddings; the batch fails on the first
// dimension mismatch.
func (s *Store) AddBatch(ctx context.Context, ids []string, embeddings [][]float32) error {
	if len(ids) != len(embeddings) {
		return fmt.Errorf("ids and embeddings length mismatch: %d vs %d", len(ids), len(embeddings))
	}
	for i, id := range ids {
		if err := s.Add(ctx, id, embeddings[i]); err != nil {
			return fmt.Errorf("add vector %s: %w", id, err)
		}
	}
	return nil
}

// Remove drops vectors by ID. The graph node is orphaned rather than
// removed; Compact reclaims orphans in bulk.
func (s *Store) Remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.vecs, key)
			delete(s.idMap, id)
		}
	}
}

// Search returns up to k nearest neighbors by cosine similarity,
// restricted to IDs accepted by candidateFilter (nil means all).
// Ties are broken by document ID so output is deterministic.
func (s *Store) Search(ctx context.Context, query []float32, k int, candidateFilter func(id string) bool) ([]*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != s.config.Dimensions {
		return nil, DimensionMismatchError{Expected: s.config.Dimensions, Got: len(query)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph.Len() == 0 || k <= 0 {
		return []*Result{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for orphans and filtered candidates,
	// escalating until enough survivors or the whole graph is covered.
	fetch := k * 4
	var results []*Result
	for {
		if fetch > s.graph.Len() {
			fetch = s.graph.Len()
		}
		nodes := s.graph.Search(normalized, fetch)

		results = results[:0]
		for _, node := range nodes {
			id, live := s.keyMap[node.Key]
			if !live {
				continue // lazy-deleted orphan
			}
			if candidateFilter != nil && !candidateFilter(id) {
				continue
			}
			distance := s.graph.Distance(normalized, node.Value)
			results = append(results, &Result{ID: id, Score: 1.0 - distance/2.0})
		}
		if len(results) >= k || fetch >= s.graph.Len() {
			break
		}
		fetch *= 2
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Embedding returns the stored (normalized) embedding for an ID.
func (s *Store) Embedding(id string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.idMap[id]
	if !ok {
		return nil, false
	}
	return s.vecs[key], true
}

// Contains checks if an ID exists.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Orphans returns the number of lazy-deleted graph nodes.
func (s *Store) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Len() - len(s.idMap)
}

// Compact rebuilds the graph from live vectors, reclaiming orphans
// left by lazy deletion. Removals are batched into this periodic
// rebuild because HNSW graphs cannot tombstone cheaply.
func (s *Store) Compact() {
	s.mu.Lock()
	defer s.mu.Unlock()

	orphans := s.graph.Len() - len(s.idMap)
	if orphans == 0 {
		return
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch

	for key, vec := range s.vecs {
		graph.Add(hnsw.MakeNode(key, vec))
	}
	s.graph = graph

	slog.Info("vector_store_compacted",
		slog.Int("reclaimed", orphans),
		slog.Int("live", len(s.idMap)))
}

// Save persists the graph and ID mappings atomically (temp + rename).
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *Store) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	meta := storeMetadata{
		IDMap:   s.idMap,
		Vecs:    s.vecs,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return rferrors.Wrap(rferrors.ErrCodeSnapshotWrite, err)
	}
	return os.Rename(tmp, path)
}

// Load opens a persisted vector store. Corruption in either the graph
// file or the metadata sidecar fails loudly.
func Load(path string) (*Store, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, err
	}
	defer metaFile.Close()

	var meta storeMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, rferrors.New(rferrors.ErrCodeCorruptSnapshot,
			fmt.Sprintf("decode vector metadata %s: %v", path, err),
			rferrors.ErrCorruptSnapshot)
	}

	s, err := New(meta.Config)
	if err != nil {
		return nil, rferrors.New(rferrors.ErrCodeCorruptSnapshot,
			fmt.Sprintf("vector metadata %s: %v", path, err),
			rferrors.ErrCorruptSnapshot)
	}
	s.idMap = meta.IDMap
	s.vecs = meta.Vecs
	s.nextKey = meta.NextKey
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return nil, rferrors.New(rferrors.ErrCodeCorruptSnapshot,
			fmt.Sprintf("import vector graph %s: %v", path, err),
			rferrors.ErrCorruptSnapshot)
	}
	return s, nil
}

// normalizeInPlace normalizes a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// Cosine returns the cosine similarity of two equal-length vectors.
// Used by the diversification stage and the query-result cache.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
