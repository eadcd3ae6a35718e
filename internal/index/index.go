// Package index implements the lexical inverted index with BM25
// scoring. The index owns its postings and term statistics exclusively;
// mutation goes through Add/Remove only.
//
// Global statistics (IDF, average document length) are derived lazily:
// mutations mark the index dirty without recomputing anything, and the
// next read that needs BM25 scoring rebuilds an immutable snapshot.
// Readers always see either the previous snapshot or the new one:
// installing a snapshot is a single pointer swap under a brief write
// lock, O(1) regardless of corpus size.
package index

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Config tunes BM25 scoring and tokenization.
type Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64

	// MinTokenLength is the minimum token length to index (default: 2).
	MinTokenLength int

	// StopWords are filtered out during tokenization.
	StopWords []string
}

// DefaultConfig returns the standard BM25 parameters.
func DefaultConfig() Config {
	return Config{
		K1:             1.2,
		B:              0.75,
		MinTokenLength: 2,
	}
}

// Doc is a document to be indexed lexically.
type Doc struct {
	ID   string
	Text string
}

// Result is a single scored search hit.
type Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// Stats describes the current state of the index.
type Stats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
	Epoch         uint64
	Dirty         bool
}

// posting records one document's term frequency for a term.
type posting struct {
	DocID string
	TF    int
}

// snapshot is an immutable view of statistics and pruned postings.
// Built once per burst of mutations, shared by concurrent readers.
type snapshot struct {
	epoch     uint64
	postings  map[string][]posting // term -> postings, sorted by DocID
	idf       map[string]float64
	docLen    map[string]int
	avgDocLen float64
	docCount  int
}

// docEntry is the mutable per-document record.
type docEntry struct {
	terms      map[string]int
	length     int
	tombstoned bool
}

// Index is the lexical BM25 index.
type Index struct {
	mu          sync.RWMutex
	cfg         Config
	docs        map[string]*docEntry
	dirty       bool
	epoch       uint64
	snap        atomic.Pointer[snapshot]
	stopWords   map[string]struct{}
	rebuildHook func(time.Duration)
}

// SetRebuildHook installs a callback invoked with the duration of each
// lazy statistics rebuild. Set it before the index serves reads.
func (ix *Index) SetRebuildHook(fn func(time.Duration)) {
	ix.mu.Lock()
	ix.rebuildHook = fn
	ix.mu.Unlock()
}

// New creates an empty lexical index.
func New(cfg Config) *Index {
	if cfg.K1 <= 0 {
		cfg.K1 = 1.2
	}
	if cfg.B <= 0 {
		cfg.B = 0.75
	}
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = 2
	}
	ix := &Index{
		cfg:       cfg,
		docs:      make(map[string]*docEntry),
		stopWords: BuildStopWordMap(cfg.StopWords),
	}
	ix.snap.Store(&snapshot{
		postings: map[string][]posting{},
		idf:      map[string]float64{},
		docLen:   map[string]int{},
	})
	return ix
}

// Add tokenizes and indexes documents. Re-adding an existing ID
// replaces it (delete-then-reinsert). The insert path never recomputes
// global statistics; it only marks the index dirty. A document that
// yields no tokens is logged and skipped rather than failing the batch.
func (ix *Index) Add(docs ...Doc) {
	if len(docs) == 0 {
		return
	}

	type prepared struct {
		id    string
		terms map[string]int
		total int
	}
	batch := make([]prepared, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			slog.Warn("lexical_index_skip_doc", slog.String("reason", "empty id"))
			continue
		}
		tokens := Tokenize(d.Text, ix.cfg.MinTokenLength, ix.stopWords)
		if len(tokens) == 0 {
			slog.Warn("lexical_index_skip_doc",
				slog.String("doc_id", d.ID),
				slog.String("reason", "no indexable tokens"))
			continue
		}
		batch = append(batch, prepared{id: d.ID, terms: termFrequencies(tokens), total: len(tokens)})
	}
	if len(batch) == 0 {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, p := range batch {
		ix.docs[p.id] = &docEntry{terms: p.terms, length: p.total}
	}
	ix.dirty = true
	ix.epoch++
}

// Remove tombstones documents. Postings are pruned lazily during the
// next rebuild, not eagerly; a delete is O(1).
func (ix *Index) Remove(ids ...string) {
	if len(ids) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	changed := false
	for _, id := range ids {
		if e, ok := ix.docs[id]; ok && !e.tombstoned {
			e.tombstoned = true
			changed = true
		}
	}
	if changed {
		ix.dirty = true
		ix.epoch++
	}
}

// Contains reports whether a live (non-tombstoned) document exists.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.docs[id]
	return ok && !e.tombstoned
}

// AllIDs returns the IDs of all live documents, sorted.
func (ix *Index) AllIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]string, 0, len(ix.docs))
	for id, e := range ix.docs {
		if !e.tombstoned {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Search scores documents matching the query by BM25, restricted to
// IDs accepted by candidateFilter (nil means no restriction). A dirty
// index rebuilds its statistics first; the rebuild is atomic with
// respect to concurrent readers.
func (ix *Index) Search(ctx context.Context, query string, limit int, candidateFilter func(docID string) bool) ([]*Result, error) {
	tokens := Tokenize(query, ix.cfg.MinTokenLength, ix.stopWords)
	return ix.SearchTokens(ctx, tokens, limit, candidateFilter)
}

// SearchTokens is Search with pre-tokenized query terms.
func (ix *Index) SearchTokens(ctx context.Context, tokens []string, limit int, candidateFilter func(docID string) bool) ([]*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return []*Result{}, nil
	}

	snap := ix.currentSnapshot()
	if snap.docCount == 0 {
		return []*Result{}, nil
	}

	scores := make(map[string]float64)
	matched := make(map[string][]string)
	admitted := make(map[string]bool)
	for _, term := range tokens {
		postings, ok := snap.postings[term]
		if !ok {
			continue
		}
		idf := snap.idf[term]
		for _, p := range postings {
			if candidateFilter != nil {
				ok, decided := admitted[p.DocID]
				if !decided {
					ok = candidateFilter(p.DocID)
					admitted[p.DocID] = ok
				}
				if !ok {
					continue
				}
			}
			tf := float64(p.TF)
			dl := float64(snap.docLen[p.DocID])
			norm := tf + ix.cfg.K1*(1-ix.cfg.B+ix.cfg.B*dl/snap.avgDocLen)
			scores[p.DocID] += idf * tf * (ix.cfg.K1 + 1) / norm
			matched[p.DocID] = append(matched[p.DocID], term)
		}
	}

	results := make([]*Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, &Result{DocID: id, Score: score, MatchedTerms: matched[id]})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Stats returns current index statistics. Reading stats forces a
// rebuild if dirty, same as search.
func (ix *Index) Stats() Stats {
	snap := ix.currentSnapshot()
	ix.mu.RLock()
	dirty, epoch := ix.dirty, ix.epoch
	ix.mu.RUnlock()
	return Stats{
		DocumentCount: snap.docCount,
		TermCount:     len(snap.postings),
		AvgDocLength:  snap.avgDocLen,
		Epoch:         epoch,
		Dirty:         dirty,
	}
}

// Dirty reports whether derived statistics are stale.
func (ix *Index) Dirty() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dirty
}

// Epoch returns the mutation counter.
func (ix *Index) Epoch() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.epoch
}

// currentSnapshot returns a consistent statistics snapshot, rebuilding
// if the index is dirty. The build happens under a read lock (writers
// can still be admitted after it releases); installation re-checks the
// epoch under the write lock and retries if a mutation raced in, so a
// reader never observes statistics from a partial mutation.
func (ix *Index) currentSnapshot() *snapshot {
	for {
		ix.mu.RLock()
		if !ix.dirty {
			ix.mu.RUnlock()
			return ix.snap.Load()
		}
		start := time.Now()
		built := ix.build()
		hook := ix.rebuildHook
		ix.mu.RUnlock()

		ix.mu.Lock()
		if ix.epoch == built.epoch {
			// Pointer swap is the only work done while writers are excluded.
			ix.snap.Store(built)
			ix.dirty = false
			ix.mu.Unlock()
			if hook != nil {
				hook(time.Since(start))
			}
			slog.Debug("lexical_index_rebuilt",
				slog.Uint64("epoch", built.epoch),
				slog.Int("docs", built.docCount),
				slog.Int("terms", len(built.postings)))
			return built
		}
		// A mutation advanced the epoch between build and install; retry.
		ix.mu.Unlock()
	}
}

// build computes a snapshot from live documents. Tombstoned postings
// are pruned here, not on delete. Caller holds at least a read lock.
func (ix *Index) build() *snapshot {
	s := &snapshot{
		epoch:    ix.epoch,
		postings: make(map[string][]posting),
		idf:      make(map[string]float64),
		docLen:   make(map[string]int),
	}

	var totalLen int
	for id, e := range ix.docs {
		if e.tombstoned {
			continue
		}
		s.docCount++
		s.docLen[id] = e.length
		totalLen += e.length
		for term, tf := range e.terms {
			s.postings[term] = append(s.postings[term], posting{DocID: id, TF: tf})
		}
	}
	if s.docCount > 0 {
		s.avgDocLen = float64(totalLen) / float64(s.docCount)
	}

	n := float64(s.docCount)
	for term, postings := range s.postings {
		sort.Slice(postings, func(i, j int) bool { return postings[i].DocID < postings[j].DocID })
		// df equals the number of live documents containing the term.
		df := float64(len(postings))
		s.idf[term] = math.Log(1 + (n-df+0.5)/(df+0.5))
	}
	return s
}
