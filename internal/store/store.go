// Package store persists documents in SQLite and keeps their metadata
// resident in memory for filter and facet evaluation. SQLite is the
// durable copy; the lexical and vector indexes are rebuilt from it.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/rankfuse/rankfuse/internal/meta"
	"github.com/rankfuse/rankfuse/internal/rferrors"
)

// Document is the unit of ingestion and retrieval.
type Document struct {
	ID        string
	Text      string
	SourceTag string
	Metadata  meta.Metadata
	Embedding []float32
	UpdatedAt time.Time
}

// Store is the SQLite-backed document store.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	live   map[string]meta.Metadata
	closed bool
}

// Open opens or creates a store at path; empty path means in-memory.
// Existing rows are integrity-checked and their metadata loaded.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, rferrors.New(rferrors.ErrCodeCorruptSnapshot,
				fmt.Sprintf("document store %s failed validation: %v", path, err),
				rferrors.ErrCorruptSnapshot)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}

	// Single writer keeps modernc.org/sqlite free of lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
		}
	}

	s := &Store{db: db, path: path, live: make(map[string]meta.Metadata)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}
	if err := s.loadMetadata(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// validateIntegrity rejects a damaged database up front instead of
// surfacing corruption mid-query.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported %q", result)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		text       TEXT NOT NULL,
		source_tag TEXT NOT NULL DEFAULT '',
		metadata   TEXT NOT NULL DEFAULT '{}',
		embedding  BLOB,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_tag);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// loadMetadata hydrates the in-memory metadata map from disk.
func (s *Store) loadMetadata() error {
	rows, err := s.db.Query(`SELECT id, metadata FROM documents`)
	if err != nil {
		return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
		}
		var md meta.Metadata
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			return rferrors.New(rferrors.ErrCodeCorruptSnapshot,
				fmt.Sprintf("metadata for document %s: %v", id, err),
				rferrors.ErrCorruptSnapshot)
		}
		s.live[id] = md
	}
	if err := rows.Err(); err != nil {
		return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}

	if len(s.live) > 0 {
		slog.Info("document_store_loaded",
			slog.String("path", s.path),
			slog.Int("documents", len(s.live)))
	}
	return nil
}

// Put upserts documents in one transaction.
func (s *Store) Put(ctx context.Context, docs ...*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, text, source_tag, metadata, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			source_tag = excluded.source_tag,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`)
	if err != nil {
		return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, doc := range docs {
		md := doc.Metadata
		if md == nil {
			md = meta.Metadata{}
		}
		rawMeta, err := json.Marshal(md)
		if err != nil {
			return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
		}
		updated := doc.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Text, doc.SourceTag,
			string(rawMeta), encodeEmbedding(doc.Embedding), updated.UnixMilli()); err != nil {
			return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}
	for _, doc := range docs {
		md := doc.Metadata
		if md == nil {
			md = meta.Metadata{}
		}
		s.live[doc.ID] = md
	}
	return nil
}

// Get fetches one document.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, source_tag, metadata, embedding, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetBatch fetches documents preserving input order; unknown IDs are
// skipped.
func (s *Store) GetBatch(ctx context.Context, ids []string) ([]*Document, error) {
	docs := make([]*Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes documents by ID.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}
	for _, id := range ids {
		delete(s.live, id)
	}
	return nil
}

// All streams every document to fn in ID order. Used to rebuild the
// indexes at startup.
func (s *Store) All(ctx context.Context, fn func(*Document) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, source_tag, metadata, embedding, updated_at
		FROM documents ORDER BY id`)
	if err != nil {
		return rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Metadata returns the resident metadata for a document. The returned
// map must not be mutated.
func (s *Store) Metadata(id string) (meta.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.live[id]
	return md, ok
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc       Document
		rawMeta   string
		blob      []byte
		updatedMs int64
	)
	if err := row.Scan(&doc.ID, &doc.Text, &doc.SourceTag, &rawMeta, &blob, &updatedMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, rferrors.Wrap(rferrors.ErrCodeStoreFailure, err)
	}
	if err := json.Unmarshal([]byte(rawMeta), &doc.Metadata); err != nil {
		return nil, rferrors.New(rferrors.ErrCodeCorruptSnapshot,
			fmt.Sprintf("metadata for document %s: %v", doc.ID, err),
			rferrors.ErrCorruptSnapshot)
	}
	doc.Embedding = decodeEmbedding(blob)
	doc.UpdatedAt = time.UnixMilli(updatedMs)
	return &doc, nil
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
