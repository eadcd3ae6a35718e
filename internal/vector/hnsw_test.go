package vector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankfuse/rankfuse/internal/rferrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultConfig(4))
	require.NoError(t, err)
	return s
}

func TestAddAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0, 0}))
	require.NoError(t, s.Add(ctx, "b", []float32{0, 1, 0, 0}))
	require.NoError(t, s.Add(ctx, "c", []float32{0.9, 0.1, 0, 0}))

	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Add(ctx, "bad", []float32{1, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, rferrors.ErrDimensionMismatch)

	var dm DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 2, dm.Got)

	_, err = s.Search(ctx, []float32{1, 0, 0}, 5, nil)
	assert.ErrorIs(t, err, rferrors.ErrDimensionMismatch)
}

func TestReplaceOnSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "doc", []float32{1, 0, 0, 0}))
	require.NoError(t, s.Add(ctx, "doc", []float32{0, 1, 0, 0}))

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 1, s.Orphans())

	results, err := s.Search(ctx, []float32{0, 1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestRemoveIsLazy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0, 0}))
	require.NoError(t, s.Add(ctx, "b", []float32{0, 1, 0, 0}))

	s.Remove("a")
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 1, s.Orphans())
	assert.False(t, s.Contains("a"))

	// Removed IDs never surface in search results.
	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestCompactReclaimsOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0, 0}))
	require.NoError(t, s.Add(ctx, "b", []float32{0, 1, 0, 0}))
	require.NoError(t, s.Add(ctx, "c", []float32{0, 0, 1, 0}))
	s.Remove("b", "c")

	require.Equal(t, 2, s.Orphans())
	s.Compact()
	assert.Equal(t, 0, s.Orphans())
	assert.Equal(t, 1, s.Count())

	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestCandidateFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0, 0}))
	require.NoError(t, s.Add(ctx, "b", []float32{0.99, 0.01, 0, 0}))
	require.NoError(t, s.Add(ctx, "c", []float32{0.98, 0.02, 0, 0}))

	results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 3, func(id string) bool {
		return id != "a"
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

func TestDeterministicTieBreak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Identical vectors score identically; order falls back to ID.
	for _, id := range []string{"z", "m", "a"} {
		require.NoError(t, s.Add(ctx, id, []float32{1, 0, 0, 0}))
	}

	for range 5 {
		results, err := s.Search(ctx, []float32{1, 0, 0, 0}, 3, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a", results[0].ID)
		assert.Equal(t, "m", results[1].ID)
		assert.Equal(t, "z", results[2].ID)
	}
}

func TestEmptyStoreSearch(t *testing.T) {
	s := newTestStore(t)
	results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0, 0}))
	require.NoError(t, s.Add(ctx, "b", []float32{0, 1, 0, 0}))
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Count())
	assert.Equal(t, 4, loaded.Dimensions())

	results, err := loaded.Search(ctx, []float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestLoadCorruptMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	require.NoError(t, os.WriteFile(path, []byte("graph"), 0o644))
	require.NoError(t, os.WriteFile(path+".meta", []byte("definitely not gob"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, rferrors.ErrCorruptSnapshot)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, float64(Cosine([]float32{1, 0}, []float32{2, 0})), 1e-6)
	assert.InDelta(t, 0.0, float64(Cosine([]float32{1, 0}, []float32{0, 1})), 1e-6)
	assert.InDelta(t, -1.0, float64(Cosine([]float32{1, 0}, []float32{-1, 0})), 1e-6)
	assert.Equal(t, float32(0), Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, float32(0), Cosine(nil, nil))
}
