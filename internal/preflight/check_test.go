package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankfuse/rankfuse/internal/index"
	"github.com/rankfuse/rankfuse/internal/search"
)

type fakeProbe struct {
	up    bool
	model string
}

func (p fakeProbe) Available(context.Context) bool { return p.up }
func (p fakeProbe) ModelName() string              { return p.model }

func TestRunAllPassesOnHealthyDir(t *testing.T) {
	c := New(t.TempDir(), fakeProbe{up: true, model: "nomic-embed-text"})
	results := c.RunAll(context.Background())

	require.Len(t, results, 4)
	assert.False(t, HasCriticalFailures(results))
	assert.Equal(t, "ready", SummaryStatus(results))
}

func TestEmbedderDownIsWarningNotFailure(t *testing.T) {
	c := New(t.TempDir(), fakeProbe{up: false})
	results := c.RunAll(context.Background())

	assert.False(t, HasCriticalFailures(results))
	assert.Equal(t, "ready_with_warnings", SummaryStatus(results))

	embedder := results[len(results)-1]
	assert.Equal(t, "embedder", embedder.Name)
	assert.Equal(t, StatusWarn, embedder.Status)
}

func TestNilProbeSkipsEmbedderCheck(t *testing.T) {
	c := New(t.TempDir(), nil)
	results := c.RunAll(context.Background())
	for _, r := range results {
		assert.NotEqual(t, "embedder", r.Name)
	}
}

func TestCorruptSnapshotFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, search.LexicalSnapshotFile)
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0644))

	c := New(dir, nil)
	result := c.CheckSnapshots()
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
	assert.Contains(t, result.Message, "lexical")
}

func TestIntactSnapshotPasses(t *testing.T) {
	dir := t.TempDir()
	ix := index.New(index.DefaultConfig())
	ix.Add(index.Doc{ID: "1", Text: "hello world"})
	require.NoError(t, ix.Save(filepath.Join(dir, search.LexicalSnapshotFile)))

	c := New(dir, nil)
	assert.Equal(t, StatusPass, c.CheckSnapshots().Status)
}

func TestWritePermissionsCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	c := New(dir, nil)

	result := c.CheckWritePermissions()
	assert.Equal(t, StatusPass, result.Status)
	assert.DirExists(t, dir)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "PASS", StatusPass.String())
	assert.Equal(t, "WARN", StatusWarn.String())
	assert.Equal(t, "FAIL", StatusFail.String())

	b, err := StatusWarn.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"WARN"`, string(b))
}
