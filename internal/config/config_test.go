package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankfuse/rankfuse/internal/meta"
)

// isolateUserConfig points the user config lookup at an empty temp dir
// so tests never read the developer's real config.
func isolateUserConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 4, cfg.Search.FusionHeadroom)
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.InDelta(t, 0.7, cfg.Search.MMRLambda, 1e-9)
	assert.InDelta(t, 0.95, cfg.Search.SimilarityThreshold, 1e-9)
	assert.Equal(t, 1.2, cfg.Index.BM25K1)
	assert.Equal(t, 0.75, cfg.Index.BM25B)
	assert.Equal(t, 16, cfg.Index.HNSWM)
	assert.Empty(t, cfg.Embeddings.Provider, "empty provider means auto-detect")

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.RetrievalTimeout())
	assert.Equal(t, 5*time.Second, cfg.RerankTimeout())
	assert.Equal(t, 24*time.Hour, cfg.EmbeddingTTL())
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	yaml := `
version: 1
search:
  rrf_constant: 30
  max_results: 25
  synonyms:
    laptop: [notebook, ultrabook]
embeddings:
  provider: static
schema:
  category: string
  rating: number
  tags: string_set
  published: timestamp
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rankfuse.yaml"), []byte(yaml), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Search.RRFConstant)
	assert.Equal(t, 25, cfg.Search.MaxResults)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, map[string][]string{"laptop": {"notebook", "ultrabook"}}, cfg.Search.Synonyms)
	// Untouched fields keep their defaults.
	assert.Equal(t, 4, cfg.Search.FusionHeadroom)
	assert.InDelta(t, 0.7, cfg.Search.MMRLambda, 1e-9)

	schema, err := cfg.MetadataSchema()
	require.NoError(t, err)
	assert.Equal(t, meta.Schema{
		"category":  meta.TypeString,
		"rating":    meta.TypeNumber,
		"tags":      meta.TypeStringSet,
		"published": meta.TypeTime,
	}, schema)
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rankfuse.yaml"),
		[]byte("search:\n  rrf_constant: 30\n"), 0644))

	t.Setenv("RANKFUSE_RRF_CONSTANT", "90")
	t.Setenv("RANKFUSE_EMBEDDER", "static")
	t.Setenv("RANKFUSE_MMR_LAMBDA", "0.4")
	t.Setenv("RANKFUSE_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.InDelta(t, 0.4, cfg.Search.MMRLambda, 1e-9)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrideIgnoresInvalidValues(t *testing.T) {
	isolateUserConfig(t)
	t.Setenv("RANKFUSE_RRF_CONSTANT", "not-a-number")
	t.Setenv("RANKFUSE_MMR_LAMBDA", "7.5")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.InDelta(t, 0.7, cfg.Search.MMRLambda, 1e-9)
}

func TestLoadMissingConfigUsesDefaults(t *testing.T) {
	isolateUserConfig(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative rrf constant", func(c *Config) { c.Search.RRFConstant = -1 }},
		{"lambda above one", func(c *Config) { c.Search.MMRLambda = 1.5 }},
		{"bm25 b above one", func(c *Config) { c.Index.BM25B = 1.2 }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "cohere" }},
		{"bad timeout", func(c *Config) { c.Search.RetrievalTimeout = "soon" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad schema type", func(c *Config) { c.Schema = map[string]string{"f": "decimal"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInvalidYAMLFailsLoad(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rankfuse.yaml"),
		[]byte("search: [not, a, mapping]\n"), 0644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Search.RRFConstant = 42

	path := filepath.Join(dir, ".rankfuse.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Search.RRFConstant)
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".rankfuse.yaml"), []byte("version: 1\n"), 0644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestBackupRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".rankfuse.yaml")

	// No file yet: nothing to back up.
	bak, err := Backup(path)
	require.NoError(t, err)
	assert.Empty(t, bak)

	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))
	bak, err = Backup(path)
	require.NoError(t, err)
	require.NotEmpty(t, bak)
	assert.FileExists(t, bak)

	// Simulate older backups beyond the retention limit.
	for _, ts := range []string{"20240101-000000", "20240102-000000", "20240103-000000", "20240104-000000"} {
		stale := path + BackupSuffix + "." + ts
		require.NoError(t, os.WriteFile(stale, []byte("old\n"), 0644))
	}
	_, err = Backup(path)
	require.NoError(t, err)

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".rankfuse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))

	bak, err := Backup(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version: 2\n"), 0644))
	require.NoError(t, Restore(path, bak))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}
