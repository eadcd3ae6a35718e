package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()

	out, err := execute(t, "--project", dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, ".rankfuse.yaml")

	data, err := os.ReadFile(filepath.Join(dir, ".rankfuse.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "rrf_constant: 60")
}

func TestInitRefusesToOverwrite(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()

	_, err := execute(t, "--project", dir, "init")
	require.NoError(t, err)

	_, err = execute(t, "--project", dir, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestInitForceBacksUp(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, ".rankfuse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))

	_, err := execute(t, "--project", dir, "init", "--force")
	require.NoError(t, err)

	matches, err := filepath.Glob(path + ".bak.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
