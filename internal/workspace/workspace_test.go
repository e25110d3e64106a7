package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BDNK1/plugpack/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndCleanup(t *testing.T) {
	base := t.TempDir()

	ws, err := Create(base)
	require.NoError(t, err)
	assert.Len(t, ws.UUID, 8)
	assert.True(t, strings.HasPrefix(filepath.Base(ws.Path), "plugpack-"))
	assert.DirExists(t, ws.Path)

	require.NoError(t, ws.Cleanup())
	assert.NoDirExists(t, ws.Path)

	// second cleanup is harmless
	require.NoError(t, ws.Cleanup())
}

func TestCreate_Unique(t *testing.T) {
	base := t.TempDir()

	a, err := Create(base)
	require.NoError(t, err)
	b, err := Create(base)
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
}

func TestStageMetadata(t *testing.T) {
	ws, err := Create(t.TempDir())
	require.NoError(t, err)
	defer ws.Cleanup()

	path, err := ws.StageMetadata(&metadata.PluginMetadata{ID: "demo", Version: "1.0.0", Path: "plugin"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Path, "metadata.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id": "demo"`)
}

func TestCleanup_EmptyPath(t *testing.T) {
	ws := &Workspace{}
	assert.NoError(t, ws.Cleanup())
}
