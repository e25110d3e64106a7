package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/BDNK1/plugpack/internal/archive"
	"github.com/BDNK1/plugpack/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// packDir builds one real plugin archive per metadata entry into a fresh
// output dir and returns it
func packDir(t *testing.T, metas ...*metadata.PluginMetadata) string {
	t.Helper()
	root := t.TempDir()
	outputDir := filepath.Join(root, "packages")

	buildDir := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(buildDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "plugin.js"), []byte("js"), 0644))

	namer, err := archive.NewNamer("")
	require.NoError(t, err)
	a := archive.NewAssembler(namer, "", discard())

	for _, meta := range metas {
		stage := t.TempDir()
		metadataPath, err := meta.WriteDescriptor(stage)
		require.NoError(t, err)
		_, err = a.Assemble(context.Background(), archive.Request{
			BuildDir:     buildDir,
			MetadataPath: metadataPath,
			Metadata:     meta,
			OutputDir:    outputDir,
		})
		require.NoError(t, err)
	}
	return outputDir
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := get(t, New(t.TempDir(), discard()), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListPackages(t *testing.T) {
	dir := packDir(t,
		&metadata.PluginMetadata{ID: "beta", Version: "0.1.0", Path: "plugin"},
		&metadata.PluginMetadata{ID: "alpha", Version: "1.0.0", Path: "plugin"},
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.zip"), []byte("skip"), 0644))

	w := get(t, New(dir, discard()), "/packages")
	require.Equal(t, http.StatusOK, w.Code)

	var packages []Package
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &packages))
	require.Len(t, packages, 2)

	assert.Equal(t, "alpha-v1.0.0.zip", packages[0].File)
	assert.Equal(t, "alpha", packages[0].ID)
	assert.Equal(t, "1.0.0", packages[0].Version)
	assert.Equal(t, "beta-v0.1.0.zip", packages[1].File)

	data, err := os.ReadFile(filepath.Join(dir, "alpha-v1.0.0.zip"))
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), packages[0].SHA256)
	assert.Equal(t, int64(len(data)), packages[0].Size)
}

func TestListPackages_MissingDir(t *testing.T) {
	w := get(t, New(filepath.Join(t.TempDir(), "nope"), discard()), "/packages")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestDownload(t *testing.T) {
	dir := packDir(t, &metadata.PluginMetadata{ID: "demo", Version: "2.0.0", Path: "plugin"})
	want, err := os.ReadFile(filepath.Join(dir, "demo-v2.0.0.zip"))
	require.NoError(t, err)

	w := get(t, New(dir, discard()), "/packages/demo-v2.0.0.zip")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, want, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "demo-v2.0.0.zip")
}

func TestDownload_Rejections(t *testing.T) {
	dir := packDir(t, &metadata.PluginMetadata{ID: "demo", Version: "2.0.0", Path: "plugin"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0644))
	s := New(dir, discard())

	tests := []struct {
		path string
		code int
	}{
		{"/packages/missing.zip", http.StatusNotFound},
		{"/packages/secret.txt", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.code, get(t, s, tt.path).Code)
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- New(t.TempDir(), discard()).Run(ctx, "127.0.0.1:0")
	}()

	cancel()
	assert.NoError(t, <-done)
}
