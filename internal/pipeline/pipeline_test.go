package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/BDNK1/plugpack/internal/archive"
	"github.com/BDNK1/plugpack/internal/backend"
	"github.com/BDNK1/plugpack/internal/config"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompiler drops plugin.so into the build dir, like a successful cargo
// build followed by the canonical copy
type fakeCompiler struct {
	buildDir string
	err      error
	calls    int
	skipCopy bool
}

func (f *fakeCompiler) Compile(_ context.Context, sourceDir string) (*backend.Artifact, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.skipCopy {
		return nil, nil
	}
	if err := os.MkdirAll(f.buildDir, 0755); err != nil {
		return nil, err
	}
	dest := filepath.Join(f.buildDir, "plugin.so")
	if err := os.WriteFile(dest, []byte("ELF"), 0755); err != nil {
		return nil, err
	}
	return &backend.Artifact{Platform: "linux", LibraryName: "plugin_backend", SourcePath: sourceDir, DestPath: dest}, nil
}

type project struct {
	dir      string
	paths    *config.Paths
	compiler *fakeCompiler
}

func newProject(t *testing.T, pluginJSON string) *project {
	t.Helper()
	dir := t.TempDir()

	if pluginJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(pluginJSON), 0644))
	}

	cfg, err := config.Load(dir, "")
	require.NoError(t, err)
	paths, err := cfg.ResolvePaths(dir)
	require.NoError(t, err)

	return &project{
		dir:      dir,
		paths:    paths,
		compiler: &fakeCompiler{buildDir: paths.BuildDir},
	}
}

func (p *project) withScript(t *testing.T) *project {
	t.Helper()
	require.NoError(t, os.MkdirAll(p.paths.BuildDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(p.paths.BuildDir, "plugin.js"), []byte("bundle"), 0644))
	return p
}

func (p *project) withBackendDir(t *testing.T) *project {
	t.Helper()
	require.NoError(t, os.MkdirAll(p.paths.BackendDir, 0755))
	return p
}

func (p *project) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	namer, err := archive.NewNamer("")
	require.NoError(t, err)
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	pl := New(p.paths, p.compiler, archive.NewAssembler(namer, "", l), l)
	pl.WorkspaceDir = t.TempDir()
	return pl
}

func entryNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestRun_FullScenario(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "2.0.0", "hasBackend": true}`).
		withScript(t).
		withBackendDir(t)

	res, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	assert.Equal(t, 1, p.compiler.calls)
	assert.True(t, res.NeedsBackend)
	require.NotNil(t, res.Artifact)
	assert.Equal(t, filepath.Join(p.paths.OutputDir, "demo-v2.0.0.zip"), res.ArchivePath)
	assert.Equal(t, []string{"demo/metadata.json", "demo/plugin.js", "demo/plugin.so"}, entryNames(t, res.ArchivePath))
	assert.Equal(t, []State{StateIdle, StateResolvingMetadata, StateCompiling, StatePackaging, StateDone}, res.States)
}

func TestRun_BackendGating(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "1.0.0", "hasBackend": false}`).
		withScript(t).
		withBackendDir(t)

	// leftover from an earlier backend build must not leak into the archive
	require.NoError(t, os.WriteFile(filepath.Join(p.paths.BuildDir, "plugin.so"), []byte("stale"), 0644))

	res, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	assert.Zero(t, p.compiler.calls)
	assert.False(t, res.NeedsBackend)
	assert.Equal(t, []string{"demo/metadata.json", "demo/plugin.js"}, entryNames(t, res.ArchivePath))
	assert.NotContains(t, res.States, StateCompiling)
}

func TestRun_ForceBackendOverridesMetadata(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "1.0.0"}`).
		withScript(t).
		withBackendDir(t)

	res, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeFull, ForceBackend: true})
	require.NoError(t, err)

	assert.Equal(t, 1, p.compiler.calls)
	assert.True(t, res.NeedsBackend)
	assert.Contains(t, entryNames(t, res.ArchivePath), "demo/plugin.so")
}

func TestRun_DeclaredBackendWithoutSourcesFailsFast(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "1.0.0", "hasBackend": true}`).withScript(t)

	res, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeFull})
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindConfiguration, pe.Kind)
	assert.Equal(t, StateCompiling, pe.Stage)
	assert.ErrorIs(t, err, backend.ErrBackendSourceMissing)
	assert.Equal(t, 3, ExitCode(err))

	assert.Zero(t, p.compiler.calls)
	assert.Empty(t, res.ArchivePath)
	assert.NoDirExists(t, p.paths.OutputDir)
	assert.Equal(t, StateFailed, res.States[len(res.States)-1])
}

func TestRun_ToolchainFailureAbortsPackaging(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "1.0.0", "hasBackend": true}`).
		withScript(t).
		withBackendDir(t)
	p.compiler.err = &backend.ToolchainError{Command: []string{"cargo", "build"}, Dir: p.paths.BackendDir, ExitCode: 101}

	_, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeFull})
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindToolchain, pe.Kind)
	assert.Equal(t, 4, ExitCode(err))
	assert.NoDirExists(t, p.paths.OutputDir)
}

func TestRun_MissingLibraryStillPackages(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "1.0.0", "hasBackend": true}`).
		withScript(t).
		withBackendDir(t)
	p.compiler.skipCopy = true

	res, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	assert.Nil(t, res.Artifact)
	assert.Equal(t, []string{"demo/metadata.json", "demo/plugin.js"}, entryNames(t, res.ArchivePath))
}

func TestRun_BackendOnly(t *testing.T) {
	t.Run("compiles without reading metadata", func(t *testing.T) {
		p := newProject(t, "").withBackendDir(t)

		res, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeBackendOnly})
		require.NoError(t, err)

		assert.Equal(t, 1, p.compiler.calls)
		assert.Nil(t, res.Metadata)
		assert.Empty(t, res.ArchivePath)
		assert.Equal(t, []State{StateIdle, StateCompiling, StateDone}, res.States)
	})

	t.Run("missing backend dir is skipped", func(t *testing.T) {
		p := newProject(t, "")

		res, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeBackendOnly})
		require.NoError(t, err)
		assert.Zero(t, p.compiler.calls)
		assert.Equal(t, []State{StateIdle, StateDone}, res.States)
	})

	t.Run("missing backend dir is fatal when forced", func(t *testing.T) {
		p := newProject(t, "")

		_, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeBackendOnly, ForceBackend: true})
		require.Error(t, err)
		assert.ErrorIs(t, err, backend.ErrBackendSourceMissing)
		assert.Equal(t, 3, ExitCode(err))
	})
}

func TestRun_PackageOnlySkipsCompiler(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "2.0.0", "hasBackend": true}`).
		withScript(t).
		withBackendDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.paths.BuildDir, "plugin.so"), []byte("prebuilt"), 0644))

	res, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModePackageOnly})
	require.NoError(t, err)

	assert.Zero(t, p.compiler.calls)
	assert.Equal(t, []string{"demo/metadata.json", "demo/plugin.js", "demo/plugin.so"}, entryNames(t, res.ArchivePath))
	assert.Equal(t, []State{StateIdle, StateResolvingMetadata, StatePackaging, StateDone}, res.States)
}

func TestRun_MissingMetadata(t *testing.T) {
	p := newProject(t, "").withScript(t)

	_, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModePackageOnly})
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindConfiguration, pe.Kind)
	assert.Equal(t, StateResolvingMetadata, pe.Stage)
	assert.Zero(t, p.compiler.calls)
}

func TestRun_UnusableIDIsConfigurationError(t *testing.T) {
	p := newProject(t, `{"version": "1.0.0"}`).withScript(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.dir, "package.json"), []byte(`{"name": "@acme/demo"}`), 0644))

	_, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModePackageOnly})
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StateResolvingMetadata, pe.Stage)
	assert.Equal(t, 3, ExitCode(err))
	assert.NoDirExists(t, p.paths.OutputDir)
}

func TestRun_MissingBuildDir(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "1.0.0"}`)

	_, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModePackageOnly})
	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrBuildDirMissing)
	assert.Equal(t, 3, ExitCode(err))
}

func TestRun_MissingScript(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "1.0.0"}`)
	require.NoError(t, os.MkdirAll(p.paths.BuildDir, 0755))

	_, err := p.pipeline(t).Run(context.Background(), Options{Mode: ModeFull})
	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrScriptMissing)
	assert.Equal(t, 5, ExitCode(err))
	assert.NoDirExists(t, p.paths.OutputDir)
}

func TestRun_IdempotentNaming(t *testing.T) {
	p := newProject(t, `{"id": "demo", "version": "2.0.0"}`).withScript(t)
	pl := p.pipeline(t)

	first, err := pl.Run(context.Background(), Options{Mode: ModePackageOnly})
	require.NoError(t, err)
	second, err := pl.Run(context.Background(), Options{Mode: ModePackageOnly})
	require.NoError(t, err)

	assert.Equal(t, first.ArchivePath, second.ArchivePath)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
	assert.Equal(t, 2, ExitCode(NewError(KindUsage, StateIdle, errors.New("bad flag"))))
	assert.Equal(t, 6, ExitCode(NewError(KindPublish, StatePublishing, errors.New("503"))))
	assert.Equal(t, 130, ExitCode(classify(StateCompiling, context.Canceled)))
	assert.Equal(t, 1, ExitCode(NewError(ErrorKind("mystery"), StateIdle, errors.New("x"))))
}

func TestError_Message(t *testing.T) {
	err := NewError(KindPackaging, StatePackaging, errors.New("disk full"))
	assert.Equal(t, "[Packaging/packaging] disk full", err.Error())
}
