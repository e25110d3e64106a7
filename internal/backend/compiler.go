package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"

	"github.com/BDNK1/plugpack/internal/constants"
	"github.com/BDNK1/plugpack/internal/detector"
)

// ErrBackendSourceMissing is returned when the backend source dir does not exist
var ErrBackendSourceMissing = errors.New("backend source directory missing")

// Artifact is a compiled library delivered into the build dir
type Artifact struct {
	Platform    detector.Platform
	LibraryName string
	// SourcePath is where the toolchain left the library
	SourcePath string
	// DestPath is the canonical copy in the build dir
	DestPath string
}

// Config configures a Compiler. Zero values fall back to the cargo layout
// and the host platform.
type Config struct {
	BuildDir   string
	Manifest   string
	Command    []string
	ReleaseDir string
	GOOS       string
}

// Compiler drives the native toolchain and normalizes its output
type Compiler struct {
	cfg    Config
	runner Runner
	l      *slog.Logger
}

// NewCompiler creates a compiler writing into cfg.BuildDir
func NewCompiler(cfg Config, runner Runner, l *slog.Logger) *Compiler {
	if cfg.Manifest == "" {
		cfg.Manifest = constants.BuildManifest
	}
	if len(cfg.Command) == 0 {
		cfg.Command = constants.DefaultToolchainCommand
	}
	if cfg.ReleaseDir == "" {
		cfg.ReleaseDir = constants.ReleaseDir
	}
	if cfg.GOOS == "" {
		cfg.GOOS = goruntime.GOOS
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if l == nil {
		l = slog.Default()
	}

	return &Compiler{cfg: cfg, runner: runner, l: l}
}

// Compile builds the backend in sourceDir and copies the library into the
// build dir under its canonical name.
//
// A toolchain failure is fatal and returned as *ToolchainError. A library that
// is missing after a successful build is only a warning: Compile returns a nil
// artifact and a nil error so packaging can go ahead without it.
func (c *Compiler) Compile(ctx context.Context, sourceDir string) (*Artifact, error) {
	if !detector.DirExists(sourceDir) {
		return nil, fmt.Errorf("%w: %q", ErrBackendSourceMissing, sourceDir)
	}

	manifest, err := LoadManifest(filepath.Join(sourceDir, c.cfg.Manifest))
	if err != nil {
		return nil, err
	}

	libName := manifest.LibraryName()
	conv := detector.ConventionFor(c.cfg.GOOS)
	if !manifest.BuildsSharedLibrary() {
		c.l.Warn("Backend crate-type does not include cdylib, the library may not be produced",
			"crate_type", manifest.Lib.CrateType)
	}

	c.l.Info("Building plugin backend",
		"dir", sourceDir,
		"library", libName,
		"platform", conv.Platform)

	if err := c.runner.Run(ctx, sourceDir, c.cfg.Command); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("backend build interrupted: %w", ctxErr)
		}
		return nil, newToolchainError(c.cfg.Command, sourceDir, err)
	}

	srcPath := filepath.Join(sourceDir, c.cfg.ReleaseDir, conv.SourceName(libName))
	c.l.Debug("Looking for backend library", "path", srcPath)

	destPath := filepath.Join(c.cfg.BuildDir, conv.CanonicalName())

	if _, err := os.Stat(srcPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.warnMissingLibrary(srcPath, destPath)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat backend library at %q: %w", srcPath, err)
	}

	if err := os.MkdirAll(c.cfg.BuildDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create build directory at %q: %w", c.cfg.BuildDir, err)
	}

	if err := copyFile(srcPath, destPath); err != nil {
		return nil, err
	}

	c.l.Info("Backend library copied", "from", srcPath, "to", destPath)

	return &Artifact{
		Platform:    conv.Platform,
		LibraryName: libName,
		SourcePath:  srcPath,
		DestPath:    destPath,
	}, nil
}

// warnMissingLibrary reports a build that left no library behind. Whatever
// copy an earlier build put in the build dir is what gets packaged.
func (c *Compiler) warnMissingLibrary(srcPath, destPath string) {
	hint := fmt.Sprintf("check the [lib] name in %s", c.cfg.Manifest)

	if info, err := os.Stat(destPath); err == nil && info.Mode().IsRegular() {
		c.l.Warn("Backend library not found after build, a stale copy from an earlier build will be packaged",
			"path", srcPath,
			"stale", destPath,
			"stale_modified", info.ModTime(),
			"hint", hint)
		return
	}

	c.l.Warn("Backend library not found after build, the archive will have no backend library",
		"path", srcPath,
		"hint", hint)
}

// copyFile copies src over dst, replacing any stale copy
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open library at %q: %w", src, err)
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("failed to create output file at %q: %w", dst, err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return fmt.Errorf("failed to copy library from %q to %q: %w", src, dst, err)
	}

	if err := destFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync output file at %q: %w", dst, err)
	}

	return nil
}
