package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BDNK1/plugpack/internal/constants"
	"github.com/BDNK1/plugpack/internal/detector"
	"github.com/BDNK1/plugpack/internal/metadata"
	"github.com/BDNK1/plugpack/internal/security"
	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

var (
	// ErrBuildDirMissing is returned when packaging runs before anything was built
	ErrBuildDirMissing = errors.New("build output directory missing")

	// ErrScriptMissing is returned when the build dir holds no bundled script
	ErrScriptMissing = errors.New("bundled plugin script missing")
)

// entryTime is stamped on every entry so identical inputs give identical bytes
var entryTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Request describes one packaging run
type Request struct {
	BuildDir string
	// MetadataPath is the normalized metadata.json to ship
	MetadataPath string
	Metadata     *metadata.PluginMetadata
	OutputDir    string
	// NeedsBackend gates whether native libraries from BuildDir are included
	NeedsBackend bool
}

// Assembler writes plugin archives
type Assembler struct {
	namer  *Namer
	script string
	l      *slog.Logger
}

// NewAssembler creates an assembler. script is the bundled script's name in
// the build dir; empty means plugin.js.
func NewAssembler(namer *Namer, script string, l *slog.Logger) *Assembler {
	if script == "" {
		script = constants.ScriptName
	}
	if l == nil {
		l = slog.Default()
	}
	return &Assembler{namer: namer, script: script, l: l}
}

// ArchivePath is where Assemble writes the archive for meta
func (a *Assembler) ArchivePath(meta *metadata.PluginMetadata, outputDir string) (string, error) {
	name, err := a.namer.Name(meta)
	if err != nil {
		return "", err
	}
	return filepath.Join(outputDir, name), nil
}

// Assemble packages the build dir into <outputDir>/<name>.zip and returns
// the archive path. All inputs are checked before the output file is
// created; on any later failure the partial file is removed.
func (a *Assembler) Assemble(ctx context.Context, req Request) (string, error) {
	meta := req.Metadata
	if meta == nil {
		return "", fmt.Errorf("metadata is required for packaging")
	}
	if err := security.ValidateFileName(meta.ID); err != nil {
		return "", fmt.Errorf("plugin id cannot be used as archive root: %w", err)
	}

	if !detector.DirExists(req.BuildDir) {
		return "", fmt.Errorf("%w: %q (build the plugin first)", ErrBuildDirMissing, req.BuildDir)
	}

	scriptPath := filepath.Join(req.BuildDir, a.script)
	if info, err := os.Stat(scriptPath); err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q", ErrScriptMissing, scriptPath)
	}

	if _, err := os.Stat(req.MetadataPath); err != nil {
		return "", fmt.Errorf("metadata descriptor not staged at %q: %w", req.MetadataPath, err)
	}

	var libraries []string
	if req.NeedsBackend {
		var err error
		libraries, err = FindLibraries(req.BuildDir)
		if err != nil {
			return "", err
		}
		if len(libraries) == 0 {
			a.l.Info("No native library in build directory, packaging script only", "dir", req.BuildDir)
		}
	}

	archivePath, err := a.ArchivePath(meta, req.OutputDir)
	if err != nil {
		return "", err
	}

	entries := []entry{
		{name: path.Join(meta.ID, constants.ScriptName), src: scriptPath, mode: 0644},
		{name: path.Join(meta.ID, constants.MetadataEntryName), src: req.MetadataPath, mode: 0644},
	}
	for _, lib := range libraries {
		entries = append(entries, entry{
			name: path.Join(meta.ID, lib),
			src:  filepath.Join(req.BuildDir, lib),
			mode: 0755,
		})
	}

	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory at %q: %w", req.OutputDir, err)
	}

	if err := writeArchive(ctx, archivePath, entries); err != nil {
		return "", err
	}

	a.l.Info("Plugin archive written",
		"path", archivePath,
		"entries", len(entries),
		"libraries", len(libraries))

	return archivePath, nil
}

// FindLibraries lists build-dir files named plugin*.so|.dll|.dylib, sorted.
// Every match is returned, including leftovers for other platforms.
func FindLibraries(buildDir string) ([]string, error) {
	dirEntries, err := os.ReadDir(buildDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read build directory at %q: %w", buildDir, err)
	}

	var libs []string
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, constants.LibraryPrefix) {
			continue
		}
		for _, ext := range detector.LibraryExtensions {
			if strings.HasSuffix(name, ext) {
				libs = append(libs, name)
				break
			}
		}
	}

	sort.Strings(libs)
	return libs, nil
}

type entry struct {
	name string
	src  string
	mode os.FileMode
}

func writeArchive(ctx context.Context, archivePath string, entries []entry) (err error) {
	dir, base := filepath.Split(archivePath)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", base, uuid.New().String()[:8]))

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create archive at %q: %w", tmpPath, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("packaging interrupted: %w", err)
		}
		if err := addFile(zw, e); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive %q: %w", archivePath, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive %q: %w", archivePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close archive %q: %w", archivePath, err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move archive into place at %q: %w", archivePath, err)
	}

	return nil
}

func addFile(zw *zip.Writer, e entry) error {
	src, err := os.Open(e.src)
	if err != nil {
		return fmt.Errorf("failed to open %q for archiving: %w", e.src, err)
	}
	defer src.Close()

	header := &zip.FileHeader{
		Name:     e.name,
		Method:   zip.Deflate,
		Modified: entryTime,
	}
	header.SetMode(e.mode)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", e.name, err)
	}

	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", e.name, err)
	}

	return nil
}
