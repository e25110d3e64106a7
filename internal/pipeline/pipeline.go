package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BDNK1/plugpack/internal/archive"
	"github.com/BDNK1/plugpack/internal/backend"
	"github.com/BDNK1/plugpack/internal/config"
	"github.com/BDNK1/plugpack/internal/detector"
	"github.com/BDNK1/plugpack/internal/metadata"
	"github.com/BDNK1/plugpack/internal/workspace"
)

// State is a step of a pipeline run
type State string

const (
	StateIdle              State = "Idle"
	StateResolvingMetadata State = "ResolvingMetadata"
	StateCompiling         State = "Compiling"
	StatePackaging         State = "Packaging"
	StateDone              State = "Done"
	StateFailed            State = "Failed"
	// StatePublishing is used by the publish command, outside Run
	StatePublishing State = "Publishing"
)

// Mode selects which stages run
type Mode int

const (
	// ModeFull compiles when a backend is needed, then packages
	ModeFull Mode = iota
	// ModeBackendOnly only compiles
	ModeBackendOnly
	// ModePackageOnly only packages
	ModePackageOnly
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeBackendOnly:
		return "backend-only"
	case ModePackageOnly:
		return "package-only"
	default:
		return "unknown"
	}
}

// Options for one run
type Options struct {
	Mode Mode
	// ForceBackend treats the plugin as having a backend whatever the metadata says
	ForceBackend bool
}

// Compiler builds the native backend
type Compiler interface {
	Compile(ctx context.Context, sourceDir string) (*backend.Artifact, error)
}

// Result describes a finished run
type Result struct {
	States       []State
	Metadata     *metadata.PluginMetadata
	NeedsBackend bool
	Artifact     *backend.Artifact
	ArchivePath  string
}

// Pipeline runs the stages for one project
type Pipeline struct {
	paths     *config.Paths
	compiler  Compiler
	assembler *archive.Assembler
	l         *slog.Logger
	// WorkspaceDir is where staging dirs are created; empty means the system temp dir
	WorkspaceDir string
}

// New creates a pipeline
func New(paths *config.Paths, compiler Compiler, assembler *archive.Assembler, l *slog.Logger) *Pipeline {
	if l == nil {
		l = slog.Default()
	}
	return &Pipeline{
		paths:     paths,
		compiler:  compiler,
		assembler: assembler,
		l:         l,
	}
}

// Run executes the stages selected by opts, strictly in order. The first
// failure stops the run and is returned as *Error.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}
	p.enter(res, StateIdle)

	p.l.Debug("Pipeline starting",
		"mode", opts.Mode.String(),
		"force_backend", opts.ForceBackend,
		"project", p.paths.ProjectDir)

	if opts.Mode == ModeBackendOnly {
		// backend-only never reads metadata; only the force flag makes the
		// backend mandatory
		res.NeedsBackend = opts.ForceBackend
		if err := p.compile(ctx, res, opts.ForceBackend); err != nil {
			return p.fail(res, StateCompiling, err)
		}
		p.enter(res, StateDone)
		return res, nil
	}

	p.enter(res, StateResolvingMetadata)
	meta, err := metadata.Resolve(p.paths.ProjectDir, metadata.Options{
		MetadataFile: p.paths.MetadataFile,
		PackageFile:  p.paths.PackageFile,
	})
	if err != nil {
		return p.fail(res, StateResolvingMetadata, err)
	}
	res.Metadata = meta
	res.NeedsBackend = meta.HasBackend || opts.ForceBackend

	p.l.Info("Plugin metadata resolved",
		"id", meta.ID,
		"version", meta.Version,
		"has_backend", meta.HasBackend,
		"needs_backend", res.NeedsBackend)

	if opts.Mode == ModeFull {
		if res.NeedsBackend {
			if err := p.compile(ctx, res, true); err != nil {
				return p.fail(res, StateCompiling, err)
			}
		} else {
			p.l.Info("Plugin declares no backend, skipping backend build")
		}
	}

	if err := p.pack(ctx, res); err != nil {
		return p.fail(res, StatePackaging, err)
	}

	p.enter(res, StateDone)
	return res, nil
}

// compile runs the backend stage. A missing backend dir is fatal only when
// the backend is required.
func (p *Pipeline) compile(ctx context.Context, res *Result, required bool) error {
	if !detector.DirExists(p.paths.BackendDir) {
		if required {
			return fmt.Errorf("%w: %q is required because the plugin declares a backend",
				backend.ErrBackendSourceMissing, p.paths.BackendDir)
		}
		p.l.Info("Backend directory not found, skipping backend build", "dir", p.paths.BackendDir)
		return nil
	}

	p.enter(res, StateCompiling)
	artifact, err := p.compiler.Compile(ctx, p.paths.BackendDir)
	if err != nil {
		return err
	}
	res.Artifact = artifact
	return nil
}

// pack stages the normalized metadata and writes the archive
func (p *Pipeline) pack(ctx context.Context, res *Result) error {
	p.enter(res, StatePackaging)

	ws, err := workspace.Create(p.WorkspaceDir)
	if err != nil {
		return err
	}
	defer func() {
		if cleanupErr := ws.Cleanup(); cleanupErr != nil {
			p.l.Warn("Failed to cleanup workspace", "error", cleanupErr)
		}
	}()

	metadataPath, err := ws.StageMetadata(res.Metadata)
	if err != nil {
		return err
	}

	archivePath, err := p.assembler.Assemble(ctx, archive.Request{
		BuildDir:     p.paths.BuildDir,
		MetadataPath: metadataPath,
		Metadata:     res.Metadata,
		OutputDir:    p.paths.OutputDir,
		NeedsBackend: res.NeedsBackend,
	})
	if err != nil {
		return err
	}
	res.ArchivePath = archivePath
	return nil
}

func (p *Pipeline) enter(res *Result, s State) {
	res.States = append(res.States, s)
	p.l.Debug("Pipeline state", "state", string(s))
}

func (p *Pipeline) fail(res *Result, stage State, err error) (*Result, error) {
	p.enter(res, StateFailed)
	return res, classify(stage, err)
}
