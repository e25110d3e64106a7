package cmd

import (
	"errors"
	"fmt"
	goruntime "runtime"

	"github.com/BDNK1/plugpack/internal/archive"
	"github.com/BDNK1/plugpack/internal/backend"
	"github.com/BDNK1/plugpack/internal/pipeline"
	"github.com/spf13/cobra"
)

type buildOptions struct {
	global       *globalOptions
	backendOnly  bool
	packageOnly  bool
	forceBackend bool
}

func (o *buildOptions) mode() (pipeline.Mode, error) {
	switch {
	case o.backendOnly && o.packageOnly:
		return 0, usageError(errors.New("--backend-only and --package-only cannot be used together"))
	case o.backendOnly:
		return pipeline.ModeBackendOnly, nil
	case o.packageOnly:
		return pipeline.ModePackageOnly, nil
	default:
		return pipeline.ModeFull, nil
	}
}

func (o *buildOptions) run(cmd *cobra.Command, _ []string) error {
	mode, err := o.mode()
	if err != nil {
		return err
	}

	l, err := o.global.logger()
	if err != nil {
		return err
	}

	cfg, paths, err := o.global.load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Building plugin in: %s (%s)\n", paths.ProjectDir, mode)

	compiler := backend.NewCompiler(backend.Config{
		BuildDir:   paths.BuildDir,
		Manifest:   cfg.Backend.Manifest,
		Command:    cfg.Backend.Command,
		ReleaseDir: cfg.Backend.ReleaseDir,
		GOOS:       goruntime.GOOS,
	}, backend.ExecRunner{}, l)

	namer, err := archive.NewNamer(cfg.Output.Name)
	if err != nil {
		return configError(err)
	}
	assembler := archive.NewAssembler(namer, cfg.Build.Script, l)

	res, err := pipeline.New(paths, compiler, assembler, l).Run(cmd.Context(), pipeline.Options{
		Mode:         mode,
		ForceBackend: o.forceBackend,
	})
	if err != nil {
		return err
	}

	if res.Metadata != nil {
		fmt.Fprintf(out, "✓ Metadata: %s v%s\n", res.Metadata.ID, res.Metadata.Version)
	}
	if res.Artifact != nil {
		fmt.Fprintf(out, "✓ Backend compiled: %s\n", res.Artifact.DestPath)
	}
	if res.ArchivePath != "" {
		fmt.Fprintf(out, "✓ Package created: %s\n", res.ArchivePath)
	}

	return nil
}
