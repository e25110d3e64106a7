package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BDNK1/plugpack/internal/config"
	"github.com/BDNK1/plugpack/internal/pipeline"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	projectDir string
	configPath string
	logLevel   string
}

// NewRootCmd builds the plugpack command tree
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	build := &buildOptions{global: opts}

	rootCmd := &cobra.Command{
		Use:   "plugpack",
		Short: "Build and package host-application plugins",
		Long: `plugpack builds a plugin's optional native backend and packages it together
with the bundled script and normalized metadata into a distributable zip.

Example:
  plugpack
  plugpack --backend-only
  plugpack --package-only -C ./my-plugin
  plugpack --force-backend --log-level debug
`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          build.run,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.projectDir, "project", "C", ".", "Plugin project directory")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to plugpack.yaml (default: <project>/plugpack.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.Flags().BoolVar(&build.backendOnly, "backend-only", false, "Only compile the native backend")
	rootCmd.Flags().BoolVar(&build.packageOnly, "package-only", false, "Only package, skipping compilation")
	rootCmd.Flags().BoolVar(&build.forceBackend, "force-backend", false, "Treat the plugin as having a backend regardless of its metadata")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	rootCmd.AddCommand(
		newInspectCmd(opts),
		newPublishCmd(opts),
		newServeCmd(opts),
	)

	return rootCmd
}

// Execute runs the root command with SIGINT/SIGTERM wired to cancellation
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCmd().ExecuteContext(ctx)
}

// usageArgs reports positional argument failures as usage errors
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

func usageError(err error) error {
	return pipeline.NewError(pipeline.KindUsage, pipeline.StateIdle, err)
}

func configError(err error) error {
	return pipeline.NewError(pipeline.KindConfiguration, pipeline.StateIdle, err)
}

// logger builds the stderr logger for the --log-level flag
func (o *globalOptions) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, usageError(fmt.Errorf("invalid --log-level %q: %w", o.logLevel, err))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// load reads the project config and resolves its paths
func (o *globalOptions) load() (*config.Config, *config.Paths, error) {
	cfg, err := config.Load(o.projectDir, o.configPath)
	if err != nil {
		return nil, nil, configError(fmt.Errorf("failed to load config: %w", err))
	}

	paths, err := cfg.ResolvePaths(o.projectDir)
	if err != nil {
		return nil, nil, configError(err)
	}

	return cfg, paths, nil
}
