package cmd

import (
	"errors"
	"fmt"

	"github.com/BDNK1/plugpack/internal/archive"
	"github.com/BDNK1/plugpack/internal/metadata"
	"github.com/BDNK1/plugpack/internal/pipeline"
	"github.com/BDNK1/plugpack/internal/registry"
	"github.com/spf13/cobra"
)

func newPublishCmd(opts *globalOptions) *cobra.Command {
	var (
		registryURL string
		token       string
	)

	publishCmd := &cobra.Command{
		Use:   "publish [archive]",
		Short: "Upload a plugin archive to a registry",
		Long: `Publish uploads a packaged plugin to a registry. Without an argument it
uploads the archive the last package run produced for the current metadata.

Example:
  plugpack publish
  plugpack publish packages/demo-v2.0.0.zip --registry https://plugins.example
`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.logger()
			if err != nil {
				return err
			}

			cfg, paths, err := opts.load()
			if err != nil {
				return err
			}

			archivePath := ""
			if len(args) > 0 {
				archivePath = args[0]
			} else {
				meta, err := metadata.Resolve(paths.ProjectDir, metadata.Options{
					MetadataFile: paths.MetadataFile,
					PackageFile:  paths.PackageFile,
				})
				if err != nil {
					return configError(err)
				}
				namer, err := archive.NewNamer(cfg.Output.Name)
				if err != nil {
					return configError(err)
				}
				archivePath, err = archive.NewAssembler(namer, cfg.Build.Script, l).ArchivePath(meta, paths.OutputDir)
				if err != nil {
					return configError(err)
				}
			}

			pubCfg := registry.Config{
				Registry: cfg.Publish.Registry,
				Token:    cfg.Publish.Token,
				Timeout:  cfg.Publish.Timeout,
				Retries:  cfg.Publish.Retries,
			}
			if registryURL != "" {
				pubCfg.Registry = registryURL
			}
			if token != "" {
				pubCfg.Token = token
			}

			publisher, err := registry.NewPublisher(pubCfg, l)
			if err != nil {
				if errors.Is(err, registry.ErrRegistryNotConfigured) {
					return configError(fmt.Errorf("%w: set publish.registry, PLUGPACK_REGISTRY or --registry", err))
				}
				return configError(err)
			}

			receipt, err := publisher.Publish(cmd.Context(), archivePath)
			if err != nil {
				return pipeline.NewError(pipeline.KindPublish, pipeline.StatePublishing, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Published %s v%s to %s\n", receipt.ID, receipt.Version, pubCfg.Registry)
			if receipt.URL != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", receipt.URL)
			}
			return nil
		},
	}

	publishCmd.Flags().StringVar(&registryURL, "registry", "", "Registry base URL (overrides publish.registry)")
	publishCmd.Flags().StringVar(&token, "token", "", "Registry bearer token (overrides publish.token)")
	return publishCmd
}
