package cmd

import (
	"github.com/BDNK1/plugpack/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve packaged plugins over HTTP for local development",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := opts.logger()
			if err != nil {
				return err
			}

			cfg, paths, err := opts.load()
			if err != nil {
				return err
			}

			if addr == "" {
				addr = cfg.Serve.Addr
			}

			return server.New(paths.OutputDir, l).Run(cmd.Context(), addr)
		},
	}

	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides serve.addr)")
	return serveCmd
}
