package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/BDNK1/plugpack/internal/archive"
	"github.com/spf13/cobra"
)

func newInspectCmd(_ *globalOptions) *cobra.Command {
	var asJSON bool

	inspectCmd := &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Show the contents and metadata of a plugin archive",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			contents, err := archive.Inspect(args[0])
			if err != nil {
				return configError(err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(contents)
			}

			meta := contents.Metadata
			fmt.Fprintf(out, "Archive: %s\n", contents.Path)
			fmt.Fprintf(out, "Plugin:  %s v%s\n", meta.ID, meta.Version)
			if meta.Name != "" {
				fmt.Fprintf(out, "Name:    %s\n", meta.Name)
			}
			if meta.BackendEntry != "" {
				fmt.Fprintf(out, "Backend: %s\n", meta.BackendEntry)
			}
			fmt.Fprintf(out, "Entries: %d\n", len(contents.Entries))
			for _, e := range contents.Entries {
				fmt.Fprintf(out, "  %-40s %10d bytes\n", e.Name, e.Size)
			}
			return nil
		},
	}

	inspectCmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return inspectCmd
}
