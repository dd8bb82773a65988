package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/gdvl/internal/utils"
)

func newHTTPCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "http [URL] [--output OUTPUT_PATH]",
		Short: "Download file via HTTP/HTTPS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := newJob("http", args[0], outputPath, cfg.Connections)
			return runJobs(cmd, []utils.GdvlJob{job})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the server if not provided)")
	return cmd
}
