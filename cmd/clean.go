package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/gdvl/internal/output"
	"github.com/tanq16/gdvl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clean [OUTPUT_PATH...] [--all]",
		Short: "Remove resume state for interrupted downloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, outputPath := range args {
				if err := utils.Clean(outputPath, all); err != nil {
					return err
				}
				log.Debug().Str("op", "cmd/clean").Str("path", outputPath).Bool("all", all).Msg("cleaned")
				output.PrintSuccess("Cleaned " + outputPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also remove the partial output file")
	return cmd
}
