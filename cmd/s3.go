package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/gdvl/internal/utils"
)

func newS3Cmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "s3 [BUCKET/KEY or s3://BUCKET/KEY]",
		Short: "Download files from AWS S3",
		Long: `Download files or folders from AWS S3.

Objects are fetched through presigned URLs with the same parallel,
resumable engine as HTTP downloads.

Examples:
  gdvl s3 mybucket/path/to/file.zip
  gdvl s3 s3://mybucket/path/to/folder/
  gdvl s3 mybucket/file.zip --profile myprofile`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			locator := args[0]
			if !strings.HasPrefix(locator, "s3://") {
				locator = "s3://" + locator
			}
			job := newJob("s3", locator, outputPath, cfg.Connections)
			job.Metadata["profile"] = cfg.Profile
			return runJobs(cmd, []utils.GdvlJob{job})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path")
	cmd.Flags().StringP("profile", "p", "default", "AWS profile to use")
	return cmd
}
