package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/gdvl/internal/utils"
	"gopkg.in/yaml.v3"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Long: `Process multiple downloads from a YAML file keyed by job type.

Example:
  http:
    - link: https://example.com/a.iso
      op: a.iso
  s3:
    - link: mybucket/data/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchFile, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			jobs := buildJobsFromBatch(batchFile, cfg.ConnectionsPerJob())
			if len(jobs) == 0 {
				return fmt.Errorf("no valid jobs found in the batch file")
			}
			return runJobs(cmd, jobs)
		},
	}
	return cmd
}

func readBatchFile(path string) (utils.BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var batchFile utils.BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	return batchFile, nil
}

func buildJobsFromBatch(batchFile utils.BatchFile, connections int) []utils.GdvlJob {
	sections := make([]string, 0, len(batchFile))
	for jobType := range batchFile {
		sections = append(sections, jobType)
	}
	sort.Strings(sections)

	var jobs []utils.GdvlJob
	for _, jobType := range sections {
		normalizedType := normalizeJobType(jobType)
		if normalizedType == "" {
			log.Warn().Str("op", "cmd/batch").Str("type", jobType).Msg("unknown job type, skipping")
			continue
		}
		for _, entry := range batchFile[jobType] {
			if entry.URL == "" {
				log.Warn().Str("op", "cmd/batch").Str("type", jobType).Msg("empty link, skipping")
				continue
			}
			link := entry.URL
			if normalizedType == "s3" && !strings.HasPrefix(link, "s3://") {
				link = "s3://" + link
			}
			job := newJob(normalizedType, link, entry.OutputPath, connections)
			if normalizedType == "s3" {
				job.Metadata["profile"] = cfg.Profile
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func normalizeJobType(jobType string) string {
	typeMap := map[string]string{
		"http":  "http",
		"https": "http",
		"s3":    "s3",
		"aws":   "s3",
	}
	return typeMap[strings.ToLower(strings.TrimSpace(jobType))]
}
