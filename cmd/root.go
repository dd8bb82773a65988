package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/gdvl/internal/config"
	"github.com/tanq16/gdvl/internal/output"
	"github.com/tanq16/gdvl/internal/scheduler"
	"github.com/tanq16/gdvl/internal/utils"
)

var GdvlVersion = "dev"

var (
	cfgFile          string
	cfg              *config.Config
	globalHTTPConfig utils.HTTPClientConfig
	logCloser        io.Closer
)

var rootCmd = &cobra.Command{
	Use:               "gdvl",
	Short:             "gdvl is a fast resumable CLI download manager",
	Version:           GdvlVersion,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logFile := ""
	if useLiveDisplay() {
		logFile = utils.LogFile
	}
	logCloser, err = utils.InitLogger(cfg.Debug, logFile)
	if err != nil {
		return err
	}
	globalHTTPConfig, err = cfg.HTTPClientConfig()
	if err != nil {
		return err
	}
	log.Debug().Str("op", "cmd/root").Int("connections", cfg.Connections).Int("workers", cfg.Workers).Msg("configuration loaded")
	return nil
}

func useLiveDisplay() bool {
	return !cfg.Plain && output.IsTerminal()
}

func newDisplay() output.Display {
	if useLiveDisplay() {
		return output.NewManager(os.Stdout)
	}
	return output.NewPlain(os.Stderr)
}

// newJob fills in the settings every job type shares.
func newJob(jobType, url, outputPath string, connections int) utils.GdvlJob {
	return utils.GdvlJob{
		JobType:          jobType,
		URL:              url,
		OutputPath:       outputPath,
		Connections:      connections,
		HTTPClientConfig: globalHTTPConfig,
		Transfer:         cfg.Transfer(),
		Metadata:         make(map[string]any),
	}
}

func runJobs(cmd *cobra.Command, jobs []utils.GdvlJob) error {
	return scheduler.Run(cmd.Context(), jobs, cfg.Workers, newDisplay())
}

func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, utils.ErrJobFailed) {
			output.PrintError(err.Error())
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $HOME/.config/gdvl/config.yaml)")
	rootCmd.PersistentFlags().IntP("connections", "c", utils.DefaultConnections, "Number of connections per download (above 5 enables high-thread-mode)")
	rootCmd.PersistentFlags().IntP("workers", "w", 1, "Number of downloads to run in parallel")
	rootCmd.PersistentFlags().String("chunk-size", "0", "Read buffer size per connection (eg. 64KB, 1MB; 0 picks one from file size)")
	rootCmd.PersistentFlags().DurationP("timeout", "t", utils.DefaultTimeout, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationP("keep-alive-timeout", "k", utils.DefaultKATimeout, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().Int("retries", utils.DefaultRetries, "Retries for single-stream downloads")
	rootCmd.PersistentFlags().Int("range-retries", utils.DefaultRangeRetries, "Re-dispatches per failed range in parallel downloads")
	rootCmd.PersistentFlags().Duration("retry-backoff", utils.DefaultRetryBackoff, "Base delay between retries, doubled per attempt")
	rootCmd.PersistentFlags().StringP("limit-rate", "r", "0", "Bandwidth cap across all connections of a download (eg. 500KB, 2MB)")
	rootCmd.PersistentFlags().StringP("user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	rootCmd.PersistentFlags().String("proxy", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().String("proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().String("proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayP("header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().String("cookies", "", "Cookie JSON file (list of {name, value}, name to value map, or {\"cookies\": [...]})")
	rootCmd.PersistentFlags().Bool("plain", false, "Print plain progress bars instead of the live display")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newS3Cmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
