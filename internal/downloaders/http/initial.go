package gdvlhttp

import (
	"context"
	"fmt"
	"time"

	"github.com/tanq16/gdvl/internal/utils"
)

type HTTPDownloader struct{}

func (d *HTTPDownloader) ValidateJob(ctx context.Context, job *utils.GdvlJob) error {
	if _, err := parseHTTPURL(job.URL); err != nil {
		return err
	}
	if job.Connections < 1 {
		job.Connections = 1
	}
	return nil
}

func (d *HTTPDownloader) BuildJob(ctx context.Context, job *utils.GdvlJob) error {
	job.HTTPClientConfig.HighThreadMode = job.Connections > 5
	if job.OutputPath != "" {
		return nil
	}
	resolver := &DirectResolver{Config: job.HTTPClientConfig}
	res, err := resolver.Resolve(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("error resolving %s: %w", job.URL, err)
	}
	job.OutputPath = res.Filename
	return nil
}

func (d *HTTPDownloader) Download(ctx context.Context, job *utils.GdvlJob) error {
	return DownloadJob(ctx, job, job.URL)
}

// DownloadJob runs the engine for job against link, which may differ from
// job.URL once a resolver has rewritten the locator.
func DownloadJob(ctx context.Context, job *utils.GdvlJob, link string) error {
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	startTime := time.Now()
	result, err := Download(ctx, Options{
		URL:              link,
		OutputPath:       job.OutputPath,
		Connections:      job.Connections,
		ChunkSize:        job.Transfer.ChunkSize,
		Retries:          job.Transfer.Retries,
		RangeRetries:     job.Transfer.RangeRetries,
		RetryBackoff:     job.Transfer.RetryBackoff,
		RateLimit:        job.Transfer.RateLimit,
		HTTPClientConfig: job.HTTPClientConfig,
		ProgressFunc:     job.ProgressFunc,
	})
	elapsed := time.Since(startTime).Seconds()

	job.Metadata["fileSize"] = result.TotalSize
	job.Metadata["mode"] = string(result.Mode)
	job.Metadata["skipped"] = result.Skipped
	job.Metadata["totalDownloaded"] = result.Progress
	job.Metadata["bytesWritten"] = result.BytesWritten
	job.Metadata["totalTime"] = elapsed
	if elapsed > 0 {
		job.Metadata["downloadSpeed"] = float64(result.BytesWritten) / elapsed
	}
	return err
}
