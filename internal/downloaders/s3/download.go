package s3

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	gdvlhttp "github.com/tanq16/gdvl/internal/downloaders/http"
	"github.com/tanq16/gdvl/internal/utils"
)

func (d *S3Downloader) Download(ctx context.Context, job *utils.GdvlJob) error {
	bucket := job.Metadata["bucket"].(string)
	key := job.Metadata["key"].(string)
	fileType := job.Metadata["fileType"].(string)
	profile := job.Metadata["profile"].(string)
	if fileType == "folder" {
		log.Info().Str("op", "s3/download").Msgf("starting folder download for s3://%s/%s", bucket, key)
		client, err := newS3Client(ctx, profile)
		if err != nil {
			return fmt.Errorf("error creating S3 client: %w", err)
		}
		return d.downloadFolder(ctx, job, bucket, key, client)
	}
	log.Info().Str("op", "s3/download").Msgf("starting file download for s3://%s/%s", bucket, key)
	resolver := &Resolver{Profile: profile}
	res, err := resolver.Resolve(ctx, job.URL)
	if err != nil {
		return err
	}
	return gdvlhttp.DownloadJob(ctx, job, res.URL)
}

// downloadFolder fetches every object under prefix one at a time, each
// through the range engine with the job's connection count.
func (d *S3Downloader) downloadFolder(ctx context.Context, job *utils.GdvlJob, bucket, prefix string, client *S3Client) error {
	objects, err := listS3Objects(ctx, bucket, prefix, client)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return fmt.Errorf("no objects found in s3://%s/%s", bucket, prefix)
	}
	var totalSize int64
	for _, obj := range objects {
		totalSize += obj.Size
	}
	log.Debug().Str("op", "s3/download").Msgf("found %d objects (%s) to download in folder", len(objects), utils.FormatBytes(uint64(totalSize)))

	startTime := time.Now()
	var completed int64
	var errs []error
	for _, obj := range objects {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		relPath := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
		link, err := presignObject(ctx, client, bucket, obj.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sub := *job
		sub.OutputPath = filepath.Join(job.OutputPath, filepath.FromSlash(relPath))
		sub.Metadata = make(map[string]any)
		base := completed
		sub.ProgressFunc = func(downloaded, _ int64) {
			if job.ProgressFunc != nil {
				job.ProgressFunc(base+downloaded, totalSize)
			}
		}
		if err := gdvlhttp.DownloadJob(ctx, &sub, link); err != nil {
			log.Error().Str("op", "s3/download").Err(err).Msgf("error downloading %s", obj.Key)
			errs = append(errs, fmt.Errorf("error downloading %s: %w", obj.Key, err))
			continue
		}
		completed += obj.Size
	}
	job.Metadata["totalDownloaded"] = completed
	job.Metadata["fileSize"] = totalSize
	job.Metadata["totalTime"] = time.Since(startTime).Seconds()
	return errors.Join(errs...)
}
