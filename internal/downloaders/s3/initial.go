package s3

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/gdvl/internal/utils"
)

const defaultProfile = "default"

type S3Downloader struct{}

func (d *S3Downloader) ValidateJob(ctx context.Context, job *utils.GdvlJob) error {
	bucket, key, err := parseS3URL(job.URL)
	if err != nil {
		return err
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["bucket"] = bucket
	job.Metadata["key"] = key
	if profile, _ := job.Metadata["profile"].(string); profile == "" {
		job.Metadata["profile"] = defaultProfile
	}
	log.Info().Str("op", "s3/initial").Msgf("job validated for s3://%s/%s", bucket, key)
	return nil
}

func (d *S3Downloader) BuildJob(ctx context.Context, job *utils.GdvlJob) error {
	bucket := job.Metadata["bucket"].(string)
	key := job.Metadata["key"].(string)
	profile := job.Metadata["profile"].(string)
	job.HTTPClientConfig.HighThreadMode = job.Connections > 5

	client, err := newS3Client(ctx, profile)
	if err != nil {
		return fmt.Errorf("error creating S3 client: %w", err)
	}
	fileType, size, err := getS3ObjectInfo(ctx, bucket, key, client)
	if err != nil {
		return fmt.Errorf("error getting S3 object info: %w", err)
	}
	job.Metadata["fileType"] = fileType
	job.Metadata["size"] = size
	log.Debug().Str("op", "s3/initial").Msgf("determined object type: %s, size: %d", fileType, size)

	if job.OutputPath == "" {
		job.OutputPath = outputNameForKey(bucket, key)
	}
	log.Info().Str("op", "s3/initial").Msgf("job built for s3://%s/%s", bucket, key)
	return nil
}
