package s3

import (
	"context"
	"fmt"

	"github.com/tanq16/gdvl/internal/utils"
)

// Resolver turns s3://bucket/key into a presigned HTTPS URL the range
// engine can fetch like any other origin.
type Resolver struct {
	Profile string
}

func (r *Resolver) Resolve(ctx context.Context, locator string) (*utils.Resolution, error) {
	bucket, key, err := parseS3URL(locator)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("%w: %s names a bucket, not an object", utils.ErrUnsupportedLocator, locator)
	}
	client, err := newS3Client(ctx, r.Profile)
	if err != nil {
		return nil, fmt.Errorf("error creating S3 client: %w", err)
	}
	link, err := presignObject(ctx, client, bucket, key)
	if err != nil {
		return nil, err
	}
	return &utils.Resolution{URL: link, Filename: outputNameForKey(bucket, key)}, nil
}
