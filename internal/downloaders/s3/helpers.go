package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/tanq16/gdvl/internal/utils"
)

const presignExpiry = 6 * time.Hour

type objectAPI interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Client struct {
	api       objectAPI
	presigner objectPresigner
}

type s3Object struct {
	Key  string
	Size int64
}

// newS3Client is swapped in tests to point at a local endpoint.
var newS3Client = getS3Client

func getS3Client(ctx context.Context, profile string) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
		config.WithRetryMode(aws.RetryModeAdaptive),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return clientFromS3(s3.NewFromConfig(cfg)), nil
}

func clientFromS3(client *s3.Client) *S3Client {
	return &S3Client{api: client, presigner: s3.NewPresignClient(client)}
}

func parseS3URL(link string) (string, string, error) {
	rest, ok := strings.CutPrefix(link, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: expected s3://bucket/key, got %q", utils.ErrUnsupportedLocator, link)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket in %q", utils.ErrUnsupportedLocator, link)
	}
	return bucket, key, nil
}

// getS3ObjectInfo reports "file" with its size, or "folder" when key is a
// prefix holding at least one object.
func getS3ObjectInfo(ctx context.Context, bucket, key string, client *S3Client) (string, int64, error) {
	if key != "" && !strings.HasSuffix(key, "/") {
		headObj, err := client.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return "file", aws.ToInt64(headObj.ContentLength), nil
		}
		var notFound *types.NotFound
		if !errors.As(err, &notFound) {
			return "", 0, fmt.Errorf("error accessing S3 object: %w", err)
		}
	}

	result, err := client.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", 0, fmt.Errorf("error accessing S3 object: %w", err)
	}
	if len(result.Contents) > 0 || len(result.CommonPrefixes) > 0 {
		return "folder", -1, nil
	}
	return "", 0, fmt.Errorf("S3 object not found: s3://%s/%s", bucket, key)
}

func listS3Objects(ctx context.Context, bucket, prefix string, client *S3Client) ([]s3Object, error) {
	var objects []s3Object
	paginator := s3.NewListObjectsV2Paginator(client.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.Size == nil {
				continue
			}
			// Skip directory markers
			if *obj.Size == 0 && strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			objects = append(objects, s3Object{Key: *obj.Key, Size: *obj.Size})
		}
	}
	return objects, nil
}

func presignObject(ctx context.Context, client *S3Client, bucket, key string) (string, error) {
	req, err := client.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("error presigning s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

// outputNameForKey is the last key segment, or the bucket for a bare bucket.
func outputNameForKey(bucket, key string) string {
	name := path.Base(strings.TrimSuffix(key, "/"))
	if name == "" || name == "." || name == "/" {
		return bucket
	}
	return name
}
