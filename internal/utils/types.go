package utils

import (
	"context"
	"time"
)

type Downloader interface {
	ValidateJob(ctx context.Context, job *GdvlJob) error
	BuildJob(ctx context.Context, job *GdvlJob) error
	Download(ctx context.Context, job *GdvlJob) error
}

type GdvlJob struct {
	ID               string
	JobType          string
	OutputPath       string
	ProgressFunc     func(downloaded, total int64)
	URL              string
	Connections      int
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
	Transfer         TransferConfig
}

// TransferConfig carries the engine knobs that are not connection settings.
type TransferConfig struct {
	ChunkSize    int64 // 0 selects the adaptive size
	Retries      int   // sequential attempts after the first
	RangeRetries int   // whole-range re-dispatches per failed range
	RetryBackoff time.Duration
	RateLimit    int64 // bytes per second across all connections, 0 = unlimited
}

type DownloadEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	URL        string `yaml:"link"`
}

type BatchFile map[string][]DownloadEntry

// Resolution is where a locator actually downloads from.
type Resolution struct {
	URL      string
	Filename string
}

// Resolver turns a user-supplied locator into a fetchable media URL.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (*Resolution, error)
}
