package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	gdvlhttp "github.com/tanq16/gdvl/internal/downloaders/http"
	"github.com/tanq16/gdvl/internal/downloaders/s3"
	"github.com/tanq16/gdvl/internal/output"
	"github.com/tanq16/gdvl/internal/utils"
)

// downloaderRegistry maps job types to their respective downloader implementations
var downloaderRegistry = map[string]utils.Downloader{
	"http": &gdvlhttp.HTTPDownloader{},
	"s3":   &s3.S3Downloader{},
}

type Scheduler struct {
	registry map[string]utils.Downloader
	display  output.Display
}

func New(display output.Display) *Scheduler {
	registry := make(map[string]utils.Downloader, len(downloaderRegistry))
	for jobType, d := range downloaderRegistry {
		registry[jobType] = d
	}
	return &Scheduler{registry: registry, display: display}
}

// Register adds or replaces the downloader for jobType.
func (s *Scheduler) Register(jobType string, d utils.Downloader) {
	s.registry[jobType] = d
}

// Run executes the scheduler with the given jobs and number of workers
func Run(ctx context.Context, jobs []utils.GdvlJob, numWorkers int, display output.Display) error {
	return New(display).Run(ctx, jobs, numWorkers)
}

// Run processes jobs on numWorkers workers and fails if any job failed.
func (s *Scheduler) Run(ctx context.Context, jobs []utils.GdvlJob, numWorkers int) error {
	s.display.Start()
	defer s.display.Stop()

	type queued struct {
		job       *utils.GdvlJob
		displayID int
	}
	jobCh := make(chan queued, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if job.Metadata == nil {
			job.Metadata = make(map[string]any)
		}
		jobCh <- queued{job: job, displayID: s.display.Register(job.URL)}
	}
	close(jobCh)

	var failed atomic.Int32
	var wg sync.WaitGroup
	for range max(numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for q := range jobCh {
				if err := s.processJob(ctx, q.job, q.displayID); err != nil {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%w: %d of %d", utils.ErrJobFailed, n, len(jobs))
	}
	return nil
}

func (s *Scheduler) processJob(ctx context.Context, job *utils.GdvlJob, displayID int) error {
	op := "scheduler/run"
	fail := func(stage string, err error) error {
		err = fmt.Errorf("%s failed: %w", stage, err)
		log.Error().Str("op", op).Str("job", job.ID).Err(err).Msgf("job for %s failed", job.URL)
		s.display.Fail(displayID, err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return fail("scheduling", err)
	}
	downloader, exists := s.registry[job.JobType]
	if !exists {
		return fail("lookup", fmt.Errorf("unknown job type: %s", job.JobType))
	}

	s.display.SetMessage(displayID, fmt.Sprintf("Validating %s job", job.JobType))
	if err := downloader.ValidateJob(ctx, job); err != nil {
		return fail("validation", err)
	}
	s.display.SetMessage(displayID, fmt.Sprintf("Building %s job", job.JobType))
	if err := downloader.BuildJob(ctx, job); err != nil {
		return fail("build", err)
	}

	job.ProgressFunc = func(downloaded, total int64) {
		s.display.Progress(displayID, downloaded, total)
	}
	s.display.SetMessage(displayID, fmt.Sprintf("Downloading %s", job.OutputPath))
	log.Info().Str("op", op).Str("job", job.ID).Msgf("downloading %s to %s", job.URL, job.OutputPath)
	if err := downloader.Download(ctx, job); err != nil {
		return fail("download", err)
	}

	if skipped, _ := job.Metadata["skipped"].(bool); skipped {
		s.display.Skip(displayID, fmt.Sprintf("Already complete %s", job.OutputPath))
		return nil
	}
	size, _ := job.Metadata["totalDownloaded"].(int64)
	elapsed, _ := job.Metadata["totalTime"].(float64)
	s.display.Complete(displayID, fmt.Sprintf("Downloaded %s (%s in %.1fs)", job.OutputPath, utils.FormatBytes(uint64(size)), elapsed))
	return nil
}
