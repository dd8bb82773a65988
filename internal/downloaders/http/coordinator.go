package gdvlhttp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/gdvl/internal/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultProgressInterval = 100 * time.Millisecond
	maxBackoff              = 30 * time.Second
)

// Options describes one download. Zero values pick the engine defaults.
type Options struct {
	URL              string
	OutputPath       string
	Connections      int
	ChunkSize        int64
	Retries          int
	RangeRetries     int
	RetryBackoff     time.Duration
	RateLimit        int64 // bytes per second shared by all connections, 0 = unlimited
	HTTPClientConfig utils.HTTPClientConfig
	ProgressFunc     func(downloaded, total int64)
	ProgressInterval time.Duration
}

// Result is returned with every download, failed or not.
type Result struct {
	BytesWritten int64 // bytes written to disk by this run
	TotalSize    int64 // 0 when never learned
	Mode         State // StateParallel or StateSequential
	Outcome      State // StateDone or StateFailed
	Skipped      bool  // the destination was already complete
	Progress     int64 // final progress snapshot
}

type coordinator struct {
	opts    Options
	desc    *ResourceDescriptor
	state   State
	tracker *ProgressTracker
	total   atomic.Int64
	written atomic.Int64
	limiter *rate.Limiter
	out     *OutputFile
}

// Download runs the full probe, transfer and verify cycle for opts.URL.
// A failed download leaves whatever was written in place for the next run.
func Download(ctx context.Context, opts Options) (*Result, error) {
	opts.Connections = max(opts.Connections, 1)
	opts.Retries = max(opts.Retries, 0)
	opts.RangeRetries = max(opts.RangeRetries, 0)
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	c := &coordinator{opts: opts, tracker: &ProgressTracker{}}
	if opts.RateLimit > 0 {
		burst := int(min(opts.RateLimit, chunkSizeXLarge))
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	result := &Result{}
	err := c.run(ctx, result)
	result.BytesWritten = c.written.Load()
	result.TotalSize = c.total.Load()
	result.Progress = c.tracker.Snapshot()
	result.Outcome = c.state
	return result, err
}

func (c *coordinator) run(ctx context.Context, result *Result) error {
	op := "http/coordinator"
	c.setState(StateProbing)
	probeClient := utils.NewGdvlHTTPClient(c.opts.HTTPClientConfig)
	desc, err := probeResource(ctx, probeClient, c.opts.URL)
	probeClient.CloseIdleConnections()
	if errors.Is(err, ErrCanceled) {
		return c.fail(StateProbing, err)
	}
	if err != nil {
		log.Warn().Str("op", op).Err(err).Msg("probe incomplete, falling back to a single stream")
	}
	c.desc = desc
	c.total.Store(desc.TotalSize)

	reporter := startProgressReporter(c.tracker, &c.total, c.opts.ProgressFunc, c.opts.ProgressInterval)
	defer reporter.stop()

	if desc.TotalSize > 0 && desc.SupportsRanges {
		result.Mode = StateParallel
		c.setState(StateParallel)
		skipped, err := c.runParallel(ctx)
		if err != nil {
			return err
		}
		if skipped {
			result.Skipped = true
			c.setState(StateDone)
			return nil
		}
	} else {
		result.Mode = StateSequential
		c.setState(StateSequential)
		c.discardRangeState()
		if err := c.runSequential(ctx); err != nil {
			return err
		}
	}
	return c.finalize()
}

// runParallel downloads every planned range not already recorded as done.
// It reports true when the destination was complete before any transfer.
func (c *coordinator) runParallel(ctx context.Context) (bool, error) {
	op := "http/coordinator"
	total := c.desc.TotalSize
	path := c.opts.OutputPath
	ranges := PlanRanges(total, c.opts.Connections)
	statePath := utils.StatePath(path)

	state, err := loadResumeState(statePath)
	if err != nil {
		log.Warn().Str("op", op).Err(err).Msg("unreadable resume state, starting over")
	}
	hadState := state != nil || err != nil
	if state != nil && !state.matches(total, ranges) {
		log.Warn().Str("op", op).Msg("resume state does not match the current plan, starting over")
		state = nil
	}
	if !hadState {
		if info, err := os.Stat(path); err == nil && info.Size() == total {
			log.Info().Str("op", op).Msgf("%s already complete (%s)", path, utils.FormatBytes(uint64(total)))
			c.tracker.Add(total)
			return true, nil
		}
	}
	if state != nil {
		// Done ranges count only while the file they were written to is intact
		if info, err := os.Stat(path); err != nil || info.Size() != total {
			log.Warn().Str("op", op).Msg("output missing or resized since the last run, starting over")
			state = nil
		}
	}
	resumed := state != nil
	if !resumed {
		state = newResumeState(statePath, c.desc.URL, total, ranges)
	}

	// A full-size file never exists without its sidecar
	if err := state.save(); err != nil {
		return false, c.fail(StateParallel, fmt.Errorf("%w: error saving resume state: %w", ErrWriteFailed, err))
	}
	out, err := PreallocateOutput(path, total, resumed)
	if err != nil {
		return false, c.fail(StateParallel, err)
	}
	c.out = out

	chunk := ChunkSize(total, c.opts.ChunkSize)
	var pending []DownloadTask
	for i, r := range ranges {
		if state.done(i) {
			c.tracker.Add(r.Length())
			continue
		}
		pending = append(pending, DownloadTask{Index: i, Range: r, URL: c.desc.URL, ChunkSize: chunk})
	}
	log.Debug().Str("op", op).Msgf("dispatching %d of %d ranges with %s chunks", len(pending), len(ranges), utils.FormatBytes(uint64(chunk)))

	outcomes := make([]WorkerOutcome, len(pending))
	var g errgroup.Group
	g.SetLimit(c.opts.Connections)
	for i, task := range pending {
		g.Go(func() error {
			outcomes[i] = c.runTask(ctx, out, state, task)
			return nil
		})
	}
	g.Wait()
	c.written.Add(out.BytesWritten())
	return false, c.aggregate(ctx, outcomes)
}

// runTask owns one range for its whole life: its own connection, its own
// file handle, and whole-range re-dispatch after transport failures.
func (c *coordinator) runTask(ctx context.Context, out *OutputFile, state *resumeState, task DownloadTask) WorkerOutcome {
	op := "http/coordinator"
	w, err := out.OpenWriter(task.Range)
	if err != nil {
		return WorkerOutcome{Index: task.Index, Range: task.Range, Err: err}
	}
	client := utils.NewGdvlHTTPClient(c.opts.HTTPClientConfig)
	defer client.CloseIdleConnections()
	cursor := &progressCursor{tracker: c.tracker}

	var outcome WorkerOutcome
	for attempt := range c.opts.RangeRetries + 1 {
		if attempt > 0 {
			log.Warn().Str("op", op).Err(outcome.Err).Msgf("re-dispatching range %d (attempt %d/%d)", task.Index, attempt+1, c.opts.RangeRetries+1)
			if err := backoff(ctx, c.opts.RetryBackoff, attempt); err != nil {
				outcome.Err = classify(ctx, ErrCanceled, err)
				break
			}
			w.reset()
		}
		outcome = fetchRange(ctx, client, task, w, cursor, c.limiter)
		if outcome.Err == nil || !retryable(outcome.Err) {
			break
		}
	}
	if err := w.Close(); err != nil && outcome.Err == nil {
		outcome.Err = err
	}
	if outcome.Err == nil {
		if err := state.markDone(task.Index); err != nil {
			outcome.Err = fmt.Errorf("%w: error saving resume state: %w", ErrWriteFailed, err)
		}
	}
	return outcome
}

// aggregate folds every outcome into one result. Any failed range fails
// the download; ranges that finished stay recorded for the next run.
func (c *coordinator) aggregate(ctx context.Context, outcomes []WorkerOutcome) error {
	op := "http/coordinator"
	var errs []error
	var first *WorkerOutcome
	for i := range outcomes {
		o := &outcomes[i]
		if o.Err == nil {
			continue
		}
		log.Error().Str("op", op).Err(o.Err).Msgf("range %d (bytes %d-%d) failed after %d bytes", o.Index, o.Range.Start, o.Range.End, o.BytesWritten)
		if first == nil {
			first = o
		}
		errs = append(errs, o.Err)
	}
	if len(errs) == 0 {
		return nil
	}
	if ctx.Err() != nil {
		return c.fail(StateParallel, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err()))
	}
	dlErr := &DownloadError{Stage: StateParallel, Kind: kindOf(first.Err), Err: errors.Join(errs...)}
	if dlErr.Kind == nil {
		dlErr.Kind = ErrRangeRequestFailed
	}
	if len(errs) == 1 {
		r := first.Range
		dlErr.Range = &r
	}
	return c.fail(StateParallel, dlErr)
}

// discardRangeState drops a sidecar left by an earlier parallel run. Its
// preallocated file says nothing about how much was written, so the
// single stream starts from zero.
func (c *coordinator) discardRangeState() {
	statePath := utils.StatePath(c.opts.OutputPath)
	if _, err := os.Stat(statePath); err != nil {
		return
	}
	log.Warn().Str("op", "http/coordinator").Msg("resume state found but ranges are unavailable, restarting from zero")
	if err := os.Truncate(c.opts.OutputPath, 0); err != nil && !os.IsNotExist(err) {
		log.Warn().Str("op", "http/coordinator").Err(err).Msg("error truncating partial file")
	}
	if err := removeResumeState(statePath); err != nil {
		log.Warn().Str("op", "http/coordinator").Err(err).Msg("error removing resume state")
	}
}

func (c *coordinator) finalize() error {
	op := "http/coordinator"
	c.setState(StateFinalizing)
	if total := c.total.Load(); total > 0 {
		verify := c.out
		if verify == nil {
			verify = &OutputFile{path: c.opts.OutputPath, size: total}
		}
		if err := verify.Verify(); err != nil {
			return c.fail(StateFinalizing, err)
		}
	} else if _, err := os.Stat(c.opts.OutputPath); err != nil {
		return c.fail(StateFinalizing, fmt.Errorf("%w: %w", ErrWriteFailed, err))
	}
	if err := removeResumeState(utils.StatePath(c.opts.OutputPath)); err != nil {
		log.Warn().Str("op", op).Err(err).Msg("error removing resume state")
	}
	c.setState(StateDone)
	return nil
}

func (c *coordinator) setState(s State) {
	c.state = s
	log.Info().Str("op", "http/coordinator").Str("state", string(s)).Msgf("%s: %s", c.opts.OutputPath, s)
}

// fail moves to StateFailed and returns err as a *DownloadError for stage.
func (c *coordinator) fail(stage State, err error) error {
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		kind := kindOf(err)
		if kind == nil {
			kind = ErrUnexpectedStatus
		}
		dlErr = &DownloadError{Stage: stage, Kind: kind, Err: err}
	}
	c.state = StateFailed
	log.Error().Str("op", "http/coordinator").Str("state", string(stage)).Err(err).Msgf("%s failed", c.opts.OutputPath)
	return dlErr
}

// backoff sleeps base*2^(attempt-1), capped, or until ctx is done.
func backoff(ctx context.Context, base time.Duration, attempt int) error {
	if base <= 0 {
		return ctx.Err()
	}
	delay := min(base<<min(attempt-1, 16), maxBackoff)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
