package gdvlhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/gdvl/internal/utils"
)

// runSequential streams the resource over one connection, resuming from the
// current on-disk size. Transport failures retry the whole attempt with
// exponential backoff; the next attempt resumes wherever the last stopped.
func (c *coordinator) runSequential(ctx context.Context) error {
	op := "http/sequential"
	if err := os.MkdirAll(filepath.Dir(c.opts.OutputPath), 0755); err != nil {
		return c.fail(StateSequential, fmt.Errorf("%w: error creating output directory: %w", ErrWriteFailed, err))
	}
	client := utils.NewGdvlHTTPClient(c.opts.HTTPClientConfig)
	defer client.CloseIdleConnections()

	cursor := &progressCursor{tracker: c.tracker}
	var lastErr error
	for attempt := range c.opts.Retries + 1 {
		if attempt > 0 {
			log.Warn().Str("op", op).Msgf("retrying download for %s (attempt %d/%d)", c.opts.OutputPath, attempt+1, c.opts.Retries+1)
			if err := backoff(ctx, c.opts.RetryBackoff, attempt); err != nil {
				return c.fail(StateSequential, classify(ctx, ErrCanceled, err))
			}
		}
		err := c.sequentialAttempt(ctx, client, cursor)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		log.Error().Str("op", op).Err(err).Msgf("download attempt %d failed", attempt+1)
	}
	return c.fail(StateSequential, lastErr)
}

func (c *coordinator) sequentialAttempt(ctx context.Context, client utils.HTTPDoer, cursor *progressCursor) error {
	op := "http/sequential"
	path := c.opts.OutputPath
	total := c.total.Load()

	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}
	if total > 0 && offset > total {
		log.Warn().Str("op", op).Msgf("local file larger than remote (%d > %d), restarting", offset, total)
		offset = 0
	}
	cursor.advance(offset)
	if total > 0 && offset == total {
		log.Info().Str("op", op).Msgf("%s already complete", path)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.desc.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: error creating GET request: %w", ErrUnexpectedStatus, err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		log.Debug().Str("op", op).Msgf("resuming download from offset %d", offset)
	}
	resp, err := client.Do(req)
	if err != nil {
		return classify(ctx, ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		start, _, rangeTotal, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && start != offset {
			return fmt.Errorf("%w: resume at %d answered from %d", ErrRangeRequestFailed, offset, start)
		}
		if total <= 0 && rangeTotal > 0 {
			c.total.Store(rangeTotal)
		}
	case offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		if total <= 0 || offset == total {
			log.Info().Str("op", op).Msgf("server has nothing past byte %d, treating as complete", offset)
			return nil
		}
		return fmt.Errorf("%w: status 416 at offset %d of %d", ErrRangeRequestFailed, offset, total)
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			log.Warn().Str("op", op).Msgf("server does not support resume (status %d), restarting download", resp.StatusCode)
			offset = 0
		}
		if total <= 0 && resp.ContentLength > 0 {
			c.total.Store(resp.ContentLength)
		}
	case offset == 0 && resp.StatusCode == http.StatusPartialContent:
		if _, _, rangeTotal, err := parseContentRange(resp.Header.Get("Content-Range")); err == nil && total <= 0 && rangeTotal > 0 {
			c.total.Store(rangeTotal)
		}
	default:
		return statusError(resp.StatusCode, ErrUnexpectedStatus)
	}
	total = c.total.Load()

	flag := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flag |= os.O_TRUNC
	}
	outFile, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return fmt.Errorf("%w: error opening output file: %w", ErrWriteFailed, err)
	}
	defer outFile.Close()

	chunk := ChunkSize(total, c.opts.ChunkSize)
	log.Debug().Str("op", op).Msgf("streaming with %s chunks", utils.FormatBytes(uint64(chunk)))
	buffer := make([]byte, chunk)
	for {
		bytesRead, readErr := fillBuffer(resp.Body, buffer)
		if bytesRead > 0 {
			if err := ctx.Err(); err != nil {
				return classify(ctx, ErrCanceled, err)
			}
			if err := waitBandwidth(ctx, c.limiter, bytesRead); err != nil {
				return classify(ctx, ErrCanceled, err)
			}
			n, writeErr := outFile.WriteAt(buffer[:bytesRead], offset)
			offset += int64(n)
			c.written.Add(int64(n))
			cursor.advance(offset)
			if writeErr != nil {
				return fmt.Errorf("%w: error writing to output file: %w", ErrWriteFailed, writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return classify(ctx, ErrTransport, readErr)
		}
	}
	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if total > 0 && offset < total {
		return fmt.Errorf("%w: stream ended at byte %d of %d", ErrTransport, offset, total)
	}
	return nil
}
