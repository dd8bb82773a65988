package gdvlhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/gdvl/internal/utils"
	"golang.org/x/time/rate"
)

// DownloadTask is one range handed to one worker.
type DownloadTask struct {
	Index     int
	Range     ByteRange
	URL       string
	ChunkSize int64
}

// WorkerOutcome is the result of one task. Err is nil on success.
type WorkerOutcome struct {
	Index        int
	Range        ByteRange
	BytesWritten int64
	Err          error
}

// fetchRange streams task.Range into w in ChunkSize reads. Bytes written
// by a failed fetch are never trusted; a retry starts from Range.Start.
func fetchRange(ctx context.Context, client utils.HTTPDoer, task DownloadTask, w *rangeWriter, cursor *progressCursor, limiter *rate.Limiter) WorkerOutcome {
	outcome := WorkerOutcome{Index: task.Index, Range: task.Range}
	fail := func(err error) WorkerOutcome {
		outcome.BytesWritten = w.written
		outcome.Err = err
		return outcome
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return fail(fmt.Errorf("%w: error creating request: %w", ErrRangeRequestFailed, err))
	}
	req.Header.Set("Range", task.Range.Header())
	resp, err := client.Do(req)
	if err != nil {
		return fail(classify(ctx, ErrTransport, err))
	}
	defer resp.Body.Close()
	if err := checkRangeResponse(resp, task.Range); err != nil {
		return fail(err)
	}

	body := io.LimitReader(resp.Body, task.Range.Length())
	buffer := make([]byte, task.ChunkSize)
	for {
		bytesRead, readErr := fillBuffer(body, buffer)
		if bytesRead > 0 {
			if err := ctx.Err(); err != nil {
				return fail(classify(ctx, ErrCanceled, err))
			}
			if err := waitBandwidth(ctx, limiter, bytesRead); err != nil {
				return fail(classify(ctx, ErrCanceled, err))
			}
			if _, err := w.Write(buffer[:bytesRead]); err != nil {
				return fail(err)
			}
			cursor.advance(w.written)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fail(classify(ctx, ErrTransport, readErr))
		}
	}
	if w.written != task.Range.Length() {
		return fail(fmt.Errorf("%w: body ended after %d of %d bytes", ErrTransport, w.written, task.Range.Length()))
	}
	outcome.BytesWritten = w.written
	log.Debug().Str("op", "http/worker").Msgf("range %d (bytes %d-%d) complete", task.Index, task.Range.Start, task.Range.End)
	return outcome
}

// checkRangeResponse accepts 206 for exactly the requested span, or 200
// when the whole body is the requested span.
func checkRangeResponse(resp *http.Response, r ByteRange) error {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, end, _, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRangeRequestFailed, err)
		}
		if start != r.Start || end != r.End {
			return fmt.Errorf("%w: server sent bytes %d-%d for %d-%d", ErrRangeRequestFailed, start, end, r.Start, r.End)
		}
		return nil
	case http.StatusOK:
		if r.Start == 0 && resp.ContentLength == r.Length() {
			return nil
		}
		return fmt.Errorf("%w: server ignored range %d-%d", ErrRangeRequestFailed, r.Start, r.End)
	default:
		return statusError(resp.StatusCode, ErrRangeRequestFailed)
	}
}

// fillBuffer reads until buf is full or the stream stops. Unlike io.ReadFull
// it passes the reader's error through untouched, so io.EOF always means a
// clean end and a body cut mid-transfer surfaces as io.ErrUnexpectedEOF.
func fillBuffer(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// waitBandwidth blocks until the shared limiter admits n bytes.
func waitBandwidth(ctx context.Context, limiter *rate.Limiter, n int) error {
	if limiter == nil {
		return nil
	}
	burst := limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := limiter.WaitN(ctx, step); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("bandwidth limiter: %w", err)
		}
		n -= step
	}
	return nil
}
