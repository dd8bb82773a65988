package gdvlhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// State is a coordinator stage. Errors report the stage they escaped from.
type State string

const (
	StateProbing    State = "probing"
	StateParallel   State = "parallel"
	StateSequential State = "sequential"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var (
	ErrProbeFailed        = errors.New("size probe failed")
	ErrRangeRequestFailed = errors.New("range request failed")
	ErrTransport          = errors.New("transport error")
	ErrWriteFailed        = errors.New("write failed")
	ErrSizeMismatch       = errors.New("size mismatch")
	ErrNotFound           = errors.New("resource not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrUnexpectedStatus   = errors.New("unexpected status")
	ErrCanceled           = errors.New("download canceled")
)

var errorKinds = []error{
	ErrCanceled, ErrWriteFailed, ErrSizeMismatch, ErrNotFound, ErrAccessDenied,
	ErrRangeRequestFailed, ErrTransport, ErrUnexpectedStatus, ErrProbeFailed,
}

type DownloadError struct {
	Stage State
	Kind  error
	Range *ByteRange
	Err   error
}

func (e *DownloadError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	if e.Range != nil {
		msg += fmt.Sprintf(" (bytes %d-%d)", e.Range.Start, e.Range.End)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownloadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// kindOf returns the engine error kind carried by err, or nil.
func kindOf(err error) error {
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// classify tags a raw error with a kind, preferring cancellation once ctx is done.
func classify(ctx context.Context, kind, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
	if kindOf(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// statusError maps an HTTP status to an error kind. fallback applies to 4xx
// codes without a dedicated kind.
func statusError(code int, fallback error) error {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrNotFound, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAccessDenied, code)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return fmt.Errorf("%w: status %d", ErrTransport, code)
	default:
		return fmt.Errorf("%w: status %d", fallback, code)
	}
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	return kindOf(err) == ErrTransport
}
