package gdvlhttp

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// OutputFile is a destination sized to its final length before any range
// is written. Every worker writes through its own handle on the same path,
// and only inside the range it owns.
type OutputFile struct {
	path    string
	size    int64
	written *atomic.Int64
}

// PreallocateOutput creates or truncates path and extends it to size. With
// keep set the existing bytes stay in place (a range resume).
func PreallocateOutput(path string, size int64, keep bool) (*OutputFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: error creating output directory: %w", ErrWriteFailed, err)
	}
	flag := os.O_CREATE | os.O_WRONLY
	if !keep {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: error opening output file: %w", ErrWriteFailed, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return nil, fmt.Errorf("%w: error setting file size: %w", ErrWriteFailed, err)
	}
	return &OutputFile{path: path, size: size, written: &atomic.Int64{}}, nil
}

// OpenWriter returns a positional writer confined to r.
func (o *OutputFile) OpenWriter(r ByteRange) (*rangeWriter, error) {
	if r.Start < 0 || r.End >= o.size || r.End < r.Start {
		return nil, fmt.Errorf("%w: range %d-%d outside file of %d bytes", ErrWriteFailed, r.Start, r.End, o.size)
	}
	f, err := os.OpenFile(o.path, os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: error opening output file: %w", ErrWriteFailed, err)
	}
	return &rangeWriter{f: f, r: r, total: o.written}, nil
}

// BytesWritten counts bytes written through this file during the current run.
func (o *OutputFile) BytesWritten() int64 {
	return o.written.Load()
}

// Verify checks the on-disk size against the planned size.
func (o *OutputFile) Verify() error {
	info, err := os.Stat(o.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if info.Size() != o.size {
		return fmt.Errorf("%w: expected %d bytes on disk, found %d", ErrSizeMismatch, o.size, info.Size())
	}
	return nil
}

type rangeWriter struct {
	f       *os.File
	r       ByteRange
	written int64
	total   *atomic.Int64
}

func (w *rangeWriter) Write(p []byte) (int, error) {
	if w.written+int64(len(p)) > w.r.Length() {
		return 0, fmt.Errorf("%w: write past end of range %d-%d", ErrWriteFailed, w.r.Start, w.r.End)
	}
	n, err := w.f.WriteAt(p, w.r.Start+w.written)
	w.written += int64(n)
	w.total.Add(int64(n))
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return n, nil
}

// reset rewinds to the range start for a whole-range re-fetch.
func (w *rangeWriter) reset() {
	w.written = 0
}

func (w *rangeWriter) Close() error {
	syncErr := w.f.Sync()
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if syncErr != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, syncErr)
	}
	return nil
}
