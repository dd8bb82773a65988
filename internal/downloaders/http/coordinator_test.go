package gdvlhttp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/gdvl/internal/utils"
)

func testOptions(url, out string) Options {
	return Options{
		URL:              url,
		OutputPath:       out,
		Connections:      4,
		Retries:          2,
		RangeRetries:     1,
		RetryBackoff:     time.Millisecond,
		ProgressInterval: 5 * time.Millisecond,
	}
}

func TestDownloadParallel(t *testing.T) {
	data := testData(1048576)
	srv := newRangeServer(t, data)
	out := filepath.Join(t.TempDir(), "out.bin")

	var mu sync.Mutex
	var last int64
	opts := testOptions(srv.URL, out)
	opts.ProgressFunc = func(downloaded, total int64) {
		mu.Lock()
		defer mu.Unlock()
		assert.GreaterOrEqual(t, downloaded, last)
		assert.Equal(t, int64(len(data)), total)
		last = downloaded
	}

	result, err := Download(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.Outcome)
	assert.Equal(t, StateParallel, result.Mode)
	assert.Equal(t, int64(1048576), result.TotalSize)
	assert.Equal(t, int64(1048576), result.Progress)
	assert.Equal(t, int64(1048576), result.BytesWritten)
	assert.False(t, result.Skipped)

	headers := srv.ranges()
	sort.Strings(headers)
	assert.Equal(t, []string{
		"bytes=0-262143",
		"bytes=262144-524287",
		"bytes=524288-786431",
		"bytes=786432-1048575",
	}, headers)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, got, 1048576)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, utils.StatePath(out))

	mu.Lock()
	assert.Equal(t, int64(1048576), last, "final callback reports the full size")
	mu.Unlock()
}

func TestDownloadCompleteFileIsNoop(t *testing.T) {
	data := testData(64 * 1024)
	srv := newRangeServer(t, data)
	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(out, data, 0644))

	result, err := Download(context.Background(), testOptions(srv.URL, out))
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, StateDone, result.Outcome)
	assert.Equal(t, int64(len(data)), result.Progress)
	assert.Zero(t, result.BytesWritten)
	assert.Zero(t, srv.getCount(), "a complete file needs no range requests")
}

func TestDownloadRangeFailureThenResume(t *testing.T) {
	data := testData(1048576)
	ranges := PlanRanges(int64(len(data)), 4)
	srv := newRangeServer(t, data, func(s *rangeServer) { s.failStart = ranges[2].Start })
	out := filepath.Join(t.TempDir(), "out.bin")

	result, err := Download(context.Background(), testOptions(srv.URL, out))
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.Outcome)
	assert.ErrorIs(t, err, ErrTransport)

	var dlErr *DownloadError
	require.True(t, errors.As(err, &dlErr))
	assert.Equal(t, StateParallel, dlErr.Stage)
	require.NotNil(t, dlErr.Range)
	assert.Equal(t, ranges[2], *dlErr.Range)

	got, err := os.ReadFile(out)
	require.NoError(t, err, "partial file stays on disk")
	require.Len(t, got, len(data))
	for _, i := range []int{0, 1, 3} {
		r := ranges[i]
		assert.Equal(t, data[r.Start:r.End+1], got[r.Start:r.End+1], "range %d misplaced", i)
	}
	assert.FileExists(t, utils.StatePath(out))
	// one attempt plus one re-dispatch for the failing range
	assert.Equal(t, 5, srv.getCount())

	srv.setFailStart(-1)
	srv.resetCounters()
	result, err = Download(context.Background(), testOptions(srv.URL, out))
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.Outcome)
	assert.Equal(t, []string{ranges[2].Header()}, srv.ranges(), "only the unfinished range is fetched")
	assert.Equal(t, int64(len(data)), result.Progress)
	assert.Equal(t, ranges[2].Length(), result.BytesWritten)

	got, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, utils.StatePath(out))
}

func TestDownloadStaleStateRestarts(t *testing.T) {
	data := testData(8192)
	srv := newRangeServer(t, data)
	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(out, make([]byte, len(data)), 0644))
	stale := newResumeState(utils.StatePath(out), srv.URL, 9999, PlanRanges(9999, 2))
	require.NoError(t, stale.save())

	result, err := Download(context.Background(), testOptions(srv.URL, out))
	require.NoError(t, err)
	assert.False(t, result.Skipped, "a file with a pending state is never complete")
	assert.Len(t, srv.ranges(), 4)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadSequentialResume(t *testing.T) {
	data := testData(200000)
	srv := newRangeServer(t, data, func(s *rangeServer) { s.unknownSize = true })
	out := filepath.Join(t.TempDir(), "out.bin")
	const k = 70000
	require.NoError(t, os.WriteFile(out, data[:k], 0644))

	result, err := Download(context.Background(), testOptions(srv.URL, out))
	require.NoError(t, err)
	assert.Equal(t, StateSequential, result.Mode)
	assert.Equal(t, StateDone, result.Outcome)
	assert.Equal(t, int64(len(data)-k), result.BytesWritten)
	assert.Equal(t, int64(len(data)), result.Progress)

	// the probe asks for two bytes, then the stream resumes at k
	assert.Equal(t, []string{"bytes=0-1", "bytes=70000-"}, srv.ranges())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadSequentialRestartsOnFullResponse(t *testing.T) {
	data := testData(50000)
	srv := newRangeServer(t, data, func(s *rangeServer) { s.noRanges = true })
	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(out, []byte("garbage prefix"), 0644))

	result, err := Download(context.Background(), testOptions(srv.URL, out))
	require.NoError(t, err)
	assert.Equal(t, StateSequential, result.Mode)
	assert.Equal(t, int64(len(data)), result.Progress, "restarted bytes are not counted twice")

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadSequentialNothingLeft(t *testing.T) {
	data := testData(3000)
	srv := newRangeServer(t, data, func(s *rangeServer) { s.unknownSize = true })
	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(out, data, 0644))

	result, err := Download(context.Background(), testOptions(srv.URL, out))
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.Outcome)
	assert.Zero(t, result.BytesWritten)
}

func TestDownloadSequentialRetriesTransient(t *testing.T) {
	data := testData(10000)
	srv := newRangeServer(t, data, func(s *rangeServer) {
		s.noRanges = true
		s.transientFor = 2
	})
	out := filepath.Join(t.TempDir(), "out.bin")

	result, err := Download(context.Background(), testOptions(srv.URL, out))
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.Outcome)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownloadSequentialGivesUp(t *testing.T) {
	srv := newRangeServer(t, testData(100), func(s *rangeServer) {
		s.noRanges = true
		s.transientFor = 10
	})
	out := filepath.Join(t.TempDir(), "out.bin")

	opts := testOptions(srv.URL, out)
	result, err := Download(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateFailed, result.Outcome)

	var dlErr *DownloadError
	require.True(t, errors.As(err, &dlErr))
	assert.Equal(t, StateSequential, dlErr.Stage)
	// ranged probe plus one attempt per retry budget
	assert.Equal(t, 1+opts.Retries+1, srv.getCount())
}

func TestDownloadNotFoundIsNotRetried(t *testing.T) {
	srv := newRangeServer(t, testData(100), func(s *rangeServer) { s.failStatus = 404 })
	out := filepath.Join(t.TempDir(), "out.bin")

	result, err := Download(context.Background(), testOptions(srv.URL, out))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StateFailed, result.Outcome)
	assert.Equal(t, 2, srv.getCount(), "ranged probe plus a single attempt")
}

func TestDownloadCanceled(t *testing.T) {
	data := testData(1 << 20)
	srv := newRangeServer(t, data, func(s *rangeServer) { s.block = make(chan struct{}) })
	out := filepath.Join(t.TempDir(), "out.bin")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-srv.started
		cancel()
	}()

	result, err := Download(ctx, testOptions(srv.URL, out))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, StateFailed, result.Outcome)
	assert.FileExists(t, out)
	assert.FileExists(t, utils.StatePath(out), "canceled downloads stay resumable")
}

func TestDownloadErrorMessage(t *testing.T) {
	err := &DownloadError{Stage: StateParallel, Kind: ErrTransport, Range: &ByteRange{Start: 0, End: 9}, Err: errors.New("boom")}
	assert.Equal(t, "parallel: transport error (bytes 0-9): boom", err.Error())
	assert.ErrorIs(t, err, ErrTransport)
}

func TestDownloadResumeStateWithoutOutputRestarts(t *testing.T) {
	for name, prepare := range map[string]func(t *testing.T, out string){
		"deleted":   func(t *testing.T, out string) {},
		"truncated": func(t *testing.T, out string) { require.NoError(t, os.WriteFile(out, make([]byte, 100), 0644)) },
	} {
		t.Run(name, func(t *testing.T) {
			data := testData(64 * 1024)
			srv := newRangeServer(t, data)
			out := filepath.Join(t.TempDir(), "out.bin")
			state := newResumeState(utils.StatePath(out), srv.URL, int64(len(data)), PlanRanges(int64(len(data)), 4))
			require.NoError(t, state.markDone(0))
			prepare(t, out)

			result, err := Download(context.Background(), testOptions(srv.URL, out))
			require.NoError(t, err)
			assert.Equal(t, StateDone, result.Outcome)
			assert.Len(t, srv.ranges(), 4, "the range recorded as done is fetched again")

			got, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.NoFileExists(t, utils.StatePath(out))
		})
	}
}

func TestDownloadStateSavedBeforePreallocation(t *testing.T) {
	data := testData(8192)
	srv := newRangeServer(t, data)
	out := filepath.Join(t.TempDir(), "out.bin")
	// A non-empty directory where the sidecar belongs makes every save fail
	require.NoError(t, os.MkdirAll(filepath.Join(utils.StatePath(out), "blocker"), 0755))

	result, err := Download(context.Background(), testOptions(srv.URL, out))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, StateFailed, result.Outcome)
	assert.NoFileExists(t, out, "no full-size file without a sidecar")
	assert.Zero(t, srv.getCount())
}

func TestDownloadSequentialDroppedStreamFails(t *testing.T) {
	srv, gets := newDroppingServer(t, testData(5000))
	out := filepath.Join(t.TempDir(), "out.bin")

	opts := testOptions(srv.URL, out)
	opts.Retries = 1
	result, err := Download(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateSequential, result.Mode)
	assert.Equal(t, StateFailed, result.Outcome)
	// ranged probe plus one GET per attempt
	assert.Equal(t, int32(1+opts.Retries+1), gets.Load())
}
