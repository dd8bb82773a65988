package gdvlhttp

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTrackerConcurrentAdd(t *testing.T) {
	var tracker ProgressTracker
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				tracker.Add(3)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(64*1000*3), tracker.Snapshot())
}

func TestProgressTrackerIgnoresNonPositive(t *testing.T) {
	var tracker ProgressTracker
	tracker.Add(10)
	tracker.Add(0)
	tracker.Add(-4)
	assert.Equal(t, int64(10), tracker.Snapshot())
}

func TestProgressCursorCountsOnce(t *testing.T) {
	tracker := &ProgressTracker{}
	cursor := &progressCursor{tracker: tracker}
	cursor.advance(100)
	cursor.advance(250)
	// a re-fetch replays earlier positions
	cursor.advance(0)
	cursor.advance(200)
	cursor.advance(300)
	assert.Equal(t, int64(300), tracker.Snapshot())
}

func TestProgressReporterFinalUpdate(t *testing.T) {
	tracker := &ProgressTracker{}
	var total atomic.Int64
	total.Store(500)

	var mu sync.Mutex
	var calls [][2]int64
	reporter := startProgressReporter(tracker, &total, func(downloaded, total int64) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int64{downloaded, total})
	}, 5*time.Millisecond)

	tracker.Add(200)
	time.Sleep(30 * time.Millisecond)
	tracker.Add(300)
	reporter.stop()

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, calls)
	assert.Equal(t, [2]int64{500, 500}, calls[len(calls)-1])
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i][0], calls[i-1][0], "progress must never go backwards")
	}
}

func TestProgressReporterWithoutCallback(t *testing.T) {
	var total atomic.Int64
	reporter := startProgressReporter(&ProgressTracker{}, &total, nil, time.Millisecond)
	reporter.stop()
}
