package gdvlhttp

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProgressTracker is the shared byte counter for one download attempt.
type ProgressTracker struct {
	total atomic.Int64
}

func (p *ProgressTracker) Add(n int64) {
	if n > 0 {
		p.total.Add(n)
	}
}

func (p *ProgressTracker) Snapshot() int64 {
	return p.total.Load()
}

// progressCursor feeds a tracker with the bytes beyond the furthest
// position seen, so a re-fetched or restarted stream never counts twice.
type progressCursor struct {
	tracker *ProgressTracker
	mark    int64
}

func (c *progressCursor) advance(pos int64) {
	if pos > c.mark {
		c.tracker.Add(pos - c.mark)
		c.mark = pos
	}
}

type progressReporter struct {
	tracker  *ProgressTracker
	total    *atomic.Int64
	fn       func(downloaded, total int64)
	interval time.Duration
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

func startProgressReporter(tracker *ProgressTracker, total *atomic.Int64, fn func(downloaded, total int64), interval time.Duration) *progressReporter {
	r := &progressReporter{
		tracker:  tracker,
		total:    total,
		fn:       fn,
		interval: interval,
		doneCh:   make(chan struct{}),
	}
	if fn == nil {
		return r
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *progressReporter) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	var last int64 = -1
	for {
		select {
		case <-r.doneCh:
			// Final update when the download returns
			r.fn(r.tracker.Snapshot(), r.total.Load())
			return
		case <-ticker.C:
			if current := r.tracker.Snapshot(); current != last {
				r.fn(current, r.total.Load())
				last = current
			}
		}
	}
}

func (r *progressReporter) stop() {
	close(r.doneCh)
	r.wg.Wait()
}
