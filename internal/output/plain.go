package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Plain prints one line per event and a byte progress bar per job,
// for logs, pipes and single downloads.
type Plain struct {
	w      io.Writer
	mu     sync.Mutex
	labels map[int]string
	bars   map[int]*progressbar.ProgressBar
	maxes  map[int]int64
	next   int
	failed int
}

func NewPlain(w io.Writer) *Plain {
	if w == nil {
		w = os.Stderr
	}
	return &Plain{w: w, labels: make(map[int]string), bars: make(map[int]*progressbar.ProgressBar), maxes: make(map[int]int64)}
}

func (p *Plain) Register(label string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.labels[p.next] = label
	return p.next
}

func (p *Plain) SetMessage(id int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", StyleSymbols["bullet"], message)
}

func (p *Plain) Progress(id int, downloaded, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bar, ok := p.bars[id]
	if !ok {
		limit := total
		if limit <= 0 {
			limit = -1
		}
		bar = progressbar.NewOptions64(limit,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(p.labels[id]),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
		)
		p.bars[id] = bar
		p.maxes[id] = limit
	} else if total > 0 && p.maxes[id] != total {
		bar.ChangeMax64(total)
		p.maxes[id] = total
	}
	_ = bar.Set64(downloaded)
}

func (p *Plain) finishBar(id int) {
	if bar, ok := p.bars[id]; ok {
		_ = bar.Finish()
		fmt.Fprintln(p.w)
		delete(p.bars, id)
		delete(p.maxes, id)
	}
}

func (p *Plain) Complete(id int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishBar(id)
	fmt.Fprintf(p.w, "%s %s\n", StyleSymbols["pass"], message)
}

func (p *Plain) Skip(id int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishBar(id)
	fmt.Fprintf(p.w, "%s %s\n", StyleSymbols["arrow"], message)
}

func (p *Plain) Fail(id int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.bars[id]; ok {
		// Leave the bar where it stopped
		fmt.Fprintln(p.w)
		delete(p.bars, id)
		delete(p.maxes, id)
	}
	p.failed++
	fmt.Fprintf(p.w, "%s %s: %v\n", StyleSymbols["fail"], p.labels[id], err)
}

func (p *Plain) Start() {}

func (p *Plain) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed > 0 {
		fmt.Fprintf(p.w, "%d of %d downloads failed\n", p.failed, len(p.labels))
	}
}
