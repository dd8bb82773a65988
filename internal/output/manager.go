package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Display receives job lifecycle events from the scheduler.
type Display interface {
	Register(label string) int
	SetMessage(id int, message string)
	Progress(id int, downloaded, total int64)
	Complete(id int, message string)
	Skip(id int, message string)
	Fail(id int, err error)
	Start()
	Stop()
}

type jobOutput struct {
	ID          int
	Label       string
	Status      string
	Message     string
	StreamLines []string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager redraws every registered job in place on a terminal.
type Manager struct {
	w           io.Writer
	outputs     map[int]*jobOutput
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
	started     bool
}

func NewManager(w io.Writer) *Manager {
	if w == nil {
		w = os.Stdout
	}
	return &Manager{
		w:           w,
		outputs:     make(map[int]*jobOutput),
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
	}
}

func (m *Manager) Register(label string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	now := time.Now()
	m.outputs[m.jobCount] = &jobOutput{
		ID:          m.jobCount,
		Label:       label,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
	}
	return m.jobCount
}

func (m *Manager) update(id int, fn func(info *jobOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		fn(info)
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(info *jobOutput) {
		if info.Status == StatusPending {
			info.Status = StatusActive
			info.StartTime = time.Now()
		}
		info.Message = message
	})
}

func (m *Manager) Progress(id int, downloaded, total int64) {
	m.update(id, func(info *jobOutput) {
		elapsed := time.Since(info.StartTime).Seconds()
		info.StreamLines = []string{progressLine(downloaded, total, elapsed)}
	})
}

func (m *Manager) Complete(id int, message string) {
	m.finish(id, StatusSuccess, message)
}

func (m *Manager) Skip(id int, message string) {
	m.finish(id, StatusSkipped, message)
}

func (m *Manager) finish(id int, status, message string) {
	m.update(id, func(info *jobOutput) {
		info.StreamLines = nil
		info.Message = message
		if message == "" {
			info.Message = fmt.Sprintf("Completed %s", info.Label)
		}
		info.Complete = true
		info.Status = status
	})
}

func (m *Manager) Fail(id int, err error) {
	m.update(id, func(info *jobOutput) {
		info.StreamLines = nil
		info.Complete = true
		info.Status = StatusError
		info.Error = err
		info.Message = fmt.Sprintf("Failed %s", info.Label)
		m.errors = append(m.errors, ErrorReport{Label: info.Label, Error: err, Time: time.Now()})
	})
}

// Counts reports finished jobs by outcome.
func (m *Manager) Counts() (succeeded, skipped, failed int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.outputs {
		switch info.Status {
		case StatusSuccess:
			succeeded++
		case StatusSkipped:
			skipped++
		case StatusError:
			failed++
		}
	}
	return succeeded, skipped, failed
}

func statusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusSkipped:
		return infoStyle.Render(StyleSymbols["arrow"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(message)
	case StatusSkipped:
		return infoStyle.Render(message)
	case StatusError:
		return errorStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sortJobs() (active, pending, completed []*jobOutput) {
	all := make([]*jobOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, job := range all {
		switch {
		case job.Complete:
			completed = append(completed, job)
		case job.Status == StatusPending:
			pending = append(pending, job)
		default:
			active = append(active, job)
		}
	}
	return active, pending, completed
}

// render lays out at most availableLines lines: active jobs with their
// progress, then waiting jobs, then the most recent completions.
func (m *Manager) render(availableLines int) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	active, pending, completed := m.sortJobs()

	needed := len(pending) + len(completed)
	for _, job := range active {
		needed += 1 + len(job.StreamLines)
	}
	if needed > availableLines {
		keep := max(availableLines-(needed-len(completed)), 0)
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}

	indent := strings.Repeat(" ", 2)
	var lines []string
	for _, job := range active {
		elapsed := time.Since(job.StartTime).Round(time.Second)
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, statusIndicator(job.Status), debugStyle.Render(elapsed.String()), styleMessage(job.Status, job.Message)))
		for _, line := range job.StreamLines {
			lines = append(lines, indent+"    "+streamStyle.Render(line))
		}
	}
	for _, job := range pending {
		lines = append(lines, fmt.Sprintf("%s%s %s", indent, statusIndicator(job.Status), pendingStyle.Render("Waiting... "+job.Label)))
	}
	for _, job := range completed {
		total := job.LastUpdated.Sub(job.StartTime).Round(time.Second)
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, statusIndicator(job.Status), debugStyle.Render(total.String()), styleMessage(job.Status, job.Message)))
	}
	if len(lines) > availableLines {
		lines = lines[:availableLines]
	}
	return lines
}

func (m *Manager) updateDisplay() {
	_, height := getTerminalSize()
	lines := m.render(height - 3)
	if m.numLines > 0 {
		fmt.Fprintf(m.w, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Fprintln(m.w, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) Start() {
	m.started = true
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// Stop draws the final frame and prints the summary.
func (m *Manager) Stop() {
	if m.started {
		close(m.doneCh)
		m.displayWg.Wait()
	}
	m.ShowSummary()
}

func (m *Manager) ShowSummary() {
	succeeded, skipped, failed := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	total := len(m.outputs)
	indent := strings.Repeat(" ", 2)
	fmt.Fprintln(m.w)
	fmt.Fprintln(m.w, indent+success2Style.Render(fmt.Sprintf("Completed %d of %d", succeeded+skipped, total)))
	if skipped > 0 {
		fmt.Fprintln(m.w, indent+infoStyle.Render(fmt.Sprintf("Already complete %d of %d", skipped, total)))
	}
	if failed > 0 {
		fmt.Fprintln(m.w, indent+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failed, total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.w)
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	width, _ := getTerminalSize()
	fmt.Fprintln(m.w)
	fmt.Fprintln(m.w, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, report := range m.errors {
		fmt.Fprintf(m.w, "%s%s %s %s\n",
			strings.Repeat(" ", 4),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			errorStyle.Render(report.Label))
		for _, line := range wrapText(report.Error.Error(), width-8) {
			fmt.Fprintf(m.w, "%s%s\n", strings.Repeat(" ", 6), errorStyle.Render(line))
		}
	}
}
