package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressBar(t *testing.T) {
	half := progressBar(50, 100, 10)
	assert.Contains(t, half, strings.Repeat(StyleSymbols["hline"], 5))
	assert.Contains(t, half, "50.0%")

	assert.Contains(t, progressBar(500, 100, 10), "100.0%", "progress clamps to the total")
	assert.Contains(t, progressBar(-1, 100, 10), "0.0%")
	assert.Contains(t, progressBar(2048, 0, 10), "2.00 KB", "unknown total shows bytes")
}

func TestProgressLine(t *testing.T) {
	line := progressLine(1024*1024, 4*1024*1024, 2)
	assert.Contains(t, line, "1.00 MB / 4.00 MB")
	assert.Contains(t, line, "512.00 KB/s")
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{"short"}, wrapText("short", 40))
	lines := wrapText(strings.Repeat("a", 25), 11)
	assert.Equal(t, []string{strings.Repeat("a", 11), strings.Repeat("a", 11), "aaa"}, lines)
}

func TestManagerLifecycle(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(&buf)
	first := m.Register("https://example.com/a.bin")
	second := m.Register("https://example.com/b.bin")
	third := m.Register("https://example.com/c.bin")
	waiting := m.Register("https://example.com/d.bin")

	m.SetMessage(first, "Downloading a.bin")
	m.Progress(first, 10, 100)
	m.Complete(first, "Downloaded a.bin")
	m.Skip(second, "")
	m.SetMessage(third, "Downloading c.bin")
	m.Fail(third, errors.New("parallel: transport error"))

	succeeded, skipped, failed := m.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, failed)

	m.SetMessage(waiting, "Downloading d.bin")
	m.Progress(waiting, 5, 0)
	lines := m.render(20)
	require.Len(t, lines, 5, "one active job with a progress line plus three completed")
	assert.Contains(t, lines[0], "Downloading d.bin")
	assert.Contains(t, lines[2], "Downloaded a.bin")
	assert.Contains(t, lines[3], "Completed https://example.com/b.bin")
	assert.Contains(t, lines[4], "Failed https://example.com/c.bin")

	m.Stop()
	out := buf.String()
	assert.Contains(t, out, "Completed 2 of 4")
	assert.Contains(t, out, "Failed 1 of 4")
	assert.Contains(t, out, "parallel: transport error")
}

func TestManagerRenderTrimsCompleted(t *testing.T) {
	m := NewManager(&bytes.Buffer{})
	for range 10 {
		m.Complete(m.Register("done"), "done")
	}
	active := m.Register("active")
	m.SetMessage(active, "working")

	lines := m.render(4)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "working")
}

func TestManagerStartStop(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(&buf)
	m.Start()
	m.Complete(m.Register("job"), "finished job")
	m.Stop()
	assert.Contains(t, buf.String(), "finished job")
}

func TestPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlain(&buf)
	p.Start()
	id := p.Register("file.bin")
	p.SetMessage(id, "Downloading file.bin")
	p.Progress(id, 512, 1024)
	p.Progress(id, 1024, 1024)
	p.Complete(id, "Downloaded file.bin")

	other := p.Register("other.bin")
	p.Fail(other, errors.New("access denied"))
	p.Stop()

	out := buf.String()
	assert.Contains(t, out, "Downloading file.bin")
	assert.Contains(t, out, "Downloaded file.bin")
	assert.Contains(t, out, "other.bin: access denied")
	assert.Contains(t, out, "1 of 2 downloads failed")
}
