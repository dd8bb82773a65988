package gdvlhttp

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreallocateOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.bin")
	out, err := PreallocateOutput(path, 4096, false)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
	assert.NoError(t, out.Verify())
}

func TestPreallocateOutputKeepsExistingBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(path, []byte("resume"), 0644))

	_, err := PreallocateOutput(path, 10, true)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("resume\x00\x00\x00\x00"), data)

	_, err = PreallocateOutput(path, 10, false)
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 10), data)
}

func TestRangeWritersConcurrent(t *testing.T) {
	data := testData(64 * 1024)
	path := filepath.Join(t.TempDir(), "out.bin")
	out, err := PreallocateOutput(path, int64(len(data)), false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, r := range PlanRanges(int64(len(data)), 8) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := out.OpenWriter(r)
			if !assert.NoError(t, err) {
				return
			}
			defer w.Close()
			// small writes interleave across goroutines
			for off := r.Start; off <= r.End; off += 1000 {
				end := min(off+1000, r.End+1)
				_, err := w.Write(data[off:end])
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), out.BytesWritten())
}

func TestRangeWriterStaysInsideRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	out, err := PreallocateOutput(path, 100, false)
	require.NoError(t, err)

	_, err = out.OpenWriter(ByteRange{Start: 90, End: 100})
	assert.ErrorIs(t, err, ErrWriteFailed)

	w, err := out.OpenWriter(ByteRange{Start: 10, End: 19})
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Write(make([]byte, 8))
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 3))
	assert.ErrorIs(t, err, ErrWriteFailed)

	w.reset()
	n, err := w.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), data[10:20])
}

func TestOutputFileVerifyMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	out, err := PreallocateOutput(path, 8, false)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, 4))
	assert.ErrorIs(t, out.Verify(), ErrSizeMismatch)
}
