package gdvlhttp

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// rangeServer is a fake origin serving data with configurable range support.
type rangeServer struct {
	*httptest.Server
	data []byte

	noRanges     bool  // ignore Range headers and always send 200
	unknownSize  bool  // no Content-Length on HEAD, "*" total in Content-Range
	bareHead     bool  // HEAD carries neither size nor range support
	failStart    int64 // range start answered with 500, -1 for none
	failStatus   int   // status for every GET when non-zero
	transientFor int   // first N full-body GETs answer 503
	block        chan struct{}
	started      chan struct{}

	mu           sync.Mutex
	gets         int
	rangeHeaders []string
	startOnce    sync.Once
}

func newRangeServer(t *testing.T, data []byte, configure ...func(*rangeServer)) *rangeServer {
	t.Helper()
	s := &rangeServer{data: data, failStart: -1, started: make(chan struct{})}
	for _, fn := range configure {
		fn(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	if s.block != nil {
		t.Cleanup(func() { close(s.block) })
	}
	return s
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func (s *rangeServer) handle(w http.ResponseWriter, r *http.Request) {
	size := int64(len(s.data))
	w.Header().Set("Content-Disposition", `attachment; filename="payload.bin"`)
	if r.Method == http.MethodHead {
		if s.failStatus != 0 {
			w.WriteHeader(s.failStatus)
			return
		}
		if s.bareHead {
			return
		}
		if !s.unknownSize {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		if !s.noRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		return
	}

	rangeHeader := r.Header.Get("Range")
	s.mu.Lock()
	s.gets++
	if rangeHeader != "" {
		s.rangeHeaders = append(s.rangeHeaders, rangeHeader)
	}
	transient := rangeHeader == "" && s.transientFor > 0
	if transient {
		s.transientFor--
	}
	failStart := s.failStart
	s.mu.Unlock()

	if s.failStatus != 0 {
		w.WriteHeader(s.failStatus)
		return
	}
	if transient {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if rangeHeader == "" || s.noRanges {
		if !s.unknownSize {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		w.WriteHeader(http.StatusOK)
		w.Write(s.data)
		return
	}

	start, end := parseRangeHeader(rangeHeader, size)
	if start >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if start == failStart {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	total := strconv.FormatInt(size, 10)
	if s.unknownSize {
		total = "*"
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", start, end, total))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	if s.block != nil && end-start > 1 {
		w.Write(s.data[start : start+1024])
		w.(http.Flusher).Flush()
		s.startOnce.Do(func() { close(s.started) })
		select {
		case <-s.block:
		case <-r.Context().Done():
		}
		return
	}
	w.Write(s.data[start : end+1])
}

func parseRangeHeader(header string, size int64) (int64, int64) {
	rest := strings.TrimPrefix(header, "bytes=")
	first, last, _ := strings.Cut(rest, "-")
	start, _ := strconv.ParseInt(first, 10, 64)
	end := size - 1
	if last != "" {
		end, _ = strconv.ParseInt(last, 10, 64)
	}
	end = min(end, size-1)
	return start, end
}

func (s *rangeServer) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *rangeServer) ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rangeHeaders...)
}

func (s *rangeServer) setFailStart(start int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStart = start
}

func (s *rangeServer) resetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets = 0
	s.rangeHeaders = nil
}

// newDroppingServer answers HEAD without a size and every GET with a
// chunked 200 carrying payload, then closes the connection before the
// terminating chunk.
func newDroppingServer(t *testing.T, payload []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		gets.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}
