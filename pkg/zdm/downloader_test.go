package zdm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/spainion/zdm/pkg/zdm/internal/httprange"
	"github.com/stretchr/testify/require"
)

// newRangeServer serves content with full Accept-Ranges/Content-Range
// support, recording every Range header it receives (in arrival order, empty
// for requests without one) for assertions about which bytes were actually
// requested.
func newRangeServer(t *testing.T, content string) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		log.record(rangeHeader)

		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			return
		}

		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(content))
			return
		}
		start, end, ok := httprange.ParseSingleRange(rangeHeader)
		if !ok || start >= int64(len(content)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end == -1 || end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}
		body := content[start : end+1]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body))
	}))
	return srv, log
}

// newFailingRangeServer returns 500 for every GET, but answers HEAD
// successfully with Accept-Ranges: bytes so the prober believes it is range
// capable; used to exercise mirror failover.
func newFailingRangeServer(t *testing.T, size int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(size))
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

// newNoRangeServer never honors Range requests: HEAD reports no
// Accept-Ranges, and a ranged GET always returns 200 with the full body.
func newNoRangeServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(content))
	}))
}

// newSequentialResumeServer reports no Accept-Ranges and ignores the
// degenerate bytes=0-0 probe (so the prober always falls back to sequential
// mode), but honors a real continuation range (bytes=N- for N>0) with a 206
// and the correct suffix — exercising a server that is inconsistent about
// range support in exactly the way §4.2's fallback probe must tolerate.
func newSequentialResumeServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			return
		}

		start, _, ok := httprange.ParseSingleRange(r.Header.Get("Range"))
		if !ok || start == 0 {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(content))
			return
		}

		body := content[start:]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(content)-1, len(content)))
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body))
	}))
}

type requestLog struct {
	mu     sync.Mutex
	ranges []string
}

func (l *requestLog) record(rangeHeader string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ranges = append(l.ranges, rangeHeader)
}

func (l *requestLog) count(rangeHeader string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.ranges {
		if r == rangeHeader {
			n++
		}
	}
	return n
}

// S1: single-mirror range success.
func TestDownload_SingleMirrorRangeSuccess(t *testing.T) {
	srv, _ := newRangeServer(t, "ABCDEFGHIJ")
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d, err := New([]string{srv.URL}, dest, WithPieceSize(4), WithConcurrency(2))
	require.NoError(t, err)

	require.NoError(t, d.Download(context.Background()))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHIJ", string(data))

	store := openTestManifest(t, dest)
	rows, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		require.Equal(t, "done", string(r.Status))
	}
	store.Close()
}

// S2: resume after crash — pre-seed the manifest to look like a prior run
// completed pieces 0 and 2, then confirm only piece 1's range is fetched.
func TestDownload_ResumeAfterCrash(t *testing.T) {
	srv, log := newRangeServer(t, "ABCDEFGHIJ")
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")

	// First run: download fully, to get a realistic on-disk/manifest state.
	d1, err := New([]string{srv.URL}, dest, WithPieceSize(4), WithConcurrency(1))
	require.NoError(t, err)
	require.NoError(t, d1.Download(context.Background()))

	// Simulate a crash losing progress on piece 1 only: demote it manually.
	store := openTestManifest(t, dest)
	require.NoError(t, store.ReplacePiece(manifestRow(1, 4, 7, "", "pending", "")))
	store.Close()

	before := log.count("bytes=4-7")
	beforeOthers := log.count("bytes=0-3") + log.count("bytes=8-9")

	d2, err := New([]string{srv.URL}, dest, WithPieceSize(4), WithConcurrency(1))
	require.NoError(t, err)
	require.NoError(t, d2.Download(context.Background()))

	after := log.count("bytes=4-7")
	require.Equal(t, before+1, after, "expected exactly one more fetch of piece 1's range")
	require.Equal(t, beforeOthers, log.count("bytes=0-3")+log.count("bytes=8-9"), "pieces 0 and 2 must not be fetched again")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHIJ", string(data))
}

// S3: mirror failover.
func TestDownload_MirrorFailover(t *testing.T) {
	bad := newFailingRangeServer(t, 10)
	defer bad.Close()
	good, _ := newRangeServer(t, "ABCDEFGHIJ")
	defer good.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d, err := New([]string{bad.URL, good.URL}, dest, WithPieceSize(4), WithConcurrency(2))
	require.NoError(t, err)
	require.NoError(t, d.Download(context.Background()))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHIJ", string(data))

	store := openTestManifest(t, dest)
	rows, err := store.LoadAll()
	require.NoError(t, err)
	for _, r := range rows {
		require.Equal(t, good.URL, r.LastURL)
	}
	store.Close()
}

// S4: sequential fallback for an origin that does not support ranges.
func TestDownload_SequentialFallback(t *testing.T) {
	srv := newNoRangeServer(t, "1234567")
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d, err := New([]string{srv.URL}, dest, WithPieceSize(4))
	require.NoError(t, err)
	require.NoError(t, d.Download(context.Background()))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "1234567", string(data))

	store := openTestManifest(t, dest)
	rows, err := store.LoadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, r := range rows {
		require.Equal(t, "done", string(r.Status))
		require.NotEmpty(t, r.SHA256)
	}
	store.Close()
}

// S4b: sequential fallback resume — a partial file left by a prior crash
// must be continued from its existing size, not overwritten from byte 0.
func TestDownload_SequentialResumeAfterCrash(t *testing.T) {
	const content = "1234567890ABCDEF"
	srv := newSequentialResumeServer(t, content)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(dest, []byte(content[:6]), 0o644))

	d, err := New([]string{srv.URL}, dest, WithPieceSize(4))
	require.NoError(t, err)
	require.NoError(t, d.Download(context.Background()))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, content, string(data), "resumed bytes must match the original content exactly and in order")

	store := openTestManifest(t, dest)
	rows, err := store.LoadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, r := range rows {
		require.Equal(t, "done", string(r.Status))
		require.NotEmpty(t, r.SHA256)
	}
	store.Close()
}

// S5: corruption re-verification.
func TestDownload_CorruptionReverification(t *testing.T) {
	srv, log := newRangeServer(t, "ABCDEFGHIJ")
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d, err := New([]string{srv.URL}, dest, WithPieceSize(4), WithConcurrency(2))
	require.NoError(t, err)
	require.NoError(t, d.Download(context.Background()))

	f, err := os.OpenFile(dest, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("X"), 5)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	before := log.count("bytes=4-7")

	d2, err := New([]string{srv.URL}, dest, WithPieceSize(4), WithConcurrency(2))
	require.NoError(t, err)
	require.NoError(t, d2.Download(context.Background()))

	after := log.count("bytes=4-7")
	require.Greater(t, after, before)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHIJ", string(data))
}

// S6: empty URL list fails construction with ConfigError, no files created.
func TestNew_EmptyURLs(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.bin")
	_, err := New(nil, dest)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

func TestDownload_IsIdempotentOnFullyDoneManifest(t *testing.T) {
	srv, log := newRangeServer(t, "ABCDEFGHIJ")
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d, err := New([]string{srv.URL}, dest, WithPieceSize(4), WithConcurrency(2))
	require.NoError(t, err)
	require.NoError(t, d.Download(context.Background()))

	requestsBefore := log.total()

	d2, err := New([]string{srv.URL}, dest, WithPieceSize(4), WithConcurrency(2))
	require.NoError(t, err)
	require.NoError(t, d2.Download(context.Background()))

	require.Equal(t, requestsBefore, log.total(), "resuming a fully-done manifest must not perform network I/O")
}

func (l *requestLog) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ranges)
}
