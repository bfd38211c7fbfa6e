// Package zdm implements a resumable, multi-mirror segmented file
// downloader with a persisted piece manifest. Given one or more mirror URLs
// for the same logical resource, it fetches the resource into a local
// destination file by dividing it into fixed-size contiguous pieces and
// downloading pieces concurrently over HTTP byte-range requests, verifying
// each piece cryptographically and journaling progress so an interrupted
// download may resume without repeating completed work. If the origin does
// not support byte-range requests, it transparently degrades to a
// single-stream sequential fetch that also resumes from the last durably
// written byte.
package zdm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/moby/locker"
	"github.com/sirupsen/logrus"

	"github.com/spainion/zdm/pkg/zdm/internal/manifest"
)

var destLocks = locker.New()

// Downloader fetches one logical resource, identified by one or more mirror
// URLs, into a local destination path. Construct with New and run with
// Download; a Downloader is not reusable across different destinations.
type Downloader struct {
	urls []string
	dest string

	pieceSize   int64
	concurrency int
	timeout     time.Duration
	userAgent   string

	manifestPath string
	onProgress   ProgressFunc
	log          *logrus.Entry
	session      *session
}

// New constructs a Downloader for the given mirrors and destination path,
// applying options over the documented defaults (4 MiB pieces, concurrency
// 4, 15s per-request timeout). Construction validates bounds and returns a
// ConfigError without performing any I/O on failure.
func New(urls []string, dest string, opts ...Option) (*Downloader, error) {
	if len(urls) == 0 {
		return nil, NewConfigError(ErrEmptyURLs)
	}
	for _, u := range urls {
		if u == "" {
			return nil, NewConfigError(ErrEmptyURLs)
		}
	}

	d := &Downloader{
		urls:        urls,
		dest:        dest,
		pieceSize:   DefaultPieceSize,
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		userAgent:   "zdm/1",
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	d.session = newSession(d.userAgent, d.timeout)

	for _, opt := range opts {
		opt(d)
	}

	if d.pieceSize <= 0 {
		return nil, NewConfigError(ErrInvalidPieceSize)
	}
	if d.concurrency <= 0 {
		return nil, NewConfigError(ErrInvalidConcurrency)
	}
	if d.manifestPath == "" {
		d.manifestPath = d.dest + ".zdm.db"
	}
	// Re-apply user agent/timeout in case options changed them after the
	// session was constructed with the defaults.
	d.session.userAgent = d.userAgent
	d.session.timeout = d.timeout
	if c, ok := d.session.client.(*http.Client); ok {
		c.Timeout = d.timeout
	}

	return d, nil
}

// Download runs the probe → prepare → verify → dispatch pipeline to
// completion. It is idempotent: re-invocation against a fully-done manifest
// performs no network I/O.
func (d *Downloader) Download(ctx context.Context) error {
	destLocks.Lock(d.dest)
	defer destLocks.Unlock(d.dest)

	store, err := manifest.Open(d.manifestPath)
	if err != nil {
		return NewManifestError("open", err)
	}
	defer store.Close()

	fileSize, rangeSupported, err := d.probeAndPersist(ctx, store)
	if err != nil {
		return err
	}

	if rangeSupported {
		return d.downloadRangeMode(ctx, store, fileSize)
	}
	return d.downloadSequentialMode(ctx, store, fileSize)
}

// probeAndPersist loads previously-persisted probe results if present
// (manifest already initialised), otherwise probes the first mirror and
// persists file_size/range_supported. Per §4.2, only the first mirror is
// probed and its reported size is authoritative for all mirrors.
func (d *Downloader) probeAndPersist(ctx context.Context, store *manifest.Store) (int64, bool, error) {
	v, ok, err := store.GetMeta("initialised")
	if err != nil {
		return 0, false, NewManifestError("read meta", err)
	}
	if ok && v == "1" {
		sizeStr, _, err := store.GetMeta("file_size")
		if err != nil {
			return 0, false, NewManifestError("read meta", err)
		}
		rsStr, _, err := store.GetMeta("range_supported")
		if err != nil {
			return 0, false, NewManifestError("read meta", err)
		}
		var fileSize int64
		fmt.Sscanf(sizeStr, "%d", &fileSize)
		return fileSize, rsStr == "1", nil
	}

	result, err := d.probe(ctx, d.urls[0])
	if err != nil {
		return 0, false, NewProbeError(d.urls[0], err)
	}
	if result.fileSize == 0 {
		return 0, false, NewProbeError(d.urls[0], fmt.Errorf("server reported zero-length content"))
	}

	if err := store.SetMeta("file_size", fmt.Sprintf("%d", result.fileSize)); err != nil {
		return 0, false, NewManifestError("write meta", err)
	}
	rs := "0"
	if result.rangeSupported {
		rs = "1"
	}
	if err := store.SetMeta("range_supported", rs); err != nil {
		return 0, false, NewManifestError("write meta", err)
	}
	if err := store.SetMeta("initialised", "1"); err != nil {
		return 0, false, NewManifestError("write meta", err)
	}
	return result.fileSize, result.rangeSupported, nil
}
