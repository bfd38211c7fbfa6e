package zdm

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultPieceSize is the default chunk size used to split a download.
	DefaultPieceSize int64 = 4 << 20 // 4 MiB
	// DefaultConcurrency is the default number of simultaneous piece fetches.
	DefaultConcurrency = 4
	// DefaultTimeout is the default per-request HTTP timeout.
	DefaultTimeout = 15 * time.Second
)

// Option configures a Downloader at construction time.
type Option func(*Downloader)

// WithPieceSize overrides the default piece size. Both modes plan the piece
// table with it; sequential mode uses it only to journal per-piece hashes.
func WithPieceSize(n int64) Option {
	return func(d *Downloader) { d.pieceSize = n }
}

// WithConcurrency overrides the default worker pool size.
func WithConcurrency(n int) Option {
	return func(d *Downloader) { d.concurrency = n }
}

// WithTimeout overrides the default per-request HTTP timeout.
func WithTimeout(t time.Duration) Option {
	return func(d *Downloader) { d.timeout = t }
}

// WithUserAgent overrides the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) { d.userAgent = ua }
}

// WithLogger attaches a logrus entry used for all log output. Defaults to
// logrus.NewEntry(logrus.StandardLogger()).
func WithLogger(log *logrus.Entry) Option {
	return func(d *Downloader) { d.log = log }
}

// WithOnProgress registers a progress callback. In range mode it receives
// the number of completed pieces and the total piece count, once before
// dispatch, after each piece completes, and once at the end. In sequential
// mode it receives bytes written and the file size after each chunk, then a
// final call with the piece counts. See ProgressFunc.
func WithOnProgress(fn func(done, total int)) Option {
	return func(d *Downloader) { d.onProgress = fn }
}

// WithHTTPClient overrides the underlying *http.Client used for all
// requests. Mainly useful for tests.
func WithHTTPClient(doer httpDoer) Option {
	return func(d *Downloader) { d.session.client = doer }
}

// WithManifestPath overrides the manifest location; defaults to
// "<dest>.zdm.db".
func WithManifestPath(path string) Option {
	return func(d *Downloader) { d.manifestPath = path }
}
