package zdm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/spainion/zdm/pkg/internal/utils"
	"github.com/spainion/zdm/pkg/zdm/internal/httprange"
	"github.com/spainion/zdm/pkg/zdm/internal/manifest"
)

// runWorkerPool dispatches pending pieces across at most d.concurrency
// concurrent fetchers, each trying mirrors in order per piece. It is
// grounded on the semaphore-gated fan-out in the teacher's parallel HTTP
// transport, replacing the in-memory chunk handoff there with a manifest
// commit and SHA-256 verification per piece.
//
// First fatal piece failure cancels the shared context (errgroup semantics);
// pieces whose bytes are already written and journaled before cancellation
// lands remain done, matching the "either cancellation policy is acceptable"
// note in the source design.
func (d *Downloader) runWorkerPool(ctx context.Context, urls []string, pieces []Piece, df *destFile, store *manifest.Store) error {
	pending := make([]Piece, 0, len(pieces))
	for _, p := range pieces {
		if p.Status != StatusDone {
			pending = append(pending, p)
		}
	}

	total := len(pieces)
	done := int64(total - len(pending))
	var progressMu sync.Mutex

	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, piece := range pending {
		piece := piece
		g.Go(func() error {
			result, err := d.fetchPieceFromMirrors(gctx, urls, piece)
			if err != nil {
				return NewPieceFailed(piece.Index, err)
			}

			if err := df.writeAt(result.body, piece.Start); err != nil {
				return err
			}

			row := manifest.Row{
				Index:   piece.Index,
				Start:   piece.Start,
				End:     piece.End,
				SHA256:  result.sha256,
				Status:  manifest.StatusDone,
				LastURL: result.url,
			}
			if err := store.ReplacePiece(row); err != nil {
				return NewManifestError("replace piece", err)
			}

			n := atomic.AddInt64(&done, 1)
			progressMu.Lock()
			d.reportProgress(int(n), total)
			progressMu.Unlock()
			return nil
		})
	}

	return g.Wait()
}

type pieceFetchResult struct {
	body   []byte
	sha256 string
	url    string
}

// fetchPieceFromMirrors tries each mirror in order for one piece, returning
// the first success (200 or 206 with the expected byte count). Network and
// HTTP errors are per-mirror failures that drive failover, not fatal.
func (d *Downloader) fetchPieceFromMirrors(ctx context.Context, urls []string, piece Piece) (pieceFetchResult, error) {
	var lastErr error
	for _, url := range urls {
		body, err := d.fetchRange(ctx, url, piece.Start, piece.End)
		if err != nil {
			lastErr = err
			d.log.WithFields(logrus.Fields{"piece": piece.Index, "url": utils.SanitizeForLog(url)}).
				WithError(err).Debug("mirror failed for piece, trying next")
			continue
		}
		return pieceFetchResult{
			body:   body,
			sha256: hashBytes(body),
			url:    url,
		}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no mirrors configured")
	}
	return pieceFetchResult{}, lastErr
}

// fetchRange issues a single ranged GET and validates the returned byte
// count against the requested range.
func (d *Downloader) fetchRange(ctx context.Context, url string, start, end int64) ([]byte, error) {
	req, err := d.session.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	httprange.ScrubConditionalHeaders(req.Header)
	req.Header.Set("Range", httprange.BuildRangeHeader(start, end))

	resp, err := d.session.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusPartialContent {
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			gotStart, gotEnd, _, ok := httprange.ParseContentRange(cr)
			if ok && (gotStart != start || gotEnd != end) {
				return nil, fmt.Errorf("content-range %q does not match requested bytes=%d-%d", cr, start, end)
			}
		}
	}

	want := end - start + 1
	body, err := io.ReadAll(io.LimitReader(resp.Body, want+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) != want {
		return nil, fmt.Errorf("expected %d bytes, got %d", want, len(body))
	}
	return body, nil
}
