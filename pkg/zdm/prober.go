package zdm

import (
	"context"
	"net/http"
	"strconv"

	"github.com/spainion/zdm/pkg/zdm/internal/httprange"
)

// probeResult is the outcome of probing one mirror.
type probeResult struct {
	fileSize       int64
	rangeSupported bool
}

// probe determines total size and byte-range capability for a mirror.
// Per §4.2: issue a HEAD first; on a >=400 status, retry with a plain GET
// read for headers only. Accept-Ranges: bytes is authoritative; otherwise a
// single-byte range probe confirming 206 is accepted as a fallback signal.
// Any network error yields a zero-value result with the error reported.
func (d *Downloader) probe(ctx context.Context, url string) (probeResult, error) {
	resp, err := d.headOrGet(ctx, url)
	if err != nil {
		return probeResult{}, err
	}
	defer resp.Body.Close()

	size := parseContentLength(resp.Header.Get("Content-Length"))
	rangeSupported := httprange.SupportsRange(resp.Header)

	if !rangeSupported {
		ok, err := d.probeSingleByteRange(ctx, url)
		if err == nil && ok {
			rangeSupported = true
		}
	}

	return probeResult{fileSize: size, rangeSupported: rangeSupported}, nil
}

func (d *Downloader) headOrGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := d.session.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	resp, err := d.session.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}
	resp.Body.Close()

	req, err = d.session.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	return d.session.do(req)
}

func (d *Downloader) probeSingleByteRange(ctx context.Context, url string) (bool, error) {
	req, err := d.session.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return false, err
	}
	req.Header.Set("Range", httprange.BuildRangeHeader(0, 0))
	resp, err := d.session.do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusPartialContent, nil
}

func parseContentLength(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
