// Package httprange provides shared HTTP byte-range header parsing and
// construction helpers used by the prober, worker pool, and sequential
// fallback.
package httprange

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// SupportsRange reports whether a response's headers advertise byte-range
// support via Accept-Ranges.
func SupportsRange(h http.Header) bool {
	ar := strings.ToLower(h.Get("Accept-Ranges"))
	for _, part := range strings.Split(ar, ",") {
		if strings.TrimSpace(part) == "bytes" {
			return true
		}
	}
	return false
}

// ScrubConditionalHeaders removes conditional headers that could alter
// response semantics on a range request.
func ScrubConditionalHeaders(h http.Header) {
	h.Del("If-None-Match")
	h.Del("If-Modified-Since")
	h.Del("If-Match")
	h.Del("If-Unmodified-Since")
}

// BuildRangeHeader formats an inclusive closed range "bytes=start-end".
func BuildRangeHeader(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// BuildOpenRangeHeader formats an open-ended range "bytes=start-".
func BuildOpenRangeHeader(start int64) string {
	return fmt.Sprintf("bytes=%d-", start)
}

// ParseSingleRange parses "Range: bytes=start-end". end is -1 when omitted.
// Multi-range and suffix-range forms are rejected (ok == false).
func ParseSingleRange(h string) (start, end int64, ok bool) {
	if h == "" {
		return 0, -1, false
	}
	h = strings.TrimSpace(h)
	if !strings.HasPrefix(strings.ToLower(h), "bytes=") {
		return 0, -1, false
	}
	spec := strings.TrimSpace(h[len("bytes="):])
	if strings.Contains(spec, ",") {
		return 0, -1, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, -1, false
	}
	s, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || s < 0 {
		return 0, -1, false
	}
	e := int64(-1)
	if strings.TrimSpace(parts[1]) != "" {
		v, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || v < s {
			return 0, -1, false
		}
		e = v
	}
	return s, e, true
}

// ParseContentRange parses "Content-Range: bytes start-end/total". total is
// -1 when the server reports "*" (unknown).
func ParseContentRange(h string) (start, end, total int64, ok bool) {
	if h == "" {
		return 0, -1, -1, false
	}
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "bytes ") {
		return 0, -1, -1, false
	}
	body := strings.TrimSpace(h[len("bytes "):])
	seTotal := strings.SplitN(body, "/", 2)
	if len(seTotal) != 2 {
		return 0, -1, -1, false
	}
	se := strings.SplitN(strings.TrimSpace(seTotal[0]), "-", 2)
	if len(se) != 2 {
		return 0, -1, -1, false
	}
	s, err1 := strconv.ParseInt(strings.TrimSpace(se[0]), 10, 64)
	e, err2 := strconv.ParseInt(strings.TrimSpace(se[1]), 10, 64)
	totalStr := strings.TrimSpace(seTotal[1])
	t := int64(-1)
	var err3 error
	if totalStr != "*" {
		t, err3 = strconv.ParseInt(totalStr, 10, 64)
	}
	if err1 != nil || err2 != nil || (err3 != nil && totalStr != "*") {
		return 0, -1, -1, false
	}
	return s, e, t, true
}
