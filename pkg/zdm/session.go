package zdm

import (
	"context"
	"net/http"
	"time"
)

// httpDoer is satisfied by *http.Client; tests substitute a fake.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// session is a process-lifetime HTTP client carrying the configured
// user-agent and common headers, owned by one Downloader and reused across
// all of its requests. It replaces the module-level singleton HTTP session
// of the reference implementation with an instance-owned client.
type session struct {
	client    httpDoer
	userAgent string
	timeout   time.Duration
}

func newSession(userAgent string, timeout time.Duration) *session {
	return &session{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// newRequest builds a request of the given method carrying the session's user-agent and an
// explicit identity encoding so byte offsets are never disturbed by
// transparent compression.
func (s *session) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}

func (s *session) do(req *http.Request) (*http.Response, error) {
	return s.client.Do(req)
}
