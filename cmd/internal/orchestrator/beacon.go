package orchestrator

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HTTPBeacon posts releases to /api/leave from a detached goroutine, so a release
// survives the session's own context being canceled.
type HTTPBeacon struct {
	target  string
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger

	wg sync.WaitGroup
}

// NewHTTPBeacon builds a beacon for the gateway at baseURL.
func NewHTTPBeacon(baseURL string, client *http.Client, log *slog.Logger) (*HTTPBeacon, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/leave"
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPBeacon{
		target:  (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String(),
		client:  client,
		timeout: 5 * time.Second,
		log:     log,
	}, nil
}

// Send fires the release and returns immediately.
func (b *HTTPBeacon) Send(code string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := postCode(ctx, b.client, b.target, code); err != nil {
			b.log.Warn("beacon.release.fail", "err", err)
		}
	}()
}

// Flush waits up to timeout for in-flight releases. It reports whether all of them finished.
func (b *HTTPBeacon) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
