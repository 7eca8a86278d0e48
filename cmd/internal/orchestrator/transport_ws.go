package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	wsMaxPingFailures = 3
	wsReadLimit       = 1 << 20
)

// WSTransport holds one signaling WebSocket to a media endpoint at a time.
type WSTransport struct {
	log         *slog.Logger
	pingEvery   time.Duration
	pingTimeout time.Duration
	events      chan Event

	mu   sync.Mutex
	link *wsLink
}

type wsLink struct {
	url     string
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	closing bool
}

// WSOption configures WSTransport.
type WSOption func(*WSTransport)

// WithPing sets the keepalive ping interval and per-ping timeout.
func WithPing(every, timeout time.Duration) WSOption {
	return func(t *WSTransport) {
		if every > 0 {
			t.pingEvery = every
		}
		if timeout > 0 {
			t.pingTimeout = timeout
		}
	}
}

// NewWSTransport returns an unconnected transport.
func NewWSTransport(log *slog.Logger, opts ...WSOption) *WSTransport {
	if log == nil {
		log = slog.Default()
	}
	t := &WSTransport{
		log:         log,
		pingEvery:   20 * time.Second,
		pingTimeout: 5 * time.Second,
		events:      make(chan Event, 16),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Events delivers link events. The channel is never closed.
func (t *WSTransport) Events() <-chan Event { return t.events }

// Connect dials <endpoint>/rtc?access_token=<token>. Any previous link is closed first.
func (t *WSTransport) Connect(ctx context.Context, endpoint, token string) error {
	target, err := rtcURL(endpoint, token)
	if err != nil {
		return err
	}
	_ = t.Disconnect(ctx)

	conn, resp, err := websocket.Dial(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(wsReadLimit)

	linkCtx, cancel := context.WithCancel(context.Background())
	l := &wsLink{url: endpoint, conn: conn, cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	t.link = l
	t.mu.Unlock()

	go t.readLoop(linkCtx, l)
	go t.pingLoop(linkCtx, l)
	t.log.Info("transport.connect", "url", endpoint)
	return nil
}

// Disconnect closes the current link normally. It does not emit EventDisconnected.
func (t *WSTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	l := t.link
	t.link = nil
	if l != nil {
		l.closing = true
	}
	t.mu.Unlock()
	if l == nil {
		return nil
	}

	err := l.conn.Close(websocket.StatusNormalClosure, "leaving")
	l.cancel()
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		t.log.Debug("transport.close.fail", "url", l.url, "err", err)
	}
	return nil
}

func (t *WSTransport) readLoop(ctx context.Context, l *wsLink) {
	defer close(l.done)
	for {
		if _, _, err := l.conn.Read(ctx); err != nil {
			t.mu.Lock()
			closing := l.closing
			t.mu.Unlock()
			l.cancel()
			if closing {
				return
			}
			t.log.Info("transport.link.lost", "url", l.url, "close_status", websocket.CloseStatus(err), "err", err)
			t.emit(Event{Kind: EventDisconnected, URL: l.url, Err: err})
			return
		}
	}
}

func (t *WSTransport) pingLoop(ctx context.Context, l *wsLink) {
	tick := time.NewTicker(t.pingEvery)
	defer tick.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			pctx, cancel := context.WithTimeout(ctx, t.pingTimeout)
			err := l.conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				t.log.Info("transport.ping.fail", "url", l.url, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					_ = l.conn.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (t *WSTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("transport.event.drop", "url", ev.URL)
	}
}

func rtcURL(endpoint, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("invalid endpoint: missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rtc"
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
