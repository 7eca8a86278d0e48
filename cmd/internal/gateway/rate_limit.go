package gateway

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// slidingWindow is a single-key sliding-window limiter.
type slidingWindow struct {
	events []time.Time
	last   time.Time
}

func (s *slidingWindow) allow(now time.Time, limit int, window time.Duration) (bool, time.Duration) {
	cut := now.Add(-window)
	dst := s.events[:0]
	for _, t := range s.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	s.events = dst
	s.last = now

	if len(s.events) >= limit {
		return false, s.events[0].Sub(cut)
	}
	s.events = append(s.events, now)
	return true, 0
}

// KeyedLimiter applies a sliding window per key (client IP).
// Idle keys are pruned once the table grows past maxKeys.
type KeyedLimiter struct {
	mu      sync.Mutex
	keys    map[string]*slidingWindow
	limit   int
	window  time.Duration
	maxKeys int
}

// NewKeyedLimiter allows limit events per window per key.
func NewKeyedLimiter(limit int, window time.Duration) *KeyedLimiter {
	if limit <= 0 {
		limit = DefaultConfig().AdmissionRateEvents
	}
	if window <= 0 {
		window = DefaultConfig().AdmissionRateWindow
	}
	return &KeyedLimiter{
		keys:    make(map[string]*slidingWindow),
		limit:   limit,
		window:  window,
		maxKeys: 10_000,
	}
}

// Allow reports whether an event for key at now is permitted, and if not, how long until it would be.
func (l *KeyedLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.keys[key]
	if w == nil {
		if len(l.keys) >= l.maxKeys {
			l.pruneLocked(now)
		}
		w = &slidingWindow{events: make([]time.Time, 0, 4)}
		l.keys[key] = w
	}
	return w.allow(now, l.limit, l.window)
}

func (l *KeyedLimiter) pruneLocked(now time.Time) {
	cut := now.Add(-l.window)
	for k, w := range l.keys {
		if !w.last.After(cut) {
			delete(l.keys, k)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
