package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Config holds client-side timings.
type Config struct {
	// HeartbeatInterval must be shorter than LeaseTimeout.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	// LeaseTimeout is the server's reclaim window for an unrenewed lease.
	LeaseTimeout time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 60 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		ConnectTimeout:    15 * time.Second,
		DisconnectTimeout: 5 * time.Second,
		LeaseTimeout:      300 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = d.DisconnectTimeout
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = d.LeaseTimeout
	}
	return c
}

// Validate fills defaults and rejects a heartbeat that would let the server reclaim a live lease.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.HeartbeatInterval >= c.LeaseTimeout {
		return fmt.Errorf("%w: heartbeat interval %s must be shorter than lease timeout %s", ErrInvalidConfig, c.HeartbeatInterval, c.LeaseTimeout)
	}
	return nil
}

// Result is how a session ended.
type Result struct {
	// Reason is ErrLeft, a *RejectedError, ErrTransportConnectFailed, ErrLinkLost or a context error.
	Reason error
	// UsedFallback is true when the fallback link was established at some point.
	UsedFallback bool
	// FailoverAttempts counts fallback connect attempts (0 or 1).
	FailoverAttempts int
}

// Session drives one admission + connection lifecycle. Use it once.
type Session struct {
	id      string
	cfg     Config
	req     Request
	adm     Admission
	tr      Transport
	media   Media
	beacon  Beacon
	log     *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	state     State
	started   bool
	admitted  bool
	observers []func(from, to State)

	leaveCh     chan struct{}
	leaveOnce   sync.Once
	releaseOnce sync.Once
}

// SessionOption configures Session.
type SessionOption func(*Session)

// WithMedia restores local media state after every successful connect.
func WithMedia(m Media) SessionOption {
	return func(s *Session) { s.media = m }
}

// WithBeacon sets the release channel (default NopBeacon).
func WithBeacon(b Beacon) SessionOption {
	return func(s *Session) {
		if b != nil {
			s.beacon = b
		}
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics records failovers, heartbeat failures and outcomes on m.
func WithMetrics(m *Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// NewSession constructs an idle Session.
func NewSession(req Request, adm Admission, tr Transport, cfg Config, opts ...SessionOption) (*Session, error) {
	req.Room = strings.TrimSpace(req.Room)
	req.Identity = strings.TrimSpace(req.Identity)
	req.Code = strings.TrimSpace(req.Code)
	if req.Room == "" || req.Identity == "" || req.Code == "" {
		return nil, ErrInvalidRequest
	}
	if adm == nil || tr == nil {
		return nil, errors.New("orchestrator: admission and transport are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:      ulid.Make().String(),
		cfg:     cfg.withDefaults(),
		req:     req,
		adm:     adm,
		tr:      tr,
		beacon:  NopBeacon{},
		log:     slog.Default(),
		state:   StateIdle,
		leaveCh: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With("session_id", s.id, "room", req.Room)
	return s, nil
}

// ID returns the client-side session id used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn to be called after every transition. fn runs on the Run goroutine.
func (s *Session) OnStateChange(fn func(from, to State)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Leave ends the session. The release is sent immediately, even if Run has already
// unwound; Run then disconnects and returns ErrLeft. Safe to call repeatedly and from any goroutine.
func (s *Session) Leave() {
	s.leaveOnce.Do(func() { close(s.leaveCh) })
	s.release()
}

// Run executes the session until it reaches StateDisconnected.
func (s *Session) Run(ctx context.Context) Result {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return Result{Reason: ErrAlreadyStarted}
	}
	s.started = true
	s.mu.Unlock()

	var res Result
	if s.left() {
		return s.finish(ErrLeft, res)
	}
	s.transition(StateRequesting)

	grant, err := s.adm.Request(ctx, s.req)
	if err != nil {
		// Nothing was bound on our behalf, so there is nothing to release.
		s.log.Info("session.admission.reject", "err", err)
		return s.finish(err, res)
	}
	s.mu.Lock()
	s.admitted = true
	s.mu.Unlock()

	if s.left() {
		return s.finish(ErrLeft, res)
	}

	current := grant.Primary
	if err := s.connect(ctx, grant.Primary); err != nil {
		if s.left() {
			return s.finish(ErrLeft, res)
		}
		if grant.Fallback == nil {
			return s.finish(connectFailed(err, nil), res)
		}
		s.log.Warn("session.connect.primary.fail", "err", err)
		res.FailoverAttempts++
		if fbErr := s.connect(ctx, *grant.Fallback); fbErr != nil {
			s.metrics.failover(false)
			return s.finish(connectFailed(err, fbErr), res)
		}
		s.metrics.failover(true)
		res.UsedFallback = true
		current = *grant.Fallback
		s.transition(StateConnectedFallback)
	} else {
		s.transition(StateConnectedPrimary)
	}
	s.restoreMedia(ctx)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		s.heartbeat(hbCtx)
	}()
	defer func() {
		stopHeartbeat()
		<-hbDone
	}()

	events := s.tr.Events()
	for {
		select {
		case <-ctx.Done():
			s.disconnect(ctx)
			return s.finish(ctx.Err(), res)

		case <-s.leaveCh:
			s.disconnect(ctx)
			return s.finish(ErrLeft, res)

		case ev, ok := <-events:
			if !ok {
				return s.finish(ErrLinkLost, res)
			}
			if ev.URL != "" && ev.URL != current.URL {
				continue
			}
			switch ev.Kind {
			case EventMediaError:
				s.log.Warn("session.media.error", "err", ev.Err)
				continue
			case EventDisconnected:
			default:
				continue
			}

			if s.State() != StateConnectedPrimary || grant.Fallback == nil || res.FailoverAttempts > 0 {
				s.log.Warn("session.link.lost", "err", ev.Err, "state", s.State().String())
				s.disconnect(ctx)
				return s.finish(linkLost(ev.Err), res)
			}

			s.transition(StateReconnecting)
			s.log.Warn("session.failover.start", "err", ev.Err)
			s.disconnect(ctx)
			res.FailoverAttempts++
			if err := s.connect(ctx, *grant.Fallback); err != nil {
				s.metrics.failover(false)
				s.log.Error("session.failover.fail", "err", err)
				return s.finish(connectFailed(nil, err), res)
			}
			s.metrics.failover(true)
			res.UsedFallback = true
			current = *grant.Fallback
			s.transition(StateConnectedFallback)
			s.restoreMedia(ctx)
		}
	}
}

func (s *Session) connect(ctx context.Context, ep Endpoint) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return s.tr.Connect(cctx, ep.URL, ep.Token)
}

// disconnect tears the link down even when ctx is already done.
func (s *Session) disconnect(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DisconnectTimeout)
	defer cancel()
	if err := s.tr.Disconnect(dctx); err != nil {
		s.log.Info("session.disconnect.fail", "err", err)
	}
}

func (s *Session) restoreMedia(ctx context.Context) {
	if s.media == nil {
		return
	}
	if err := s.media.Restore(ctx); err != nil {
		s.log.Warn("session.media.restore.fail", "err", err)
	}
}

func (s *Session) left() bool {
	select {
	case <-s.leaveCh:
		return true
	default:
		return false
	}
}

// release sends the release beacon once, and only after admission succeeded.
func (s *Session) release() {
	s.mu.Lock()
	admitted := s.admitted
	s.mu.Unlock()
	if !admitted {
		return
	}
	s.releaseOnce.Do(func() {
		s.beacon.Send(s.req.Code)
		s.metrics.release()
		s.log.Info("session.release")
	})
}

func (s *Session) finish(reason error, res Result) Result {
	s.transition(StateDisconnected)
	s.release()
	res.Reason = reason
	s.metrics.ended(reasonLabel(reason))
	s.log.Info("session.end", "reason", reasonLabel(reason), "used_fallback", res.UsedFallback)
	return res
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		s.mu.Unlock()
		s.log.Error("session.transition.invalid", "err", ErrInvalidTransition, "from", from.String(), "to", to.String())
		return
	}
	s.state = to
	observers := append([]func(from, to State){}, s.observers...)
	s.mu.Unlock()

	s.log.Debug("session.state", "from", from.String(), "to", to.String())
	for _, fn := range observers {
		fn(from, to)
	}
}

func reasonLabel(err error) string {
	var rej *RejectedError
	switch {
	case errors.Is(err, ErrLeft):
		return "left"
	case errors.As(err, &rej):
		return "rejected"
	case errors.Is(err, ErrTransportConnectFailed):
		return "connect_failed"
	case errors.Is(err, ErrLinkLost):
		return "link_lost"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
