package admission

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"roomgate/cmd/internal/lease"
)

const (
	maxRoomLen       = 256
	createCodeTries  = 10
	maxExpiresMinute = 365 * 24 * 60
)

// Decision is a successful validation.
type Decision struct {
	Code string
	Room string
	// AlreadyBound is true when the code was bound to Room before this request.
	AlreadyBound bool
}

// Controller is the sole mutator of lease state. Exclusivity rests on lease.Store.Bind;
// Validate is advisory and takes no locks.
type Controller struct {
	store   lease.Store
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics
}

// Option configures Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics records decisions on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController constructs a Controller over store.
func NewController(store lease.Store, cfg Config, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Validate decides whether code may be used for room.
// A lease idle for at least LeaseTimeout is cleared as a side effect and the code is treated as unbound.
func (c *Controller) Validate(ctx context.Context, code, room string) (Decision, error) {
	code, room, err := normalize(code, room)
	if err != nil {
		return Decision{}, err
	}

	rec, err := c.store.Get(ctx, code)
	if err != nil {
		if errors.Is(err, lease.ErrNotFound) {
			return Decision{}, ErrCodeNotFound
		}
		return Decision{}, storeErr("get", err)
	}
	if rec.Status != lease.StatusAssigned {
		return Decision{}, ErrNotActivated
	}

	now := c.now()
	if rec.LeaseExpired(now, c.cfg.LeaseTimeout) {
		// Conditional on the snapshot's age, so a bind made after our read is left alone.
		cleared, err := c.store.ClearStale(ctx, code, now.Add(-c.cfg.LeaseTimeout))
		if err != nil {
			return Decision{}, storeErr("clear stale", err)
		}
		if cleared {
			c.metrics.lazyReclaim()
			c.log.Info("admission.lease.reclaimed", "code", maskCode(code), "room", rec.Room())
		}
		return Decision{Code: code, Room: room}, nil
	}

	if rec.InUse {
		if rec.Room() == room {
			return Decision{Code: code, Room: room, AlreadyBound: true}, nil
		}
		return Decision{}, &RoomConflictError{Room: rec.Room()}
	}
	return Decision{Code: code, Room: room}, nil
}

// Bind claims code for room. It reports whether this call performed the bind;
// a code that is already bound is left untouched and reports false.
func (c *Controller) Bind(ctx context.Context, code, room string) (bool, error) {
	code, room, err := normalize(code, room)
	if err != nil {
		return false, err
	}
	ok, err := c.store.Bind(ctx, code, room, c.now())
	if err != nil {
		return false, storeErr("bind", err)
	}
	if ok {
		c.metrics.bind()
	}
	return ok, nil
}

// Admit validates code for room and binds it when unbound. A lost bind race is
// resolved by validating once more: the loser either shares the winner's room or
// gets a RoomConflictError.
func (c *Controller) Admit(ctx context.Context, code, room string) (Decision, error) {
	d, err := c.admit(ctx, code, room)
	if errors.Is(err, errLeaseExpiredRace) {
		c.metrics.bindRace()
		d, err = c.admit(ctx, code, room)
		if errors.Is(err, errLeaseExpiredRace) {
			// Bound and released again between our reads; report the store as busy rather than loop.
			err = storeErr("bind", err)
		}
	}
	c.metrics.admission(outcomeOf(d, err))
	if err != nil {
		var conflict *RoomConflictError
		switch {
		case errors.As(err, &conflict):
			c.log.Info("admission.reject", "reason", OutcomeRoomConflict, "code", maskCode(code), "room", room, "bound_room", conflict.Room)
		case errors.Is(err, ErrStoreUnavailable):
			c.log.Error("admission.store.fail", "err", err, "code", maskCode(code))
		default:
			c.log.Info("admission.reject", "reason", outcomeOf(d, err), "code", maskCode(code), "room", room)
		}
		return Decision{}, err
	}
	c.log.Info("admission.admit", "code", maskCode(d.Code), "room", d.Room, "rejoin", d.AlreadyBound)
	return d, nil
}

func (c *Controller) admit(ctx context.Context, code, room string) (Decision, error) {
	d, err := c.Validate(ctx, code, room)
	if err != nil || d.AlreadyBound {
		return d, err
	}
	ok, err := c.Bind(ctx, d.Code, d.Room)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, errLeaseExpiredRace
	}
	return d, nil
}

// Renew refreshes a bound lease. Unbound or unknown codes are a no-op.
func (c *Controller) Renew(ctx context.Context, code string) error {
	code = lease.NormalizeCode(code)
	if code == "" {
		return ErrInvalidInput
	}
	ok, err := c.store.Touch(ctx, code, c.now())
	if err != nil {
		return storeErr("touch", err)
	}
	c.metrics.renew(ok)
	return nil
}

// Release clears the lease unconditionally. Repeated calls are harmless.
func (c *Controller) Release(ctx context.Context, code string) error {
	code = lease.NormalizeCode(code)
	if code == "" {
		return ErrInvalidInput
	}
	if err := c.store.Clear(ctx, code); err != nil {
		return storeErr("clear", err)
	}
	c.metrics.release()
	c.log.Info("admission.release", "code", maskCode(code))
	return nil
}

// CreateInput describes a new code. An empty Code is generated.
type CreateInput struct {
	Code           string
	HolderID       *int64
	ExpiresMinutes int
	Note           string
}

// CreateCode inserts a code, either into the pool (available) or directly assigned to HolderID.
// Generated codes are retried on collision.
func (c *Controller) CreateCode(ctx context.Context, in CreateInput) (lease.AuthCode, error) {
	if in.ExpiresMinutes == 0 {
		in.ExpiresMinutes = lease.DefaultExpiresMinutes
	}
	if in.ExpiresMinutes < 0 || in.ExpiresMinutes > maxExpiresMinute {
		return lease.AuthCode{}, ErrInvalidInput
	}

	now := c.now()
	rec := lease.CreateRecord{
		Status:         lease.StatusAvailable,
		ExpiresMinutes: in.ExpiresMinutes,
		CreatedAt:      now,
	}
	if note := strings.TrimSpace(in.Note); note != "" {
		rec.Note = &note
	}
	if in.HolderID != nil {
		holder := *in.HolderID
		rec.Status = lease.StatusAssigned
		rec.AssignedTo = &holder
		rec.AssignedAt = &now
	}

	if code := lease.NormalizeCode(in.Code); code != "" {
		rec.Code = code
		out, err := c.store.Create(ctx, rec)
		return out, c.mapAdminErr("create", err)
	}

	for i := 0; i < createCodeTries; i++ {
		code, err := lease.NewCode(lease.DefaultCodeLength)
		if err != nil {
			return lease.AuthCode{}, err
		}
		rec.Code = code
		out, err := c.store.Create(ctx, rec)
		if errors.Is(err, lease.ErrDuplicate) {
			continue
		}
		if err != nil {
			return lease.AuthCode{}, c.mapAdminErr("create", err)
		}
		c.log.Info("admission.code.create", "code", maskCode(out.Code), "status", out.Status)
		return out, nil
	}
	return lease.AuthCode{}, ErrCodeSpaceExhausted
}

// Assign moves an available code to holder.
func (c *Controller) Assign(ctx context.Context, code string, holder int64) (lease.AuthCode, error) {
	code = lease.NormalizeCode(code)
	if code == "" {
		return lease.AuthCode{}, ErrInvalidInput
	}
	out, err := c.store.Assign(ctx, code, holder, c.now())
	if err != nil {
		return lease.AuthCode{}, c.mapAdminErr("assign", err)
	}
	c.log.Info("admission.code.assign", "code", maskCode(code), "holder_id", holder)
	return out, nil
}

// DeleteCode removes a code. ErrCodeNotFound when nothing was deleted.
func (c *Controller) DeleteCode(ctx context.Context, code string) error {
	code = lease.NormalizeCode(code)
	if code == "" {
		return ErrInvalidInput
	}
	ok, err := c.store.Delete(ctx, code)
	if err != nil {
		return storeErr("delete", err)
	}
	if !ok {
		return ErrCodeNotFound
	}
	return nil
}

// CodesForHolder lists a holder's codes, newest assignment first.
func (c *Controller) CodesForHolder(ctx context.Context, holder int64) ([]lease.AuthCode, error) {
	out, err := c.store.ListByHolder(ctx, holder)
	if err != nil {
		return nil, storeErr("list by holder", err)
	}
	return out, nil
}

// ListCodes lists the newest codes.
func (c *Controller) ListCodes(ctx context.Context, limit int) ([]lease.AuthCode, error) {
	out, err := c.store.List(ctx, limit)
	if err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

// Stats summarizes the pool.
func (c *Controller) Stats(ctx context.Context) (lease.Stats, error) {
	out, err := c.store.Stats(ctx)
	if err != nil {
		return lease.Stats{}, storeErr("stats", err)
	}
	return out, nil
}

func (c *Controller) mapAdminErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lease.ErrInvalidInput):
		return ErrInvalidInput
	case errors.Is(err, lease.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, lease.ErrDuplicate), errors.Is(err, lease.ErrNotAvailable):
		return err
	default:
		return storeErr(op, err)
	}
}

func normalize(code, room string) (string, string, error) {
	code = lease.NormalizeCode(code)
	room = strings.TrimSpace(room)
	if code == "" || room == "" || len(room) > maxRoomLen {
		return "", "", ErrInvalidInput
	}
	return code, room, nil
}

func outcomeOf(d Decision, err error) string {
	switch {
	case err == nil && d.AlreadyBound:
		return OutcomeRejoined
	case err == nil:
		return OutcomeAdmitted
	case errors.Is(err, ErrCodeNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrNotActivated):
		return OutcomeNotActivated
	case errors.Is(err, ErrRoomConflict):
		return OutcomeRoomConflict
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalid
	default:
		return OutcomeStoreError
	}
}

// maskCode keeps the first two characters so logs can correlate without exposing the code.
func maskCode(code string) string {
	if len(code) <= 2 {
		return "**"
	}
	return code[:2] + strings.Repeat("*", len(code)-2)
}
