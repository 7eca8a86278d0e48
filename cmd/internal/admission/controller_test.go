package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"roomgate/cmd/internal/lease"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, store lease.Store, clock *testClock, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithLogger(discardLogger())}, opts...)
	c, err := NewController(store, DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func mustAssignedCode(t *testing.T, store lease.Store, code string, at time.Time) {
	t.Helper()
	holder := int64(1001)
	_, err := store.Create(context.Background(), lease.CreateRecord{
		Code:           code,
		Status:         lease.StatusAssigned,
		AssignedTo:     &holder,
		AssignedAt:     &at,
		ExpiresMinutes: lease.DefaultExpiresMinutes,
		CreatedAt:      at,
	})
	if err != nil {
		t.Fatalf("create %s: %v", code, err)
	}
}

func mustConsistent(t *testing.T, store lease.Store, code string) lease.AuthCode {
	t.Helper()
	rec, err := store.Get(context.Background(), code)
	if err != nil {
		t.Fatalf("get %s: %v", code, err)
	}
	if !rec.Consistent() {
		t.Fatalf("lease fields inconsistent: %+v", rec)
	}
	return rec
}

func TestController_RoomConflictAndLazyReclaim(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := lease.NewInMemoryStore()
	mustAssignedCode(t, store, "ABCD2345", clock.Now())
	c := newTestController(t, store, clock)
	ctx := context.Background()

	ok, err := c.Bind(ctx, "ABCD2345", "room1")
	if err != nil || !ok {
		t.Fatalf("bind: ok=%v err=%v", ok, err)
	}
	mustConsistent(t, store, "ABCD2345")

	d, err := c.Validate(ctx, "ABCD2345", "room1")
	if err != nil {
		t.Fatalf("validate room1: %v", err)
	}
	if !d.AlreadyBound {
		t.Fatalf("expected rejoin decision, got %+v", d)
	}

	_, err = c.Validate(ctx, "ABCD2345", "room2")
	var conflict *RoomConflictError
	if !errors.As(err, &conflict) || conflict.Room != "room1" {
		t.Fatalf("expected RoomConflictError naming room1, got %v", err)
	}
	if !errors.Is(err, ErrRoomConflict) {
		t.Fatalf("RoomConflictError should match ErrRoomConflict")
	}

	clock.Advance(301 * time.Second)

	d, err = c.Validate(ctx, "ABCD2345", "room2")
	if err != nil {
		t.Fatalf("validate room2 after inactivity: %v", err)
	}
	if d.AlreadyBound {
		t.Fatalf("reclaimed code must be treated as unbound")
	}
	rec := mustConsistent(t, store, "ABCD2345")
	if rec.InUse {
		t.Fatalf("lazy reclamation should have cleared the lease: %+v", rec)
	}
}

func TestController_NotActivatedAndNotFound(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := lease.NewInMemoryStore()
	if _, err := store.Create(context.Background(), lease.CreateRecord{Code: "AVAIL234", Status: lease.StatusAvailable, ExpiresMinutes: 60}); err != nil {
		t.Fatalf("create: %v", err)
	}
	c := newTestController(t, store, clock)
	ctx := context.Background()

	for _, room := range []string{"room1", "lobby", "a-perfectly-valid-room"} {
		if _, err := c.Validate(ctx, "AVAIL234", room); !errors.Is(err, ErrNotActivated) {
			t.Fatalf("room %q: expected ErrNotActivated, got %v", room, err)
		}
		if _, err := c.Admit(ctx, "AVAIL234", room); !errors.Is(err, ErrNotActivated) {
			t.Fatalf("room %q: admit expected ErrNotActivated, got %v", room, err)
		}
	}
	if _, err := c.Admit(ctx, "MISSING2", "room1"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
	if _, err := c.Admit(ctx, " ", "room1"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank code, got %v", err)
	}
	if _, err := c.Admit(ctx, "AVAIL234", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank room, got %v", err)
	}
}

func TestController_AdmitSameRoomRepeatedly(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := lease.NewInMemoryStore()
	mustAssignedCode(t, store, "SHARE234", clock.Now())
	c := newTestController(t, store, clock)
	ctx := context.Background()

	d, err := c.Admit(ctx, "SHARE234", "standup")
	if err != nil || d.AlreadyBound {
		t.Fatalf("first admit: %+v %v", d, err)
	}
	for i := 0; i < 25; i++ {
		clock.Advance(10 * time.Second)
		d, err := c.Admit(ctx, "SHARE234", "standup")
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !d.AlreadyBound {
			t.Fatalf("admit %d: expected rejoin", i)
		}
		mustConsistent(t, store, "SHARE234")
	}
}

func TestController_ConcurrentAdmitDifferentRooms(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := lease.NewInMemoryStore()
	mustAssignedCode(t, store, "RACE2345", clock.Now())
	c := newTestController(t, store, clock)

	const perRoom = 8
	rooms := []string{"room-a", "room-b"}
	type result struct {
		room string
		err  error
	}
	results := make(chan result, perRoom*len(rooms))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, room := range rooms {
		for i := 0; i < perRoom; i++ {
			wg.Add(1)
			go func(room string) {
				defer wg.Done()
				<-start
				_, err := c.Admit(context.Background(), "RACE2345", room)
				results <- result{room: room, err: err}
			}(room)
		}
	}
	close(start)
	wg.Wait()
	close(results)

	rec := mustConsistent(t, store, "RACE2345")
	winner := rec.Room()
	if winner != "room-a" && winner != "room-b" {
		t.Fatalf("expected a winning room, got %q", winner)
	}
	for r := range results {
		if r.room == winner {
			if r.err != nil {
				t.Fatalf("winner room request failed: %v", r.err)
			}
			continue
		}
		var conflict *RoomConflictError
		if !errors.As(r.err, &conflict) || conflict.Room != winner {
			t.Fatalf("loser room request: expected conflict naming %q, got %v", winner, r.err)
		}
	}
}

// raceStore lets another request win the bind just before ours runs.
type raceStore struct {
	lease.Store
	once       sync.Once
	winnerRoom string
	now        time.Time
}

func (s *raceStore) Bind(ctx context.Context, code, room string, now time.Time) (bool, error) {
	s.once.Do(func() {
		_, _ = s.Store.Bind(ctx, code, s.winnerRoom, s.now)
	})
	return s.Store.Bind(ctx, code, room, now)
}

func TestController_AdmitResolvesLostBind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		winnerRoom  string
		wantRejoin  bool
		wantConflct bool
	}{
		{name: "same_room_joins_winner", winnerRoom: "room1", wantRejoin: true},
		{name: "other_room_conflicts", winnerRoom: "room9", wantConflct: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newTestClock()
			inner := lease.NewInMemoryStore()
			mustAssignedCode(t, inner, "LOST2345", clock.Now())
			store := &raceStore{Store: inner, winnerRoom: tt.winnerRoom, now: clock.Now()}
			reg := prometheus.NewRegistry()
			m := NewMetrics(reg)
			c := newTestController(t, store, clock, WithMetrics(m))

			d, err := c.Admit(context.Background(), "LOST2345", "room1")
			if tt.wantConflct {
				var conflict *RoomConflictError
				if !errors.As(err, &conflict) || conflict.Room != tt.winnerRoom {
					t.Fatalf("expected conflict naming %q, got %v", tt.winnerRoom, err)
				}
			} else {
				if err != nil {
					t.Fatalf("admit: %v", err)
				}
				if d.AlreadyBound != tt.wantRejoin {
					t.Fatalf("AlreadyBound=%v want %v", d.AlreadyBound, tt.wantRejoin)
				}
			}
			if got := testutil.ToFloat64(m.bindRaces); got != 1 {
				t.Fatalf("expected one recorded bind race, got %v", got)
			}
		})
	}
}

func TestController_RenewAndRelease(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	store := lease.NewInMemoryStore()
	mustAssignedCode(t, store, "BEAT2345", clock.Now())
	c := newTestController(t, store, clock)
	ctx := context.Background()

	if err := c.Renew(ctx, "BEAT2345"); err != nil {
		t.Fatalf("renew unbound: %v", err)
	}
	if rec := mustConsistent(t, store, "BEAT2345"); rec.InUse {
		t.Fatalf("renew must not bind: %+v", rec)
	}
	if err := c.Renew(ctx, "UNKNOWN2"); err != nil {
		t.Fatalf("renew unknown code should be a no-op: %v", err)
	}

	if _, err := c.Admit(ctx, "BEAT2345", "room1"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	// Heartbeats every minute keep the lease alive well past the timeout.
	for i := 0; i < 10; i++ {
		clock.Advance(time.Minute)
		if err := c.Renew(ctx, "BEAT2345"); err != nil {
			t.Fatalf("renew %d: %v", i, err)
		}
	}
	if _, err := c.Validate(ctx, "BEAT2345", "room2"); !errors.Is(err, ErrRoomConflict) {
		t.Fatalf("renewed lease must still conflict, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := c.Release(ctx, "BEAT2345"); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
		if rec := mustConsistent(t, store, "BEAT2345"); rec.InUse {
			t.Fatalf("release %d left lease bound: %+v", i, rec)
		}
	}
	if err := c.Release(ctx, "UNKNOWN2"); err != nil {
		t.Fatalf("release of unknown code should be a no-op: %v", err)
	}
	if _, err := c.Admit(ctx, "BEAT2345", "room2"); err != nil {
		t.Fatalf("released code should admit another room: %v", err)
	}
}

type failingStore struct {
	lease.Store
	err error
}

func (s failingStore) Get(context.Context, string) (lease.AuthCode, error) {
	return lease.AuthCode{}, s.err
}

func (s failingStore) Touch(context.Context, string, time.Time) (bool, error) { return false, s.err }

func (s failingStore) Clear(context.Context, string) error { return s.err }

func TestController_StoreFailures(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp 10.0.0.5:5432: connection refused")
	c := newTestController(t, failingStore{Store: lease.NewInMemoryStore(), err: cause}, newTestClock())
	ctx := context.Background()

	_, err := c.Admit(ctx, "ABCD2345", "room1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause should stay reachable for logs")
	}
	if err := c.Renew(ctx, "ABCD2345"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("renew: expected ErrStoreUnavailable, got %v", err)
	}
	if err := c.Release(ctx, "ABCD2345"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("release: expected ErrStoreUnavailable, got %v", err)
	}
}

type dupStore struct {
	lease.Store
	mu    sync.Mutex
	dups  int
	calls int
}

func (s *dupStore) Create(ctx context.Context, in lease.CreateRecord) (lease.AuthCode, error) {
	s.mu.Lock()
	s.calls++
	dup := s.calls <= s.dups
	s.mu.Unlock()
	if dup {
		return lease.AuthCode{}, lease.ErrDuplicate
	}
	return s.Store.Create(ctx, in)
}

func TestController_CreateCode(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	ctx := context.Background()

	t.Run("generated_assigned", func(t *testing.T) {
		t.Parallel()
		store := &dupStore{Store: lease.NewInMemoryStore(), dups: 3}
		c := newTestController(t, store, clock)
		holder := int64(555)
		out, err := c.CreateCode(ctx, CreateInput{HolderID: &holder, Note: " gift "})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if store.calls != 4 {
			t.Fatalf("expected 4 attempts, got %d", store.calls)
		}
		if len(out.Code) != lease.DefaultCodeLength || out.Status != lease.StatusAssigned || *out.AssignedTo != 555 {
			t.Fatalf("unexpected code: %+v", out)
		}
		if out.ExpiresMinutes != lease.DefaultExpiresMinutes || out.Note == nil || *out.Note != "gift" {
			t.Fatalf("unexpected defaults: %+v", out)
		}
		mine, err := c.CodesForHolder(ctx, 555)
		if err != nil || len(mine) != 1 {
			t.Fatalf("codes for holder: %v %v", mine, err)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()
		store := &dupStore{Store: lease.NewInMemoryStore(), dups: 100}
		c := newTestController(t, store, clock)
		if _, err := c.CreateCode(ctx, CreateInput{}); !errors.Is(err, ErrCodeSpaceExhausted) {
			t.Fatalf("expected ErrCodeSpaceExhausted, got %v", err)
		}
		if store.calls != createCodeTries {
			t.Fatalf("expected %d attempts, got %d", createCodeTries, store.calls)
		}
	})

	t.Run("explicit_code_then_assign", func(t *testing.T) {
		t.Parallel()
		c := newTestController(t, lease.NewInMemoryStore(), clock)
		out, err := c.CreateCode(ctx, CreateInput{Code: "MANUAL23", ExpiresMinutes: 30})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if out.Status != lease.StatusAvailable {
			t.Fatalf("explicit code without holder should be available: %+v", out)
		}
		if _, err := c.CreateCode(ctx, CreateInput{Code: "MANUAL23"}); !errors.Is(err, lease.ErrDuplicate) {
			t.Fatalf("expected duplicate, got %v", err)
		}
		if _, err := c.Admit(ctx, "MANUAL23", "room"); !errors.Is(err, ErrNotActivated) {
			t.Fatalf("expected ErrNotActivated before assign, got %v", err)
		}
		if _, err := c.Assign(ctx, "MANUAL23", 7); err != nil {
			t.Fatalf("assign: %v", err)
		}
		if _, err := c.Assign(ctx, "MANUAL23", 8); !errors.Is(err, lease.ErrNotAvailable) {
			t.Fatalf("expected ErrNotAvailable, got %v", err)
		}
		if _, err := c.Admit(ctx, "MANUAL23", "room"); err != nil {
			t.Fatalf("admit after assign: %v", err)
		}
		stats, err := c.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Total != 1 || stats.Assigned != 1 || stats.InUse != 1 {
			t.Fatalf("unexpected stats: %+v", stats)
		}
		if err := c.DeleteCode(ctx, "MANUAL23"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := c.DeleteCode(ctx, "MANUAL23"); !errors.Is(err, ErrCodeNotFound) {
			t.Fatalf("expected ErrCodeNotFound on second delete, got %v", err)
		}
	})

	t.Run("invalid_expiry", func(t *testing.T) {
		t.Parallel()
		c := newTestController(t, lease.NewInMemoryStore(), clock)
		if _, err := c.CreateCode(ctx, CreateInput{ExpiresMinutes: -5}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	mutations := map[string]func(*Config){
		"zero_timeout":        func(c *Config) { c.LeaseTimeout = 0 },
		"zero_heartbeat":      func(c *Config) { c.HeartbeatInterval = 0 },
		"heartbeat_too_long":  func(c *Config) { c.HeartbeatInterval = c.LeaseTimeout },
		"negative_grace":      func(c *Config) { c.ExpiryGrace = -time.Hour },
		"zero_sweep_interval": func(c *Config) { c.SweepInterval = 0 },
	}
	for name, mutate := range mutations {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", name, err)
		}
		if _, err := NewController(lease.NewInMemoryStore(), cfg); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: NewController expected ErrConfig, got %v", name, err)
		}
	}
	if _, err := NewController(nil, DefaultConfig()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil store: expected ErrInvalidInput, got %v", err)
	}
}

func TestMaskCode(t *testing.T) {
	t.Parallel()
	if got := maskCode("ABCD2345"); got != "AB******" {
		t.Fatalf("maskCode=%q", got)
	}
	if got := maskCode("A"); strings.Contains(got, "A") {
		t.Fatalf("short code leaked: %q", got)
	}
}
