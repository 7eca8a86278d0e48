package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// runStoreContract exercises the Store contract against any backend.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mustCreateAssigned := func(t *testing.T, st Store, code string, holder int64, at time.Time) AuthCode {
		t.Helper()
		c, err := st.Create(context.Background(), CreateRecord{
			Code:           code,
			Status:         StatusAssigned,
			AssignedTo:     &holder,
			AssignedAt:     &at,
			ExpiresMinutes: DefaultExpiresMinutes,
			CreatedAt:      at,
		})
		if err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
		return c
	}

	t.Run("create_get_duplicate", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		note := "  for alice  "
		created, err := st.Create(ctx, CreateRecord{
			Code:           "ABCD2345",
			Status:         StatusAvailable,
			ExpiresMinutes: DefaultExpiresMinutes,
			Note:           &note,
			CreatedAt:      base,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if created.ID == 0 || created.Code != "ABCD2345" || created.Status != StatusAvailable {
			t.Fatalf("unexpected created row: %+v", created)
		}
		if created.Note == nil || *created.Note != "for alice" {
			t.Fatalf("expected trimmed note, got %v", created.Note)
		}

		got, err := st.Get(ctx, " ABCD2345 ")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.InUse || got.BoundRoom != nil || got.InUseSince != nil || !got.Consistent() {
			t.Fatalf("fresh code should be unbound: %+v", got)
		}

		_, err = st.Create(ctx, CreateRecord{Code: "ABCD2345", Status: StatusAvailable, ExpiresMinutes: 10, CreatedAt: base})
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		if _, err := st.Get(ctx, "NOPE2345"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("create_rejects_invalid", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		cases := []CreateRecord{
			{Code: "", Status: StatusAvailable, ExpiresMinutes: 1},
			{Code: "X", Status: "bogus", ExpiresMinutes: 1},
			{Code: "X", Status: StatusAvailable, ExpiresMinutes: 0},
			{Code: "X", Status: StatusAssigned, ExpiresMinutes: 1},
		}
		for i, in := range cases {
			if _, err := st.Create(ctx, in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
			}
		}
	})

	t.Run("bind_is_exclusive", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		mustCreateAssigned(t, st, "ABCD2345", 42, base)

		ok, err := st.Bind(ctx, "ABCD2345", "room-x", base.Add(time.Minute))
		if err != nil || !ok {
			t.Fatalf("first bind: ok=%v err=%v", ok, err)
		}
		ok, err = st.Bind(ctx, "ABCD2345", "room-y", base.Add(2*time.Minute))
		if err != nil {
			t.Fatalf("second bind: %v", err)
		}
		if ok {
			t.Fatalf("second bind must not succeed while in use")
		}

		got, err := st.Get(ctx, "ABCD2345")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.InUse || got.Room() != "room-x" || !got.InUseSince.Equal(base.Add(time.Minute)) || !got.Consistent() {
			t.Fatalf("unexpected lease state: %+v", got)
		}
	})

	t.Run("bind_requires_assigned", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		if _, err := st.Create(ctx, CreateRecord{Code: "AVAIL234", Status: StatusAvailable, ExpiresMinutes: 10, CreatedAt: base}); err != nil {
			t.Fatalf("create: %v", err)
		}
		ok, err := st.Bind(ctx, "AVAIL234", "room-x", base)
		if err != nil || ok {
			t.Fatalf("available code must not bind: ok=%v err=%v", ok, err)
		}
		ok, err = st.Bind(ctx, "MISSING2", "room-x", base)
		if err != nil || ok {
			t.Fatalf("missing code must not bind: ok=%v err=%v", ok, err)
		}
	})

	t.Run("concurrent_bind_single_winner", func(t *testing.T) {
		st := newStore(t)
		mustCreateAssigned(t, st, "RACE2345", 7, base)

		const workers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ok, err := st.Bind(context.Background(), "RACE2345", "room-x", base)
				if err != nil {
					t.Errorf("bind: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		if got := wins.Load(); got != 1 {
			t.Fatalf("expected exactly one winner, got %d", got)
		}
	})

	t.Run("touch_and_clear", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		mustCreateAssigned(t, st, "TOUCH234", 1, base)

		ok, err := st.Touch(ctx, "TOUCH234", base)
		if err != nil || ok {
			t.Fatalf("touch on unbound code must not apply: ok=%v err=%v", ok, err)
		}
		if _, err := st.Bind(ctx, "TOUCH234", "room-x", base); err != nil {
			t.Fatalf("bind: %v", err)
		}
		later := base.Add(90 * time.Second)
		ok, err = st.Touch(ctx, "TOUCH234", later)
		if err != nil || !ok {
			t.Fatalf("touch: ok=%v err=%v", ok, err)
		}
		got, _ := st.Get(ctx, "TOUCH234")
		if !got.InUseSince.Equal(later) || got.Room() != "room-x" {
			t.Fatalf("touch should only refresh in_use_since: %+v", got)
		}

		for i := 0; i < 2; i++ {
			if err := st.Clear(ctx, "TOUCH234"); err != nil {
				t.Fatalf("clear %d: %v", i, err)
			}
		}
		got, _ = st.Get(ctx, "TOUCH234")
		if got.InUse || !got.Consistent() {
			t.Fatalf("expected released lease: %+v", got)
		}
		if err := st.Clear(ctx, "MISSING2"); err != nil {
			t.Fatalf("clear of missing code should be a no-op: %v", err)
		}
	})

	t.Run("clear_stale_respects_cutoff", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		mustCreateAssigned(t, st, "STALE234", 1, base)
		if _, err := st.Bind(ctx, "STALE234", "room-x", base); err != nil {
			t.Fatalf("bind: %v", err)
		}

		ok, err := st.ClearStale(ctx, "STALE234", base.Add(-time.Second))
		if err != nil || ok {
			t.Fatalf("fresh lease must survive: ok=%v err=%v", ok, err)
		}
		ok, err = st.ClearStale(ctx, "STALE234", base)
		if err != nil || !ok {
			t.Fatalf("lease at cutoff must clear: ok=%v err=%v", ok, err)
		}
		ok, err = st.ClearStale(ctx, "STALE234", base)
		if err != nil || ok {
			t.Fatalf("second clear must be a no-op: ok=%v err=%v", ok, err)
		}
	})

	t.Run("sweep_stale", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		for i, code := range []string{"SWEEP2A2", "SWEEP2B2", "SWEEP2C2"} {
			mustCreateAssigned(t, st, code, int64(i+1), base)
			if _, err := st.Bind(ctx, code, "room", base.Add(time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("bind %s: %v", code, err)
			}
		}
		n, err := st.SweepStale(ctx, base.Add(time.Minute))
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 reclaimed, got %d", n)
		}
		got, _ := st.Get(ctx, "SWEEP2C2")
		if !got.InUse {
			t.Fatalf("newest lease should survive sweep")
		}
		n, err = st.SweepStale(ctx, base.Add(time.Minute))
		if err != nil || n != 0 {
			t.Fatalf("repeat sweep should be a no-op: n=%d err=%v", n, err)
		}
	})

	t.Run("delete_expired", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		old := base.Add(-48 * time.Hour)
		mustCreateAssigned(t, st, "OLD23456", 1, old)
		mustCreateAssigned(t, st, "NEW23456", 1, base)
		if _, err := st.Create(ctx, CreateRecord{Code: "AVL23456", Status: StatusAvailable, ExpiresMinutes: 1, CreatedAt: old}); err != nil {
			t.Fatalf("create available: %v", err)
		}

		// OLD expired at old+24h = base-24h; cutoff base-12h deletes it, NEW expires base+24h.
		n, err := st.DeleteExpired(ctx, base.Add(-12*time.Hour))
		if err != nil {
			t.Fatalf("delete expired: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 deleted, got %d", n)
		}
		if _, err := st.Get(ctx, "OLD23456"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expired code should be gone, got %v", err)
		}
		for _, code := range []string{"NEW23456", "AVL23456"} {
			if _, err := st.Get(ctx, code); err != nil {
				t.Fatalf("%s should survive: %v", code, err)
			}
		}
	})

	t.Run("assign", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		if _, err := st.Create(ctx, CreateRecord{Code: "POOL2345", Status: StatusAvailable, ExpiresMinutes: 60, CreatedAt: base}); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := st.Assign(ctx, "POOL2345", 99, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if got.Status != StatusAssigned || got.AssignedTo == nil || *got.AssignedTo != 99 || !got.AssignedAt.Equal(base.Add(time.Hour)) {
			t.Fatalf("unexpected assigned row: %+v", got)
		}
		if _, err := st.Assign(ctx, "POOL2345", 100, base); !errors.Is(err, ErrNotAvailable) {
			t.Fatalf("expected ErrNotAvailable, got %v", err)
		}
		if _, err := st.Assign(ctx, "MISSING2", 100, base); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list_and_stats", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		mustCreateAssigned(t, st, "HOLD2AAA", 5, base)
		mustCreateAssigned(t, st, "HOLD2BBB", 5, base.Add(time.Hour))
		mustCreateAssigned(t, st, "OTHER222", 6, base)
		if _, err := st.Create(ctx, CreateRecord{Code: "FREE2222", Status: StatusAvailable, ExpiresMinutes: 60, CreatedAt: base.Add(2 * time.Hour)}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := st.Bind(ctx, "OTHER222", "room", base); err != nil {
			t.Fatalf("bind: %v", err)
		}

		mine, err := st.ListByHolder(ctx, 5)
		if err != nil {
			t.Fatalf("list by holder: %v", err)
		}
		if len(mine) != 2 || mine[0].Code != "HOLD2BBB" || mine[1].Code != "HOLD2AAA" {
			t.Fatalf("unexpected holder listing: %+v", mine)
		}

		all, err := st.List(ctx, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 2 || all[0].Code != "FREE2222" {
			t.Fatalf("unexpected listing: %+v", all)
		}

		stats, err := st.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		want := Stats{Total: 4, Available: 1, Assigned: 3, InUse: 1}
		if stats != want {
			t.Fatalf("stats: got %+v want %+v", stats, want)
		}

		deleted, err := st.Delete(ctx, "FREE2222")
		if err != nil || !deleted {
			t.Fatalf("delete: deleted=%v err=%v", deleted, err)
		}
		deleted, err = st.Delete(ctx, "FREE2222")
		if err != nil || deleted {
			t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
		}
	})
}
