package lease

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(t *testing.T) Store { return NewInMemoryStore() })
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	holder := int64(1)
	if _, err := st.Create(ctx, CreateRecord{Code: "COPY2345", Status: StatusAssigned, AssignedTo: &holder, AssignedAt: &now, ExpiresMinutes: 10}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.Bind(ctx, "COPY2345", "room-x", now); err != nil {
		t.Fatalf("bind: %v", err)
	}

	got, _ := st.Get(ctx, "COPY2345")
	*got.BoundRoom = "mutated"
	*got.AssignedTo = 999

	again, _ := st.Get(ctx, "COPY2345")
	if again.Room() != "room-x" || *again.AssignedTo != 1 {
		t.Fatalf("store state leaked through returned value: %+v", again)
	}
}

func TestInMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Bind(ctx, "ABCD2345", "room", time.Now()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
