package lease

import (
	"context"
	"time"
)

// CreateRecord is a normalized insert payload for a new code.
type CreateRecord struct {
	Code           string
	Status         Status
	AssignedTo     *int64
	AssignedAt     *time.Time
	ExpiresMinutes int
	Note           *string
	CreatedAt      time.Time
}

// Stats summarizes the pool.
type Stats struct {
	Total     int64
	Available int64
	Assigned  int64
	InUse     int64
}

// Store is the persistence boundary for auth codes.
//
// Lease mutations are conditional single statements so that concurrent
// workers (possibly in other processes) coordinate through the table alone:
//   - Bind only succeeds while in_use is false; this is the sole source of exclusivity.
//   - ClearStale and SweepStale only clear leases whose in_use_since is at or before cutoff,
//     so a lease bound after the caller's snapshot is never undone.
//   - Touch only refreshes bound leases.
//   - Clear is unconditional and idempotent.
type Store interface {
	Get(ctx context.Context, code string) (AuthCode, error)

	// Bind sets in_use, in_use_since=now and bound_room=room when the code is assigned and unbound.
	// It reports whether this call performed the bind.
	Bind(ctx context.Context, code, room string, now time.Time) (bool, error)
	// ClearStale releases the lease of one code if in_use_since <= cutoff.
	ClearStale(ctx context.Context, code string, cutoff time.Time) (bool, error)
	// Touch refreshes in_use_since for a bound code.
	Touch(ctx context.Context, code string, now time.Time) (bool, error)
	// Clear releases the lease unconditionally.
	Clear(ctx context.Context, code string) error

	// SweepStale releases every lease with in_use_since <= cutoff.
	SweepStale(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteExpired removes assigned codes whose assigned_at + expires_minutes is before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)

	Create(ctx context.Context, in CreateRecord) (AuthCode, error)
	// Assign moves an available code to assigned for holder.
	Assign(ctx context.Context, code string, holder int64, now time.Time) (AuthCode, error)
	Delete(ctx context.Context, code string) (bool, error)
	ListByHolder(ctx context.Context, holder int64) ([]AuthCode, error)
	List(ctx context.Context, limit int) ([]AuthCode, error)
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

const (
	defaultListLimit = 30
	maxListLimit     = 500
	maxNoteLen       = 512
	maxCodeLen       = 64
	maxRoomLen       = 256
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func validateCreate(in CreateRecord) error {
	code := NormalizeCode(in.Code)
	if code == "" || len(code) > maxCodeLen {
		return ErrInvalidInput
	}
	if !in.Status.Valid() {
		return ErrInvalidInput
	}
	if in.ExpiresMinutes <= 0 {
		return ErrInvalidInput
	}
	if in.Status == StatusAssigned && in.AssignedAt == nil {
		return ErrInvalidInput
	}
	if in.Note != nil && len(*in.Note) > maxNoteLen {
		return ErrInvalidInput
	}
	return nil
}

func validateBind(code, room string) error {
	if NormalizeCode(code) == "" || len(code) > maxCodeLen {
		return ErrInvalidInput
	}
	if room == "" || len(room) > maxRoomLen {
		return ErrInvalidInput
	}
	return nil
}
