package admission

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConfig       = errors.New("invalid admission config")

	// ErrCodeNotFound means no record matches the code.
	ErrCodeNotFound = errors.New("auth code not found")
	// ErrNotActivated means the code exists but was never assigned.
	ErrNotActivated = errors.New("auth code not activated")
	// ErrRoomConflict is matched by every *RoomConflictError.
	ErrRoomConflict = errors.New("auth code in use in another room")
	// ErrStoreUnavailable wraps infrastructure failures. Its message is safe to show; the wrapped cause is not.
	ErrStoreUnavailable = errors.New("lease store unavailable")
	// ErrCodeSpaceExhausted is returned when code generation keeps colliding.
	ErrCodeSpaceExhausted = errors.New("could not generate a unique auth code")

	// errLeaseExpiredRace marks a lost bind race; Admit resolves it by validating again.
	errLeaseExpiredRace = errors.New("lease changed between validate and bind")
)

// RoomConflictError names the room the code is currently bound to.
type RoomConflictError struct {
	Room string
}

func (e *RoomConflictError) Error() string {
	return fmt.Sprintf("auth code is in use in room %q", e.Room)
}

func (e *RoomConflictError) Unwrap() error { return ErrRoomConflict }

// storeErr keeps ErrStoreUnavailable matchable while retaining the cause for logs.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
