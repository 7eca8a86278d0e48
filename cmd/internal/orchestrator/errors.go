package orchestrator

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("room, identity and code are required")
	ErrAlreadyStarted = errors.New("session already started")
	ErrInvalidConfig  = errors.New("invalid session config")
	// ErrLeft is the terminal reason after an explicit Leave.
	ErrLeft = errors.New("left the session")
	// ErrTransportConnectFailed means every available endpoint refused the connection.
	ErrTransportConnectFailed = errors.New("transport connect failed")
	// ErrLinkLost means an established link dropped and no failover was left.
	ErrLinkLost = errors.New("transport link lost")
	// ErrInvalidTransition signals a bug in the state machine.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// RejectedError is an admission rejection. Reason is shown to the user verbatim.
type RejectedError struct {
	Status int
	Code   string
	Reason string
	// Room is set for room conflicts.
	Room string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("admission rejected (%d %s)", e.Status, e.Code)
}

func connectFailed(primary, fallback error) error {
	if fallback == nil {
		return fmt.Errorf("%w: primary: %w", ErrTransportConnectFailed, primary)
	}
	if primary == nil {
		return fmt.Errorf("%w: fallback: %w", ErrTransportConnectFailed, fallback)
	}
	return fmt.Errorf("%w: primary: %w; fallback: %w", ErrTransportConnectFailed, primary, fallback)
}

func linkLost(cause error) error {
	if cause == nil {
		return ErrLinkLost
	}
	return fmt.Errorf("%w: %w", ErrLinkLost, cause)
}
