package orchestrator

import "fmt"

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateConnectedPrimary
	StateConnectedFallback
	// StateReconnecting is the transient overlay while failing over from primary to fallback.
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateConnectedPrimary:
		return "connected_primary"
	case StateConnectedFallback:
		return "connected_fallback"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateDisconnected }

// transitions lists the allowed edges. Anything else is a bug.
var transitions = map[State][]State{
	StateIdle:              {StateRequesting, StateDisconnected},
	StateRequesting:        {StateConnectedPrimary, StateConnectedFallback, StateDisconnected},
	StateConnectedPrimary:  {StateReconnecting, StateDisconnected},
	StateReconnecting:      {StateConnectedFallback, StateDisconnected},
	StateConnectedFallback: {StateDisconnected},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
