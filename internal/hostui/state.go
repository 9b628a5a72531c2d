package hostui

import (
	"fmt"
)

// State is the lifecycle of the embedded-content surface.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateReady
	StateDismissing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateDismissing:
		return "dismissing"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[State][]State{
	StateClosed:     {StateOpening},
	StateOpening:    {StateOpening, StateReady, StateDismissing, StateClosed},
	StateReady:      {StateOpening, StateDismissing, StateClosed},
	StateDismissing: {StateOpening, StateClosed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
