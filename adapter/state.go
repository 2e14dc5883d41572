package adapter

import "wgnt/internal/check"

// State is the host-side lifecycle state of an Adapter.
type State uint8

const (
	StateAbsent State = iota
	StateOpened
	StateCreated
	StateConfigured
	StateUp
	StateDown
	StateDeleted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateOpened:
		return "opened"
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	case StateDeleted:
		return "deleted"
	case StateClosed:
		return "closed"
	default:
		check.Assertf(false, "unknown adapter state: %d", s)
		return "unknown"
	}
}

// Terminal reports whether no operation is valid in s any more.
func (s State) Terminal() bool {
	return s == StateDeleted || s == StateClosed
}

// Live reports whether s holds a usable native handle.
func (s State) Live() bool {
	return s != StateAbsent && !s.Terminal()
}

// CanToggle reports whether Up and Down are valid in s.
func (s State) CanToggle() bool {
	switch s {
	case StateConfigured, StateUp, StateDown:
		return true
	default:
		return false
	}
}

// afterConfig is the state a successful SetConfig leaves behind. An adapter
// already brought up or down keeps that state.
func (s State) afterConfig() State {
	switch s {
	case StateOpened, StateCreated:
		return StateConfigured
	default:
		return s
	}
}
