package audioboot

import (
	"fmt"
	"sync/atomic"
)

// State is the coarse operating state shown to the operator.
type State int32

const (
	StateWaiting State = iota
	StateReceiving
	StateError
	StateWriting

	// StateDone is entered once end of transmission is seen; only
	// relocation and the handoff follow.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateReceiving:
		return "receiving"
	case StateError:
		return "error"
	case StateWriting:
		return "writing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Allowed reports whether the machine may move from s to next.
func (s State) Allowed(next State) bool {
	if next == StateError {
		return true
	}

	switch s {
	case StateWaiting:
		return next == StateReceiving || next == StateDone
	case StateReceiving:
		return next == StateReceiving || next == StateWriting || next == StateDone
	case StateWriting:
		return next == StateReceiving || next == StateWriting || next == StateDone
	case StateError:
		return next == StateWaiting
	default:
		return false
	}
}

// StateCell holds the state.  The main loop is the only writer; the
// audio and tick goroutines read it and can live with a stale value.
type StateCell struct {
	v     atomic.Int32
	fault atomic.Int32
}

func (c *StateCell) Load() State {
	return State(c.v.Load())
}

// Fault is the fault that put the machine in StateError.
func (c *StateCell) Fault() FaultKind {
	return FaultKind(c.fault.Load())
}

// Set moves to next, returning false and leaving the state alone if the
// transition is not allowed.
func (c *StateCell) Set(next State) bool {
	if !c.Load().Allowed(next) {
		return false
	}
	if next != StateError {
		c.fault.Store(int32(FaultNone))
	}
	c.v.Store(int32(next))
	return true
}

// Fail enters StateError recording why.
func (c *StateCell) Fail(kind FaultKind) {
	c.fault.Store(int32(kind))
	c.v.Store(int32(StateError))
}

// Reset forces StateWaiting.  Used at (re)initialisation only.
func (c *StateCell) Reset() {
	c.fault.Store(int32(FaultNone))
	c.v.Store(int32(StateWaiting))
}
