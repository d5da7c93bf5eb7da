package realtime

import (
	"errors"
	"fmt"
	"sync"
)

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingSessionCreated
	StateConfiguring
	StateActive
	StateClosing
	StateClosed
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSessionCreated:
		return "awaiting_session_created"
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// ErrInvalidTransition is returned when a transition is not allowed from the
// current state.
var ErrInvalidTransition = errors.New("realtime: invalid state transition")

// forward lists the single allowed successor of each state on the happy path.
// Closing and Error are handled separately.
var forward = map[State]State{
	StateIdle:                   StateConnecting,
	StateConnecting:             StateAwaitingSessionCreated,
	StateAwaitingSessionCreated: StateConfiguring,
	StateConfiguring:            StateActive,
	StateClosing:                StateClosed,
}

// Transition describes a state change observed by a [Machine].
type Transition struct {
	From State
	To   State

	// Err is the cause when To is StateError.
	Err error
}

// Machine is the protocol state machine shared by all transports. It rejects
// out-of-order transitions and never leaves a terminal state.
//
// Observers registered with [NewMachine] are called after the lock is
// released, in transition order. Machine is safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange func(Transition)

	// notifyMu serialises observer calls so they arrive in order.
	notifyMu sync.Mutex
}

// NewMachine returns a Machine in [StateIdle]. onChange may be nil.
func NewMachine(onChange func(Transition)) *Machine {
	return &Machine{state: StateIdle, onChange: onChange}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To moves the machine to the given state. Allowed moves are the forward
// happy-path step, Closing from any non-terminal state except Closing itself,
// and Closed from Closing.
func (m *Machine) To(to State) error {
	if to == StateError {
		return fmt.Errorf("%w: use Fail to enter %s", ErrInvalidTransition, to)
	}
	m.mu.Lock()
	from := m.state
	ok := false
	switch {
	case from.Terminal():
	case to == StateClosing:
		ok = from != StateClosing
	default:
		ok = forward[from] == to
	}
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	m.notifyMu.Lock()
	m.mu.Unlock()
	m.notify(Transition{From: from, To: to})
	return nil
}

// Fail moves any non-terminal state to [StateError]. It returns false if the
// machine was already terminal.
func (m *Machine) Fail(cause error) bool {
	m.mu.Lock()
	from := m.state
	if from.Terminal() {
		m.mu.Unlock()
		return false
	}
	m.state = StateError
	m.notifyMu.Lock()
	m.mu.Unlock()
	m.notify(Transition{From: from, To: StateError, Err: cause})
	return true
}

// notify must be called with notifyMu held; it releases it.
func (m *Machine) notify(t Transition) {
	defer m.notifyMu.Unlock()
	if m.onChange != nil {
		m.onChange(t)
	}
}
