// Package session holds the state of one live conversation: its identity, the
// transport that carries it, the protocol state machine, and the short-lived
// credential used to open it.
//
// A Session is owned by exactly one negotiator, relay client or relay
// connection and is never shared between them.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/voxbridge/pkg/realtime"
)

// Transport identifies how a session reaches the provider.
type Transport string

const (
	// TransportPeer is a direct WebRTC peer connection to the provider.
	TransportPeer Transport = "peer"

	// TransportRelayedSocket is a WebSocket to the relay, which holds the
	// provider connection.
	TransportRelayedSocket Transport = "relayed-socket"
)

// Session is one conversation. The zero value is not usable; create one with
// [New].
type Session struct {
	id        string
	transport Transport
	machine   *realtime.Machine

	mu         sync.Mutex
	credential []byte
}

// New creates a session in [realtime.StateIdle] with a fresh random id.
// onChange observes every state transition and may be nil.
func New(transport Transport, onChange func(realtime.Transition)) *Session {
	return &Session{
		id:        uuid.NewString(),
		transport: transport,
		machine:   realtime.NewMachine(onChange),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Transport returns the transport kind.
func (s *Session) Transport() Transport { return s.transport }

// Machine returns the session's state machine.
func (s *Session) Machine() *realtime.Machine { return s.machine }

// State is shorthand for s.Machine().State().
func (s *Session) State() realtime.State { return s.machine.State() }

// SetCredential takes a private copy of secret.
func (s *Session) SetCredential(secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.credential)
	s.credential = []byte(secret)
}

// Credential returns the credential as a string for use in a request header,
// or "" after [Session.DiscardCredential].
func (s *Session) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.credential)
}

// HasCredential reports whether a non-empty credential is held.
func (s *Session) HasCredential() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.credential) > 0
}

// DiscardCredential overwrites the held credential and drops it. It is safe
// to call more than once.
func (s *Session) DiscardCredential() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.credential)
	s.credential = nil
}
