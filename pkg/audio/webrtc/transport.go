// Package webrtc provides the peer transport used by the session negotiator:
// one WebRTC peer connection per session carrying a local microphone track, a
// remote audio track, and the control data channel.
//
// The negotiator depends only on the narrow interfaces in this file. [Pion]
// implements them with pion/webrtc; the mock subpackage implements them for
// tests. [AudioLink] wires a capturer and a sink to the two audio tracks.
package webrtc

import "time"

// ConnectionState is the state of a peer connection.
type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

// String returns the human-readable name of the state.
func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Factory creates peer connections.
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PeerConnection is a single WebRTC peer connection.
//
// Every On* method replaces the previous handler; passing nil removes it.
// Handlers run on transport goroutines and must not block.
type PeerConnection interface {
	// AddAudioTrack adds a send-only Opus audio track.
	AddAudioTrack() (LocalTrack, error)

	// OnRemoteTrack registers the handler for remote media tracks.
	OnRemoteTrack(func(RemoteTrack))

	// CreateDataChannel creates an ordered, reliable data channel.
	CreateDataChannel(label string) (DataChannel, error)

	// CreateOffer creates an SDP offer, sets it as the local description, and
	// starts ICE gathering.
	CreateOffer() error

	// LocalDescription returns the current local SDP, including every ICE
	// candidate gathered so far.
	LocalDescription() string

	// SetRemoteAnswer applies the remote SDP answer.
	SetRemoteAnswer(sdp string) error

	// GatheringComplete reports whether ICE gathering has finished.
	GatheringComplete() bool

	// OnGatheringComplete registers a handler fired when the gathering state
	// becomes complete.
	OnGatheringComplete(func())

	// OnICECandidate registers a handler for each gathered candidate. The
	// handler is called with final set once gathering has signalled the end of
	// candidates.
	OnICECandidate(func(candidate string, final bool))

	// OnConnectionStateChange registers a handler for connection state changes.
	OnConnectionStateChange(func(ConnectionState))

	// Close tears down the connection and all tracks and channels on it.
	Close() error
}

// LocalTrack is an outbound audio track.
type LocalTrack interface {
	// WriteSample sends one encoded packet covering duration d.
	WriteSample(packet []byte, d time.Duration) error
}

// RemoteTrack is an inbound media track.
type RemoteTrack interface {
	// Kind returns "audio" or "video".
	Kind() string

	// ReadPayload blocks until the next media packet and returns its payload.
	// It returns an error once the track or connection is closed.
	ReadPayload() ([]byte, error)
}

// DataChannel is a bidirectional message channel on a peer connection.
type DataChannel interface {
	Label() string
	OnOpen(func())
	OnClose(func())
	OnMessage(func(data []byte))
	SendText(text string) error
	IsOpen() bool
	Close() error
}
