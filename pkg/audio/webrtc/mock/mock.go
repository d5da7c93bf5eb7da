// Package mock provides in-memory implementations of the [webrtc.Factory],
// [webrtc.PeerConnection], [webrtc.DataChannel], [webrtc.LocalTrack] and
// [webrtc.RemoteTrack] interfaces for use in unit tests.
//
// Tests drive the mocks from the "remote" side with methods such as
// [PeerConnection.FireGatheringComplete], [PeerConnection.FireCandidate] and
// [DataChannel.Deliver], and inspect what the code under test did through the
// exported call counters. All mocks are safe for concurrent use.
package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio/webrtc"
)

// ErrClosed is returned by operations on a closed mock.
var ErrClosed = errors.New("mock: closed")

// ─── Factory ──────────────────────────────────────────────────────────────────

// Factory is a mock implementation of [webrtc.Factory]. Each call returns a
// fresh [PeerConnection] configured from the template fields.
type Factory struct {
	mu sync.Mutex

	// NewError, when non-nil, is returned by NewPeerConnection.
	NewError error

	// OfferSDP is returned by LocalDescription on created peers.
	OfferSDP string

	// GatherOnOffer makes created peers report gathering complete as soon as
	// CreateOffer is called, without firing any handler.
	GatherOnOffer bool

	// Configure, if set, is applied to each created peer before it is returned.
	Configure func(*PeerConnection)

	// Peers holds every peer created so far.
	Peers []*PeerConnection
}

var _ webrtc.Factory = (*Factory)(nil)

// NewPeerConnection implements [webrtc.Factory].
func (f *Factory) NewPeerConnection() (webrtc.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewError != nil {
		return nil, f.NewError
	}
	p := &PeerConnection{OfferSDP: f.OfferSDP, GatherOnOffer: f.GatherOnOffer}
	if f.Configure != nil {
		f.Configure(p)
	}
	f.Peers = append(f.Peers, p)
	return p, nil
}

// Last returns the most recently created peer, or nil.
func (f *Factory) Last() *PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Peers) == 0 {
		return nil
	}
	return f.Peers[len(f.Peers)-1]
}

// ─── PeerConnection ───────────────────────────────────────────────────────────

// PeerConnection is a mock implementation of [webrtc.PeerConnection].
type PeerConnection struct {
	mu sync.Mutex

	// OfferSDP is returned by LocalDescription once CreateOffer succeeded.
	OfferSDP string

	// GatherOnOffer marks gathering complete when CreateOffer is called.
	GatherOnOffer bool

	// Error fields, when non-nil, are returned by the respective methods.
	AddTrackError     error
	DataChannelError  error
	CreateOfferError  error
	RemoteAnswerError error

	// Remote answer applied by SetRemoteAnswer.
	RemoteAnswer string

	// Channels holds every data channel created on this peer.
	Channels []*DataChannel

	// Track is the local track returned by AddAudioTrack.
	Track *LocalTrack

	// CallCountClose records how many times Close was called.
	CallCountClose int

	offered    bool
	gathered   bool
	onTrack    func(webrtc.RemoteTrack)
	onGathered func()
	onCand     func(string, bool)
	onState    func(webrtc.ConnectionState)
}

var _ webrtc.PeerConnection = (*PeerConnection)(nil)

// AddAudioTrack implements [webrtc.PeerConnection].
func (p *PeerConnection) AddAudioTrack() (webrtc.LocalTrack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AddTrackError != nil {
		return nil, p.AddTrackError
	}
	p.Track = &LocalTrack{}
	return p.Track, nil
}

// OnRemoteTrack implements [webrtc.PeerConnection].
func (p *PeerConnection) OnRemoteTrack(f func(webrtc.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = f
	p.mu.Unlock()
}

// CreateDataChannel implements [webrtc.PeerConnection].
func (p *PeerConnection) CreateDataChannel(label string) (webrtc.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DataChannelError != nil {
		return nil, p.DataChannelError
	}
	dc := &DataChannel{label: label}
	p.Channels = append(p.Channels, dc)
	return dc, nil
}

// CreateOffer implements [webrtc.PeerConnection].
func (p *PeerConnection) CreateOffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateOfferError != nil {
		return p.CreateOfferError
	}
	p.offered = true
	if p.GatherOnOffer {
		p.gathered = true
	}
	return nil
}

// LocalDescription implements [webrtc.PeerConnection].
func (p *PeerConnection) LocalDescription() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.offered {
		return ""
	}
	return p.OfferSDP
}

// SetRemoteAnswer implements [webrtc.PeerConnection].
func (p *PeerConnection) SetRemoteAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RemoteAnswerError != nil {
		return p.RemoteAnswerError
	}
	p.RemoteAnswer = sdp
	return nil
}

// GatheringComplete implements [webrtc.PeerConnection].
func (p *PeerConnection) GatheringComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gathered
}

// OnGatheringComplete implements [webrtc.PeerConnection].
func (p *PeerConnection) OnGatheringComplete(f func()) {
	p.mu.Lock()
	p.onGathered = f
	p.mu.Unlock()
}

// OnICECandidate implements [webrtc.PeerConnection].
func (p *PeerConnection) OnICECandidate(f func(string, bool)) {
	p.mu.Lock()
	p.onCand = f
	p.mu.Unlock()
}

// OnConnectionStateChange implements [webrtc.PeerConnection].
func (p *PeerConnection) OnConnectionStateChange(f func(webrtc.ConnectionState)) {
	p.mu.Lock()
	p.onState = f
	p.mu.Unlock()
}

// Close implements [webrtc.PeerConnection].
func (p *PeerConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return nil
}

// Closes returns how many times Close was called.
func (p *PeerConnection) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountClose
}

// HasGatheringHandlers reports whether a gathering-complete or candidate
// handler is currently registered.
func (p *PeerConnection) HasGatheringHandlers() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onGathered != nil || p.onCand != nil
}

// FireGatheringComplete marks gathering complete and calls the registered
// handler, if any.
func (p *PeerConnection) FireGatheringComplete() {
	p.mu.Lock()
	p.gathered = true
	h := p.onGathered
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

// FireCandidate calls the registered candidate handler, if any.
func (p *PeerConnection) FireCandidate(candidate string, final bool) {
	p.mu.Lock()
	h := p.onCand
	p.mu.Unlock()
	if h != nil {
		h(candidate, final)
	}
}

// FireState calls the registered connection-state handler, if any.
func (p *PeerConnection) FireState(s webrtc.ConnectionState) {
	p.mu.Lock()
	h := p.onState
	p.mu.Unlock()
	if h != nil {
		h(s)
	}
}

// FireRemoteTrack calls the registered remote-track handler, if any.
func (p *PeerConnection) FireRemoteTrack(t webrtc.RemoteTrack) {
	p.mu.Lock()
	h := p.onTrack
	p.mu.Unlock()
	if h != nil {
		h(t)
	}
}

// Channel returns the first data channel, or nil.
func (p *PeerConnection) Channel() *DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Channels) == 0 {
		return nil
	}
	return p.Channels[0]
}

// ─── DataChannel ──────────────────────────────────────────────────────────────

// DataChannel is a mock implementation of [webrtc.DataChannel].
type DataChannel struct {
	mu        sync.Mutex
	label     string
	open      bool
	closes    int
	sent      []string
	onOpen    func()
	onClose   func()
	onMessage func([]byte)

	// SendError, when non-nil, is returned by SendText.
	SendError error
}

var _ webrtc.DataChannel = (*DataChannel)(nil)

// Label implements [webrtc.DataChannel].
func (d *DataChannel) Label() string { return d.label }

// OnOpen implements [webrtc.DataChannel].
func (d *DataChannel) OnOpen(f func()) {
	d.mu.Lock()
	d.onOpen = f
	d.mu.Unlock()
}

// OnClose implements [webrtc.DataChannel].
func (d *DataChannel) OnClose(f func()) {
	d.mu.Lock()
	d.onClose = f
	d.mu.Unlock()
}

// OnMessage implements [webrtc.DataChannel].
func (d *DataChannel) OnMessage(f func([]byte)) {
	d.mu.Lock()
	d.onMessage = f
	d.mu.Unlock()
}

// SendText implements [webrtc.DataChannel]. Sent text is recorded.
func (d *DataChannel) SendText(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendError != nil {
		return d.SendError
	}
	if !d.open {
		return ErrClosed
	}
	d.sent = append(d.sent, text)
	return nil
}

// IsOpen implements [webrtc.DataChannel].
func (d *DataChannel) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Close implements [webrtc.DataChannel].
func (d *DataChannel) Close() error {
	d.mu.Lock()
	d.closes++
	wasOpen := d.open
	d.open = false
	h := d.onClose
	d.mu.Unlock()
	if wasOpen && h != nil {
		h()
	}
	return nil
}

// Open marks the channel open and calls the open handler.
func (d *DataChannel) Open() {
	d.mu.Lock()
	d.open = true
	h := d.onOpen
	d.mu.Unlock()
	if h != nil {
		h()
	}
}

// RemoteClose simulates the remote side closing the channel. It is not
// counted by Closes.
func (d *DataChannel) RemoteClose() {
	d.mu.Lock()
	wasOpen := d.open
	d.open = false
	h := d.onClose
	d.mu.Unlock()
	if wasOpen && h != nil {
		h()
	}
}

// Deliver simulates an inbound message from the remote side.
func (d *DataChannel) Deliver(data []byte) {
	d.mu.Lock()
	h := d.onMessage
	d.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// Sent returns a copy of every text sent on the channel.
func (d *DataChannel) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

// Closes returns how many times Close was called.
func (d *DataChannel) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// ─── Tracks ───────────────────────────────────────────────────────────────────

// LocalTrack is a mock implementation of [webrtc.LocalTrack].
type LocalTrack struct {
	mu      sync.Mutex
	samples [][]byte
}

var _ webrtc.LocalTrack = (*LocalTrack)(nil)

// WriteSample implements [webrtc.LocalTrack].
func (l *LocalTrack) WriteSample(packet []byte, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, append([]byte(nil), packet...))
	return nil
}

// Samples returns the number of samples written.
func (l *LocalTrack) Samples() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

// RemoteTrack is a mock implementation of [webrtc.RemoteTrack]. Payloads
// pushed with Push are returned by ReadPayload in order; Close ends the track.
type RemoteTrack struct {
	TrackKind string

	once sync.Once
	ch   chan []byte
	done chan struct{}
}

var _ webrtc.RemoteTrack = (*RemoteTrack)(nil)

// NewRemoteTrack returns an open mock remote track of the given kind.
func NewRemoteTrack(kind string) *RemoteTrack {
	return &RemoteTrack{TrackKind: kind, ch: make(chan []byte, 64), done: make(chan struct{})}
}

// Kind implements [webrtc.RemoteTrack].
func (r *RemoteTrack) Kind() string { return r.TrackKind }

// ReadPayload implements [webrtc.RemoteTrack].
func (r *RemoteTrack) ReadPayload() ([]byte, error) {
	select {
	case p := <-r.ch:
		return p, nil
	case <-r.done:
		return nil, ErrClosed
	}
}

// Push queues a payload for ReadPayload.
func (r *RemoteTrack) Push(p []byte) { r.ch <- p }

// Close ends the track.
func (r *RemoteTrack) Close() { r.once.Do(func() { close(r.done) }) }
