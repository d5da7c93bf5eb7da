package webrtc

import (
	"fmt"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Compile-time interface assertions.
var (
	_ Factory        = (*Pion)(nil)
	_ PeerConnection = (*pionPeer)(nil)
	_ DataChannel    = (*pionChannel)(nil)
	_ LocalTrack     = (*pionLocalTrack)(nil)
	_ RemoteTrack    = (*pionRemoteTrack)(nil)
)

// Option configures a [Pion] factory.
type Option func(*Pion)

// WithICEServers sets the STUN/TURN server URLs used during ICE gathering.
// Defaults to ["stun:stun.l.google.com:19302"]. Passing no URLs disables
// server-reflexive candidates.
func WithICEServers(urls ...string) Option {
	return func(p *Pion) {
		p.iceServers = urls
	}
}

// Pion creates peer connections backed by pion/webrtc.
//
// Pion is safe for concurrent use.
type Pion struct {
	iceServers []string // immutable after New
	api        *pion.API
}

// New creates a pion-backed [Factory] with the default codecs registered.
func New(opts ...Option) (*Pion, error) {
	p := &Pion{iceServers: []string{"stun:stun.l.google.com:19302"}}
	for _, o := range opts {
		o(p)
	}

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("webrtc: register codecs: %w", err)
	}
	p.api = pion.NewAPI(pion.WithMediaEngine(m))
	return p, nil
}

// NewPeerConnection implements [Factory].
func (p *Pion) NewPeerConnection() (PeerConnection, error) {
	cfg := pion.Configuration{}
	if len(p.iceServers) > 0 {
		cfg.ICEServers = []pion.ICEServer{{URLs: p.iceServers}}
	}
	pc, err := p.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("webrtc: new peer connection: %w", err)
	}

	peer := &pionPeer{pc: pc}
	// Pion handlers are registered exactly once; the swappable fields below
	// decide who receives them.
	pc.OnTrack(func(t *pion.TrackRemote, _ *pion.RTPReceiver) {
		if h := peer.handlers().onTrack; h != nil {
			h(&pionRemoteTrack{t: t})
		}
	})
	pc.OnICEGatheringStateChange(func(s pion.ICEGatheringState) {
		if s != pion.ICEGatheringStateComplete {
			return
		}
		if h := peer.handlers().onGathered; h != nil {
			h()
		}
	})
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		h := peer.handlers().onCandidate
		if h == nil {
			return
		}
		if c == nil {
			h("", true)
			return
		}
		h(c.ToJSON().Candidate, false)
	})
	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		if h := peer.handlers().onState; h != nil {
			h(convertState(s))
		}
	})
	return peer, nil
}

type peerHandlers struct {
	onTrack     func(RemoteTrack)
	onGathered  func()
	onCandidate func(string, bool)
	onState     func(ConnectionState)
}

type pionPeer struct {
	pc *pion.PeerConnection

	mu sync.Mutex
	h  peerHandlers
}

func (p *pionPeer) handlers() peerHandlers {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h
}

func (p *pionPeer) AddAudioTrack() (LocalTrack, error) {
	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "voxbridge",
	)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create audio track: %w", err)
	}
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("webrtc: add audio track: %w", err)
	}
	// RTCP must be read for interceptors (NACK, reports) to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return &pionLocalTrack{t: track}, nil
}

func (p *pionPeer) OnRemoteTrack(f func(RemoteTrack)) {
	p.mu.Lock()
	p.h.onTrack = f
	p.mu.Unlock()
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create data channel %q: %w", label, err)
	}
	ch := &pionChannel{dc: dc}
	dc.OnOpen(func() {
		if h := ch.handlers().onOpen; h != nil {
			h()
		}
	})
	dc.OnClose(func() {
		if h := ch.handlers().onClose; h != nil {
			h()
		}
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		if h := ch.handlers().onMessage; h != nil {
			h(msg.Data)
		}
	})
	return ch, nil
}

func (p *pionPeer) CreateOffer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("webrtc: create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("webrtc: set local description: %w", err)
	}
	return nil
}

func (p *pionPeer) LocalDescription() string {
	if d := p.pc.LocalDescription(); d != nil {
		return d.SDP
	}
	return ""
}

func (p *pionPeer) SetRemoteAnswer(sdp string) error {
	err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("webrtc: set remote description: %w", err)
	}
	return nil
}

func (p *pionPeer) GatheringComplete() bool {
	return p.pc.ICEGatheringState() == pion.ICEGatheringStateComplete
}

func (p *pionPeer) OnGatheringComplete(f func()) {
	p.mu.Lock()
	p.h.onGathered = f
	p.mu.Unlock()
}

func (p *pionPeer) OnICECandidate(f func(string, bool)) {
	p.mu.Lock()
	p.h.onCandidate = f
	p.mu.Unlock()
}

func (p *pionPeer) OnConnectionStateChange(f func(ConnectionState)) {
	p.mu.Lock()
	p.h.onState = f
	p.mu.Unlock()
}

func (p *pionPeer) Close() error {
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("webrtc: close peer connection: %w", err)
	}
	return nil
}

func convertState(s pion.PeerConnectionState) ConnectionState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return ConnectionStateConnecting
	case pion.PeerConnectionStateConnected:
		return ConnectionStateConnected
	case pion.PeerConnectionStateDisconnected:
		return ConnectionStateDisconnected
	case pion.PeerConnectionStateFailed:
		return ConnectionStateFailed
	case pion.PeerConnectionStateClosed:
		return ConnectionStateClosed
	default:
		return ConnectionStateNew
	}
}

// ─── tracks ───────────────────────────────────────────────────────────────────

type pionLocalTrack struct {
	t *pion.TrackLocalStaticSample
}

func (l *pionLocalTrack) WriteSample(packet []byte, d time.Duration) error {
	return l.t.WriteSample(media.Sample{Data: packet, Duration: d})
}

type pionRemoteTrack struct {
	t *pion.TrackRemote
}

func (r *pionRemoteTrack) Kind() string { return r.t.Kind().String() }

func (r *pionRemoteTrack) ReadPayload() ([]byte, error) {
	pkt, _, err := r.t.ReadRTP()
	if err != nil {
		return nil, err
	}
	return pkt.Payload, nil
}

// ─── data channel ─────────────────────────────────────────────────────────────

type channelHandlers struct {
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

type pionChannel struct {
	dc *pion.DataChannel

	mu sync.Mutex
	h  channelHandlers
}

func (c *pionChannel) handlers() channelHandlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

func (c *pionChannel) Label() string { return c.dc.Label() }

func (c *pionChannel) OnOpen(f func()) {
	c.mu.Lock()
	c.h.onOpen = f
	c.mu.Unlock()
}

func (c *pionChannel) OnClose(f func()) {
	c.mu.Lock()
	c.h.onClose = f
	c.mu.Unlock()
}

func (c *pionChannel) OnMessage(f func([]byte)) {
	c.mu.Lock()
	c.h.onMessage = f
	c.mu.Unlock()
}

func (c *pionChannel) SendText(text string) error {
	if err := c.dc.SendText(text); err != nil {
		return fmt.Errorf("webrtc: send on %q: %w", c.dc.Label(), err)
	}
	return nil
}

func (c *pionChannel) IsOpen() bool {
	return c.dc.ReadyState() == pion.DataChannelStateOpen
}

func (c *pionChannel) Close() error {
	return c.dc.Close()
}
