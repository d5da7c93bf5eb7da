// Package negotiator opens client sessions to the realtime provider.
//
// A [Negotiator] connects directly over a WebRTC peer connection: it issues
// an ephemeral credential, publishes the microphone as an Opus track, opens
// the "oai-events" control channel, races ICE gathering against a timeout,
// and exchanges SDP with the provider trying each model candidate in order.
// A [RelayClient] instead dials the relay service over a WebSocket.
//
// Both follow the same contract: the handshake call returns once the transport
// is up (state AwaitingSessionCreated), the session becomes Active when the
// provider's session.created arrives, Send requires Active, and Disconnect is
// idempotent and safe at any time.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/internal/session"
	"github.com/MrWong99/voxbridge/internal/signaling"
	"github.com/MrWong99/voxbridge/internal/token"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/audio/webrtc"
	"github.com/MrWong99/voxbridge/pkg/realtime"
)

// DataChannelLabel is the label of the provider's control channel.
const DataChannelLabel = "oai-events"

// Exchanger performs one SDP offer/answer exchange for a model.
// [*signaling.Client] implements it.
type Exchanger interface {
	Exchange(ctx context.Context, model, credential, offer string) (string, error)
}

var _ Exchanger = (*signaling.Client)(nil)

// Config holds the negotiation parameters.
type Config struct {
	// Models are tried in order until one is accepted. Must not be empty.
	Models []string

	// Session is sent once as session.update after session.created.
	Session realtime.SessionConfig

	// ICETimeout bounds ICE gathering. Default: [DefaultICETimeout].
	ICETimeout time.Duration

	// ModelNotFound classifies signaling errors for logging and metrics.
	// Default: [signaling.DefaultModelNotFound].
	ModelNotFound signaling.Predicate
}

func (c *Config) validate() error {
	var errs []error
	if len(c.Models) == 0 {
		errs = append(errs, errors.New("at least one model candidate is required"))
	}
	for i, m := range c.Models {
		if m == "" {
			errs = append(errs, fmt.Errorf("models[%d] is empty", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("negotiator: config: %w", err)
	}
	return nil
}

// Negotiator runs one peer-transport session. Create it with [New]; it can be
// initialised at most once.
type Negotiator struct {
	*core

	cfg          Config
	issuer       token.Issuer
	factory      webrtc.Factory
	signaling    Exchanger
	configurator *realtime.Configurator
	link         *webrtc.AudioLink

	mu    sync.Mutex
	torn  bool
	pc    webrtc.PeerConnection
	dc    webrtc.DataChannel
	model string

	disconnectOnce sync.Once
	disconnectErr  error
}

// New creates a negotiator. [WithAudioInput] is required.
func New(issuer token.Issuer, factory webrtc.Factory, sig Exchanger, cfg Config, opts ...Option) (*Negotiator, error) {
	if issuer == nil || factory == nil || sig == nil {
		return nil, errors.New("negotiator: issuer, peer factory and signaling client are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Models = slices.Clone(cfg.Models)
	if cfg.ICETimeout <= 0 {
		cfg.ICETimeout = DefaultICETimeout
	}
	if cfg.ModelNotFound == nil {
		cfg.ModelNotFound = signaling.DefaultModelNotFound()
	}

	o := buildOptions(opts)
	if o.capturer == nil || o.encoder == nil {
		return nil, errors.New("negotiator: an audio capturer and encoder are required")
	}
	if o.sink == nil {
		o.sink = &audio.DiscardSink{}
	}
	if o.newDecoder == nil {
		o.newDecoder = func() (audio.Decoder, error) {
			return nil, errors.New("negotiator: no audio output configured")
		}
	}

	conf, err := realtime.NewConfigurator(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("negotiator: %w", err)
	}

	return &Negotiator{
		core:         newCore(session.TransportPeer, o),
		cfg:          cfg,
		issuer:       issuer,
		factory:      factory,
		signaling:    sig,
		configurator: conf,
		link:         webrtc.NewAudioLink(o.capturer, o.encoder, o.newDecoder, o.sink),
	}, nil
}

// Model returns the model candidate that accepted the offer, or "".
func (n *Negotiator) Model() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.model
}

// Init performs the handshake. On success the session is
// AwaitingSessionCreated and becomes Active once the provider's
// session.created has been answered with session.update. On failure every
// resource opened so far is closed and the session is left in Error.
func (n *Negotiator) Init(ctx context.Context) (err error) {
	ctx, done, err := n.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			err = n.finish(err, n.teardown)
		}
		n.opts.metrics.RecordHandshake(context.Background(), string(session.TransportPeer), outcome, time.Since(start))
	}()
	ctx, span := observe.StartSession(ctx, string(session.TransportPeer), n.sess.ID())
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx)

	// 1. Ephemeral credential.
	cred, err := n.issuer.Issue(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCredential, err)
	}
	if cred.Value == "" {
		return ErrCredential
	}
	n.sess.SetCredential(cred.Value)

	// 2. Peer connection, rendering remote audio.
	pc, err := n.factory.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("negotiator: create peer connection: %w", err)
	}
	if err := n.adoptPeer(pc); err != nil {
		return err
	}
	pc.OnRemoteTrack(n.link.HandleRemote)
	pc.OnConnectionStateChange(n.handlePeerState)

	// 3. Microphone.
	track, err := pc.AddAudioTrack()
	if err != nil {
		return fmt.Errorf("negotiator: add audio track: %w", err)
	}
	if err := n.link.StartCapture(n.ctx, track); err != nil {
		return fmt.Errorf("%w: %w", ErrAudioDevice, err)
	}

	// 4. Control channel.
	dc, err := pc.CreateDataChannel(DataChannelLabel)
	if err != nil {
		return fmt.Errorf("negotiator: create data channel: %w", err)
	}
	if err := n.adoptChannel(dc); err != nil {
		return err
	}
	dc.OnMessage(n.handleMessage)
	dc.OnClose(n.handleChannelClose)

	// 5. Offer.
	if err := pc.CreateOffer(); err != nil {
		return fmt.Errorf("negotiator: create offer: %w", err)
	}

	// 6. ICE race.
	iceStart := time.Now()
	trigger, err := awaitGathering(ctx, pc, n.cfg.ICETimeout)
	if err != nil {
		return fmt.Errorf("negotiator: ice gathering: %w", err)
	}
	n.opts.metrics.RecordICEGather(ctx, trigger, time.Since(iceStart))
	if trigger == triggerTimeout {
		log.Warn("negotiator: ice gathering timed out, sending partial candidates", "timeout", n.cfg.ICETimeout)
	}
	offer := pc.LocalDescription()
	if offer == "" {
		return errors.New("negotiator: empty local description")
	}

	// 7. Model candidates.
	answer, model, err := resilience.TryInOrder(ctx, n.cfg.Models, resilience.Trial{
		Unavailable: n.cfg.ModelNotFound,
		OnAttempt:   n.recordAttempt,
	}, func(ctx context.Context, model string) (string, error) {
		return n.signaling.Exchange(ctx, model, n.sess.Credential(), offer)
	})
	if err != nil {
		return fmt.Errorf("negotiator: signaling: %w", err)
	}

	// 8. Answer.
	if err := n.sess.Machine().To(realtime.StateAwaitingSessionCreated); err != nil {
		return fmt.Errorf("negotiator: %w", err)
	}
	if err := pc.SetRemoteAnswer(answer); err != nil {
		return fmt.Errorf("negotiator: apply answer from %q: %w", model, err)
	}

	n.mu.Lock()
	n.model = model
	n.mu.Unlock()
	span.SetAttributes(observe.AttrModel.String(model))
	log.Info("negotiator: peer session negotiated", "model", model, "ice", trigger)
	return nil
}

func (n *Negotiator) recordAttempt(a resilience.Attempt) {
	outcome := "ok"
	switch {
	case a.Err == nil:
	case a.Unavailable:
		outcome = "model_not_found"
	default:
		outcome = "error"
	}
	n.opts.metrics.RecordHandshakeAttempt(context.Background(), a.Candidate, outcome)
}

// Send sends text as a user message and requests a response.
func (n *Negotiator) Send(text string) error {
	if n.sess.State() != realtime.StateActive {
		return ErrNotReady
	}
	dc := n.channel()
	if dc == nil || !dc.IsOpen() {
		return ErrNotReady
	}
	frames, err := realtime.UserTextFrames(text)
	if err != nil {
		return fmt.Errorf("negotiator: send: %w", err)
	}
	for _, f := range frames {
		if err := dc.SendText(string(f)); err != nil {
			return fmt.Errorf("negotiator: send: %w", err)
		}
	}
	return nil
}

// Disconnect tears down the peer connection, releases the input device and
// the rendering sink, and discards the credential. It is safe to call more
// than once, before Init, and concurrently with Init. No event handler runs
// after it returns.
func (n *Negotiator) Disconnect() error {
	n.disconnectOnce.Do(func() {
		n.disconnectErr = n.shutdown(n.teardown)
	})
	return n.disconnectErr
}

// ── transport callbacks ──────────────────────────────────────────────────────

func (n *Negotiator) handleMessage(data []byte) {
	n.dispatch(data, n.configure)
}

// configure answers the first session.created with session.update.
func (n *Negotiator) configure() {
	m := n.sess.Machine()
	sent, err := n.configurator.Configure(realtime.EventSessionCreated, func(frame []byte) error {
		if err := m.To(realtime.StateConfiguring); err != nil {
			return err
		}
		dc := n.channel()
		if dc == nil {
			return errTornDown
		}
		return dc.SendText(string(frame))
	})
	switch {
	case errors.Is(err, realtime.ErrAlreadyConfigured):
		slog.Warn("negotiator: repeated session.created, not reconfiguring", "session_id", n.sess.ID())
	case err != nil:
		n.failAsync(fmt.Errorf("negotiator: configure: %w", err), n.teardown)
	case sent:
		n.opts.metrics.RecordConfigSent(n.ctx, string(session.TransportPeer))
		if err := m.To(realtime.StateActive); err != nil {
			slog.Warn("negotiator: activate", "session_id", n.sess.ID(), "err", err)
		}
	}
}

// handleChannelClose treats a channel closed by the provider as the end of
// the session, not a failure.
func (n *Negotiator) handleChannelClose() {
	slog.Info("negotiator: control channel closed", "session_id", n.sess.ID())
	n.closeAsync(n.teardown)
}

func (n *Negotiator) handlePeerState(s webrtc.ConnectionState) {
	switch s {
	case webrtc.ConnectionStateFailed:
		n.failAsync(fmt.Errorf("negotiator: peer connection %s", s), n.teardown)
	case webrtc.ConnectionStateClosed:
		slog.Info("negotiator: peer connection closed", "session_id", n.sess.ID())
		n.closeAsync(n.teardown)
	case webrtc.ConnectionStateDisconnected:
		slog.Warn("negotiator: peer connection disconnected", "session_id", n.sess.ID())
	}
}

// ── resources ────────────────────────────────────────────────────────────────

func (n *Negotiator) adoptPeer(pc webrtc.PeerConnection) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.torn {
		_ = pc.Close()
		return errTornDown
	}
	n.pc = pc
	return nil
}

func (n *Negotiator) adoptChannel(dc webrtc.DataChannel) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.torn {
		_ = dc.Close()
		return errTornDown
	}
	n.dc = dc
	return nil
}

func (n *Negotiator) channel() webrtc.DataChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dc
}

// teardown closes capture, channel, connection and sink in that order and
// drops the credential. Runs once; later calls return nil.
func (n *Negotiator) teardown() error {
	n.mu.Lock()
	if n.torn {
		n.mu.Unlock()
		return nil
	}
	n.torn = true
	pc, dc := n.pc, n.dc
	n.pc, n.dc = nil, nil
	n.mu.Unlock()

	var errs []error
	if err := n.link.StopCapture(); err != nil {
		errs = append(errs, fmt.Errorf("stop capture: %w", err))
	}
	if dc != nil {
		if err := dc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data channel: %w", err))
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close peer connection: %w", err))
		}
	}
	if err := n.link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audio: %w", err))
	}
	n.sess.DiscardCredential()
	n.releaseGauge()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("negotiator: teardown: %w", err)
	}
	return nil
}
