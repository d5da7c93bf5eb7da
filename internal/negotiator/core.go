package negotiator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/internal/session"
	"github.com/MrWong99/voxbridge/pkg/realtime"
)

var (
	// ErrCredential means no usable ephemeral credential could be obtained.
	ErrCredential = errors.New("negotiator: credential unavailable")

	// ErrAudioDevice means the input device could not be acquired.
	ErrAudioDevice = errors.New("negotiator: audio device unavailable")

	// ErrNotReady is returned by Send before the session is active.
	ErrNotReady = errors.New("negotiator: session not ready")

	// ErrSessionUsed is returned when a session is started a second time.
	// Sessions are not resumable; create a new one instead.
	ErrSessionUsed = errors.New("negotiator: session already used")

	// ErrDisconnected is returned when Disconnect ran before or during the
	// handshake.
	ErrDisconnected = errors.New("negotiator: disconnected")

	// ErrCandidatesExhausted is returned when every model candidate failed.
	// The error also unwraps to a [*resilience.ExhaustedError] carrying each
	// attempt.
	ErrCandidatesExhausted = resilience.ErrCandidatesExhausted
)

// errTornDown is returned when a resource is created after the session was
// already torn down.
var errTornDown = errors.New("negotiator: session torn down")

// core is the transport-independent part of a client session: lifecycle
// context, dispatch gate, state observation and failure handling.
type core struct {
	opts options
	sess *session.Session

	// ctx is cancelled by Disconnect and bounds every blocking step.
	ctx    context.Context
	cancel context.CancelFunc

	started   atomic.Bool
	gaugeOpen atomic.Bool
	speech    realtime.SpeechTracker

	// gate is held for reading while a handler runs; Disconnect takes it for
	// writing so that no handler runs after it returns.
	gate   sync.RWMutex
	closed bool
}

func newCore(transport session.Transport, opts options) *core {
	c := &core{opts: opts}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.sess = session.New(transport, c.observe)
	return c
}

func (c *core) observe(t realtime.Transition) {
	c.opts.metrics.RecordTransition(context.Background(), string(c.sess.Transport()), t.To.String())
	if t.Err != nil {
		slog.Warn("negotiator: session failed",
			"session_id", c.sess.ID(), "from", t.From.String(), "err", t.Err)
	} else {
		slog.Debug("negotiator: state changed",
			"session_id", c.sess.ID(), "from", t.From.String(), "to", t.To.String())
	}
	if c.opts.onState != nil {
		c.opts.onState(t)
	}
}

// begin claims the session for its one and only handshake and returns a
// context cancelled by either parent or Disconnect.
func (c *core) begin(parent context.Context) (context.Context, context.CancelFunc, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, nil, ErrSessionUsed
	}
	if c.ctx.Err() != nil {
		return nil, nil, ErrDisconnected
	}
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(c.ctx, cancel)
	if err := c.sess.Machine().To(realtime.StateConnecting); err != nil {
		stop()
		cancel()
		return nil, nil, fmt.Errorf("negotiator: begin: %w", err)
	}
	c.gaugeOpen.Store(true)
	c.opts.metrics.SessionOpened(ctx, string(c.sess.Transport()))
	return ctx, func() { stop(); cancel() }, nil
}

// finish classifies a handshake error. A handshake interrupted by Disconnect
// reports ErrDisconnected and leaves the state to Disconnect; any other error
// fails the session.
func (c *core) finish(err error, teardown func() error) error {
	if c.ctx.Err() != nil {
		_ = teardown()
		if errors.Is(err, ErrDisconnected) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	c.sess.Machine().Fail(err)
	if terr := teardown(); terr != nil {
		slog.Debug("negotiator: teardown after failure", "session_id", c.sess.ID(), "err", terr)
	}
	return err
}

// failAsync fails a running session from a transport callback. Teardown runs
// on its own goroutine because transport close may wait for the goroutine
// delivering the callback.
func (c *core) failAsync(cause error, teardown func() error) {
	if c.ctx.Err() != nil {
		return
	}
	if c.sess.Machine().Fail(cause) {
		go func() { _ = teardown() }()
	}
}

// closeAsync ends a session the remote side closed cleanly. The session is
// Closing at once and Closed when teardown, run on its own goroutine, has
// returned. Later calls and calls during Disconnect are no-ops.
func (c *core) closeAsync(teardown func() error) {
	if c.ctx.Err() != nil {
		return
	}
	m := c.sess.Machine()
	if m.To(realtime.StateClosing) != nil {
		return
	}
	go func() {
		_ = teardown()
		_ = m.To(realtime.StateClosed)
	}()
}

// releaseGauge decrements the active session gauge once.
func (c *core) releaseGauge() {
	if c.gaugeOpen.CompareAndSwap(true, false) {
		c.opts.metrics.SessionClosed(context.Background(), string(c.sess.Transport()))
	}
}

// dispatch parses one inbound frame and delivers it. onCreated runs for every
// session.created before the handler sees it.
func (c *core) dispatch(data []byte, onCreated func()) {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.closed || c.sess.State().Terminal() {
		return
	}

	evt, err := realtime.ParseEvent(data)
	if err != nil {
		slog.Warn("negotiator: dropping malformed event", "session_id", c.sess.ID(), "err", err)
		return
	}
	if evt.Type == realtime.EventSessionCreated && onCreated != nil {
		onCreated()
	}
	if speaking, changed := c.speech.Observe(evt.Type); changed {
		slog.Debug("negotiator: assistant speaking", "session_id", c.sess.ID(), "speaking", speaking)
	}
	if c.opts.onEvent != nil {
		c.opts.onEvent(evt)
	}
}

// closeGate waits for in-flight handlers and blocks future ones.
func (c *core) closeGate() {
	c.gate.Lock()
	c.closed = true
	c.gate.Unlock()
}

// shutdown runs the Disconnect sequence: cancel, Closing, gate, teardown,
// Closed. The state moves are no-ops for a session that already failed.
func (c *core) shutdown(teardown func() error) error {
	c.cancel()
	m := c.sess.Machine()
	closing := m.To(realtime.StateClosing) == nil
	c.closeGate()
	err := teardown()
	if closing {
		_ = m.To(realtime.StateClosed)
	}
	c.speech.Reset()
	return err
}

// Session returns the underlying session.
func (c *core) Session() *session.Session { return c.sess }

// State returns the current protocol state.
func (c *core) State() realtime.State { return c.sess.State() }

// Speaking reports whether the assistant is currently producing audio.
func (c *core) Speaking() bool { return c.speech.Speaking() }
