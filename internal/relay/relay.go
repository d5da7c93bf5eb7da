// Package relay bridges browser WebSockets to the provider's realtime
// WebSocket so that the provider credential never leaves the server.
//
// Each accepted client connection gets exactly one upstream connection. Frames
// are forwarded verbatim in both directions. The relay injects one
// session.update upstream when the provider announces session.created, before
// session.created reaches the client. Nothing survives the connection: there
// is no reconnect and no queueing.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/internal/session"
	"github.com/MrWong99/voxbridge/pkg/realtime"
)

// Defaults for [Config].
const (
	DefaultUpstreamURL = "wss://api.openai.com/v1/realtime"
	DefaultModel       = "gpt-4o-realtime-preview"
	DefaultBetaHeader  = "realtime=v1"
	DefaultDialTimeout = 10 * time.Second
)

// readLimit bounds one frame in either direction.
const readLimit = 4 << 20

// Error types sent to clients in an error frame.
const (
	errTypeConfiguration  = "configuration_error"
	errTypeUpstream       = "upstream_error"
	errTypeInvalidRequest = "invalid_request_error"
)

// ErrMissingCredential is reported by [Relay.Ready] while no upstream
// credential is configured.
var ErrMissingCredential = errors.New("relay: upstream credential not configured")

// Config holds the relay settings. It is copied at construction; only the
// session configuration can be replaced later through [Relay.UpdateSession].
type Config struct {
	// UpstreamURL is the provider realtime WebSocket endpoint.
	UpstreamURL string

	// Model is sent as the ?model= query parameter.
	Model string

	// APIKey is the long-lived provider credential. It comes from process
	// configuration only.
	APIKey string

	// BetaHeader is the OpenAI-Beta header value.
	BetaHeader string

	// Session is the configuration injected after session.created.
	Session realtime.SessionConfig

	// AllowedOrigins are host patterns accepted for cross-origin clients.
	// Same-origin requests are always accepted.
	AllowedOrigins []string

	// DialTimeout bounds the upstream handshake.
	DialTimeout time.Duration
}

// Option configures a [Relay].
type Option func(*Relay)

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithBreaker replaces the default upstream circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(r *Relay) { r.breaker = b }
}

// WithHTTPClient sets the client used for the upstream handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) { r.httpClient = c }
}

// Relay is an [http.Handler] serving the client WebSocket endpoint. It is
// safe for concurrent use; connections share nothing but the configuration
// and the upstream circuit breaker.
type Relay struct {
	cfg        Config
	upstream   string
	header     http.Header
	frame      atomic.Pointer[[]byte]
	metrics    *observe.Metrics
	breaker    *resilience.Breaker
	httpClient *http.Client

	active atomic.Int64
}

var _ http.Handler = (*Relay)(nil)

// New validates cfg and builds the session.update frame once.
func New(cfg Config, opts ...Option) (*Relay, error) {
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstreamURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BetaHeader == "" {
		cfg.BetaHeader = DefaultBetaHeader
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("relay: upstream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay: upstream url %q must use ws:// or wss://", cfg.UpstreamURL)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	frame, err := cfg.Session.Frame()
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}

	r := &Relay{
		cfg:      cfg,
		upstream: u.String(),
		header: http.Header{
			"Authorization": []string{"Bearer " + cfg.APIKey},
			"OpenAI-Beta":   []string{cfg.BetaHeader},
		},
	}
	r.frame.Store(&frame)
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.breaker == nil {
		r.breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "relay-upstream"})
	}
	return r, nil
}

// UpdateSession replaces the configuration injected into connections
// accepted from now on. Connections already bridged keep the frame they
// started with.
func (r *Relay) UpdateSession(cfg realtime.SessionConfig) error {
	frame, err := cfg.Frame()
	if err != nil {
		return fmt.Errorf("relay: update session: %w", err)
	}
	r.frame.Store(&frame)
	return nil
}

// Ready reports whether new connections can be bridged.
func (r *Relay) Ready() error {
	if r.cfg.APIKey == "" {
		return ErrMissingCredential
	}
	if st := r.breaker.State(); st == resilience.BreakerOpen {
		return fmt.Errorf("relay: upstream %w", resilience.ErrCircuitOpen)
	}
	return nil
}

// Active returns the number of connections currently being served.
func (r *Relay) Active() int64 { return r.active.Load() }

// ServeHTTP implements [http.Handler].
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !isUpgrade(req) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(realtime.NewErrorFrame(errTypeInvalidRequest, "expected a WebSocket upgrade request"))
		return
	}

	client, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: r.cfg.AllowedOrigins,
	})
	if err != nil {
		observe.Logger(req.Context()).Warn("relay: accept failed", "err", err)
		return
	}
	client.SetReadLimit(readLimit)

	r.active.Add(1)
	defer r.active.Add(-1)

	c := &conn{relay: r, client: client}
	c.sess = session.New(session.TransportRelayedSocket, c.observe)
	c.configurator = realtime.NewConfiguratorFromFrame(*r.frame.Load())

	ctx, span := observe.StartSession(req.Context(), string(session.TransportRelayedSocket), c.sess.ID())
	c.log = observe.Logger(ctx)

	r.metrics.SessionOpened(ctx, string(session.TransportRelayedSocket))
	defer r.metrics.SessionClosed(context.Background(), string(session.TransportRelayedSocket))

	observe.EndSpan(span, c.run(ctx))
}

// isUpgrade reports whether req asks for a WebSocket upgrade.
func isUpgrade(req *http.Request) bool {
	return headerContains(req.Header, "Connection", "upgrade") &&
		headerContains(req.Header, "Upgrade", "websocket")
}

func headerContains(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// ── connection ───────────────────────────────────────────────────────────────

// conn is the state of one bridged client connection.
type conn struct {
	relay        *Relay
	client       *websocket.Conn
	sess         *session.Session
	configurator *realtime.Configurator
	log          *slog.Logger

	// up is nil until the upstream handshake completed.
	up atomic.Pointer[websocket.Conn]

	// configured is set once session.update has been written upstream.
	// Client frames are dropped until then so nothing precedes it.
	configured atomic.Bool
}

func (c *conn) observe(t realtime.Transition) {
	c.relay.metrics.RecordTransition(context.Background(), string(session.TransportRelayedSocket), t.To.String())
	if t.Err != nil && c.log != nil {
		c.log.Warn("relay: session failed", "from", t.From.String(), "err", t.Err)
	}
}

// run bridges the connection until either side closes.
func (c *conn) run(ctx context.Context) error {
	m := c.sess.Machine()
	_ = m.To(realtime.StateConnecting)

	if c.relay.cfg.APIKey == "" {
		c.log.Error("relay: rejecting connection, upstream credential not configured")
		c.reject(ctx, errTypeConfiguration, "upstream credential is not configured")
		m.Fail(ErrMissingCredential)
		return ErrMissingCredential
	}

	g, gctx := errgroup.WithContext(ctx)

	// Client frames are read from the start so that anything sent before the
	// upstream session is configured is dropped instead of buffered.
	g.Go(func() error { return c.pumpClient(gctx) })

	up, err := c.dial(gctx)
	if err != nil {
		c.log.Warn("relay: upstream dial failed", "err", err)
		c.reject(ctx, errTypeUpstream, "could not reach the realtime provider")
		m.Fail(err)
		_ = g.Wait()
		return err
	}
	up.SetReadLimit(readLimit)
	c.up.Store(up)
	_ = m.To(realtime.StateAwaitingSessionCreated)
	c.log.Info("relay: bridged", "model", c.relay.cfg.Model)

	g.Go(func() error { return c.pumpUpstream(gctx, up) })

	err = g.Wait()
	_ = up.CloseNow()
	_ = c.client.CloseNow()
	if m.To(realtime.StateClosing) == nil {
		_ = m.To(realtime.StateClosed)
	}
	c.log.Info("relay: connection closed", "reason", err)
	return nil
}

// dial opens the upstream socket through the breaker. A dial abandoned because
// the client went away does not count as an upstream failure.
func (c *conn) dial(parent context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(parent, c.relay.cfg.DialTimeout)
	defer cancel()

	var (
		up        *websocket.Conn
		abandoned error
	)
	err := c.relay.breaker.Do(func() error {
		var err error
		up, _, err = websocket.Dial(ctx, c.relay.upstream, &websocket.DialOptions{
			HTTPClient: c.relay.httpClient,
			HTTPHeader: c.relay.header.Clone(),
		})
		if err != nil && parent.Err() != nil {
			abandoned = err
			return nil
		}
		return err
	})
	if err == nil {
		err = abandoned
	}
	if err != nil {
		return nil, fmt.Errorf("relay: dial upstream: %w", err)
	}
	return up, nil
}

// reject sends one error frame and closes the client.
func (c *conn) reject(ctx context.Context, errType, msg string) {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Write(wctx, websocket.MessageText, realtime.NewErrorFrame(errType, msg)); err != nil {
		c.log.Debug("relay: write error frame", "err", err)
	}
	_ = c.client.Close(websocket.StatusPolicyViolation, errType)
}

// pumpClient forwards client frames upstream, preserving the message type.
func (c *conn) pumpClient(ctx context.Context) error {
	var warnOnce atomic.Bool
	for {
		typ, data, err := c.client.Read(ctx)
		if err != nil {
			if up := c.up.Load(); up != nil {
				_ = up.Close(mirrorStatus(err), "client closed")
			}
			return fmt.Errorf("relay: client read: %w", err)
		}
		up := c.up.Load()
		if up == nil || !c.configured.Load() {
			if warnOnce.CompareAndSwap(false, true) {
				c.log.Warn("relay: dropping client frames sent before the upstream session is configured")
			}
			c.relay.metrics.RecordDroppedFrame(ctx, observe.DropNotReady)
			continue
		}
		if err := up.Write(ctx, typ, data); err != nil {
			return fmt.Errorf("relay: upstream write: %w", err)
		}
		c.relay.metrics.RecordRelayedFrame(ctx, observe.DirectionUpstream)
	}
}

// pumpUpstream forwards provider frames to the client and injects the session
// configuration ahead of the first session.created.
func (c *conn) pumpUpstream(ctx context.Context, up *websocket.Conn) error {
	m := c.sess.Machine()
	for {
		typ, data, err := up.Read(ctx)
		if err != nil {
			_ = c.client.Close(mirrorStatus(err), "upstream closed")
			return fmt.Errorf("relay: upstream read: %w", err)
		}

		if typ == websocket.MessageText {
			evt, err := realtime.ParseEvent(data)
			if err != nil {
				c.log.Warn("relay: dropping malformed upstream frame", "err", err)
				c.relay.metrics.RecordDroppedFrame(ctx, observe.DropMalformed)
				continue
			}
			if err := c.configure(ctx, up, evt.Type); err != nil {
				return err
			}
		}

		if err := c.client.Write(ctx, typ, data); err != nil {
			return fmt.Errorf("relay: client write: %w", err)
		}
		c.relay.metrics.RecordRelayedFrame(ctx, observe.DirectionDownstream)
		if m.State() == realtime.StateConfiguring {
			_ = m.To(realtime.StateActive)
		}
	}
}

func (c *conn) configure(ctx context.Context, up *websocket.Conn, evt realtime.EventType) error {
	sent, err := c.configurator.Configure(evt, func(frame []byte) error {
		if err := c.sess.Machine().To(realtime.StateConfiguring); err != nil {
			return err
		}
		return up.Write(ctx, websocket.MessageText, frame)
	})
	switch {
	case errors.Is(err, realtime.ErrAlreadyConfigured):
		c.log.Warn("relay: repeated session.created, not reconfiguring")
	case err != nil:
		return fmt.Errorf("relay: %w", err)
	case sent:
		c.configured.Store(true)
		c.relay.metrics.RecordConfigSent(ctx, string(session.TransportRelayedSocket))
	}
	return nil
}

// mirrorStatus picks the close status to pass on to the other side.
func mirrorStatus(err error) websocket.StatusCode {
	switch st := websocket.CloseStatus(err); st {
	case -1, websocket.StatusNoStatusRcvd, websocket.StatusAbnormalClosure, websocket.StatusTLSHandshake:
		return websocket.StatusGoingAway
	default:
		return st
	}
}
