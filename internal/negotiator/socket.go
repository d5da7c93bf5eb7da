package negotiator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/internal/session"
	"github.com/MrWong99/voxbridge/pkg/realtime"
)

// readLimit bounds one inbound frame; audio deltas can be large.
const readLimit = 4 << 20

// RelayClient runs one relayed-socket session against the relay service. The
// relay holds the provider credential and sends session.update itself, so the
// client only waits for session.created before it becomes Active.
type RelayClient struct {
	*core

	url string

	mu     sync.Mutex
	torn   bool
	conn   *websocket.Conn
	readWG sync.WaitGroup

	disconnectOnce sync.Once
	disconnectErr  error
}

// NewRelayClient creates a client for the relay WebSocket at url
// (ws:// or wss://).
func NewRelayClient(url string, opts ...Option) (*RelayClient, error) {
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("negotiator: relay url %q must use ws:// or wss://", url)
	}
	return &RelayClient{
		core: newCore(session.TransportRelayedSocket, buildOptions(opts)),
		url:  url,
	}, nil
}

// Dial opens the relay socket and starts reading events. On success the
// session is AwaitingSessionCreated.
func (c *RelayClient) Dial(ctx context.Context) (err error) {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			err = c.finish(err, c.teardown)
		}
		c.opts.metrics.RecordHandshake(context.Background(), string(session.TransportRelayedSocket), outcome, time.Since(start))
	}()

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPClient: c.opts.httpClient,
		HTTPHeader: c.opts.header,
	})
	if err != nil {
		return fmt.Errorf("negotiator: dial relay: %w", err)
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		_ = conn.CloseNow()
		return errTornDown
	}
	c.conn = conn
	c.readWG.Add(1)
	c.mu.Unlock()

	if err := c.sess.Machine().To(realtime.StateAwaitingSessionCreated); err != nil {
		c.readWG.Done()
		return fmt.Errorf("negotiator: %w", err)
	}
	go c.readLoop(conn)

	slog.Info("negotiator: relay session connected", "session_id", c.sess.ID(), "url", c.url)
	return nil
}

func (c *RelayClient) readLoop(conn *websocket.Conn) {
	defer c.readWG.Done()
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				slog.Info("negotiator: relay closed the session", "session_id", c.sess.ID())
				c.closeAsync(c.teardown)
				return
			}
			c.failAsync(fmt.Errorf("negotiator: relay connection: %w", err), c.teardown)
			return
		}
		c.dispatch(data, c.activate)
	}
}

// activate moves to Active on the first session.created. The relay has
// already configured the upstream session.
func (c *RelayClient) activate() {
	m := c.sess.Machine()
	if m.State() != realtime.StateAwaitingSessionCreated {
		slog.Warn("negotiator: repeated session.created ignored", "session_id", c.sess.ID())
		return
	}
	if err := m.To(realtime.StateConfiguring); err == nil {
		_ = m.To(realtime.StateActive)
	}
}

// Send sends text as a user message and requests a response.
func (c *RelayClient) Send(text string) error {
	if c.sess.State() != realtime.StateActive {
		return ErrNotReady
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}
	frames, err := realtime.UserTextFrames(text)
	if err != nil {
		return fmt.Errorf("negotiator: send: %w", err)
	}
	for _, f := range frames {
		if err := conn.Write(c.ctx, websocket.MessageText, f); err != nil {
			return fmt.Errorf("negotiator: send: %w", err)
		}
	}
	return nil
}

// Disconnect closes the relay socket and waits for the read loop. It is safe
// to call more than once, before Dial, and concurrently with Dial. It must not
// be called from an event handler.
func (c *RelayClient) Disconnect() error {
	c.disconnectOnce.Do(func() {
		c.disconnectErr = c.shutdown(c.teardown)
		c.readWG.Wait()
	})
	return c.disconnectErr
}

func (c *RelayClient) teardown() error {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return nil
	}
	c.torn = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.sess.DiscardCredential()
	c.releaseGauge()
	if conn == nil {
		return nil
	}
	// The peer may already be gone, in which case the close handshake fails;
	// the socket is released either way.
	if err := conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
		slog.Debug("negotiator: close relay socket", "session_id", c.sess.ID(), "err", err)
	}
	return nil
}
