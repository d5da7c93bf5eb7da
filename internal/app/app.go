// Package app wires the relay server together.
//
// New builds the relay, readiness checks and HTTP routes from a
// [config.Config]. Run serves until its context is cancelled and Shutdown
// drains the server. Tests inject a listener, metrics and relay options
// through functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/relay"
)

// RealtimePath is the client WebSocket endpoint.
const RealtimePath = "/v1/realtime"

// readHeaderTimeout bounds the request line and headers of every request.
const readHeaderTimeout = 10 * time.Second

// App owns the relay server's lifetime.
type App struct {
	cfg      *config.Config
	relay    *relay.Relay
	health   *health.Handler
	metrics  *observe.Metrics
	level    *slog.LevelVar
	handler  http.Handler
	server   *http.Server
	listener net.Listener

	metricsHandler http.Handler
	relayOpts      []relay.Option

	// closers run in order during Shutdown, after the server drained.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records into m instead of the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level of the logger
// built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetricsHandler replaces the Prometheus handler served on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithRelayOptions passes extra options to [relay.New].
func WithRelayOptions(opts ...relay.Option) Option {
	return func(a *App) { a.relayOpts = append(a.relayOpts, opts...) }
}

// WithCloser registers fn to run during Shutdown, e.g. a telemetry flush.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It does not listen yet.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Slog())
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	r, err := relay.New(relay.Config{
		UpstreamURL:    cfg.Provider.RealtimeURL,
		Model:          cfg.Provider.Model,
		APIKey:         cfg.APIKey,
		BetaHeader:     cfg.Provider.BetaHeader,
		Session:        cfg.Session.Realtime(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		DialTimeout:    cfg.Provider.DialTimeout,
	}, append([]relay.Option{relay.WithMetrics(a.metrics)}, a.relayOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("app: init relay: %w", err)
	}
	a.relay = r
	a.health = health.New(health.Func("upstream", r.Ready))

	mux := http.NewServeMux()
	mux.Handle("GET "+RealtimePath, r)
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
	return a, nil
}

// Handler returns the root HTTP handler, including middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Relay returns the relay served on [RealtimePath].
func (a *App) Relay() *relay.Relay { return a.relay }

// Addr returns the listening address once Run started, or the configured
// address before.
func (a *App) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.cfg.Server.ListenAddr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens and serves until ctx is cancelled, then returns ctx.Err().
// Serving stops in [App.Shutdown], so in-flight sessions survive until then.
// A listener failure is returned immediately.
func (a *App) Run(ctx context.Context) error {
	if a.listener == nil {
		l, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
		a.listener = l
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(a.listener)
		}
		errCh <- err
	}()

	slog.Info("relay listening",
		"addr", a.Addr(),
		"tls", a.cfg.Server.TLS != nil,
		"model", a.cfg.Provider.Model,
		"credential", a.cfg.APIKey != "",
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ApplyConfig applies the live-reloadable parts of a changed config. It
// matches [config.ChangeFunc] so it can be handed to [config.NewWatcher].
func (a *App) ApplyConfig(_, updated *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		if err := a.relay.UpdateSession(updated.Session.Realtime()); err != nil {
			slog.Warn("session config not applied", "err", err)
		} else {
			slog.Info("session config updated", "voice", updated.Session.Voice)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, then waits until every bridged
// session ended or ctx expires. net/http does not track hijacked WebSocket
// connections, so the wait polls [relay.Relay.Active]. Registered closers run
// afterwards. Only the first call has an effect.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_sessions", a.relay.Active())

		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: shutdown: %w", err))
		}
		if err := a.drain(ctx); err != nil {
			slog.Warn("shutdown deadline exceeded", "active_sessions", a.relay.Active())
			errs = append(errs, err)
		}
		for i, closer := range a.closers {
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

func (a *App) drain(ctx context.Context) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for a.relay.Active() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("app: drain sessions: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil
}
