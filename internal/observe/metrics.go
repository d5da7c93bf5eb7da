// Package observe provides the bridge's observability primitives:
// OpenTelemetry metrics, distributed tracing, trace-enriched logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so the relay can serve /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/MrWong99/voxbridge"

// Frame directions for [Metrics.RecordRelayedFrame].
const (
	DirectionUpstream   = "upstream"
	DirectionDownstream = "downstream"
)

// Drop reasons for [Metrics.RecordDroppedFrame].
const (
	DropNotReady  = "not_ready"
	DropMalformed = "malformed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Sessions ---

	// ActiveSessions tracks live sessions. Use with attribute:
	//   attribute.String("transport", ...)
	ActiveSessions metric.Int64UpDownCounter

	// StateTransitions counts protocol state changes. Use with attributes:
	//   attribute.String("transport", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ConfigsSent counts session.update frames sent upstream.
	ConfigsSent metric.Int64Counter

	// --- Relay ---

	// RelayedFrames counts frames forwarded by the relay. Use with attribute:
	//   attribute.String("direction", DirectionUpstream|DirectionDownstream)
	RelayedFrames metric.Int64Counter

	// DroppedFrames counts frames the relay discarded. Use with attribute:
	//   attribute.String("reason", DropNotReady|DropMalformed)
	DroppedFrames metric.Int64Counter

	// --- Handshake ---

	// HandshakeAttempts counts signaling exchanges per model candidate. Use
	// with attributes:
	//   attribute.String("model", ...), attribute.String("outcome", ...)
	HandshakeAttempts metric.Int64Counter

	// HandshakeDuration tracks the full Init or Dial duration.
	HandshakeDuration metric.Float64Histogram

	// ICEGatherDuration tracks how long the ICE race took. Use with attribute:
	//   attribute.String("trigger", ...)
	ICEGatherDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live sessions by transport."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voxbridge.session.transitions",
		metric.WithDescription("Total protocol state transitions by transport and target state."),
	); err != nil {
		return nil, err
	}
	if met.ConfigsSent, err = m.Int64Counter("voxbridge.session.configs_sent",
		metric.WithDescription("Total session.update frames sent."),
	); err != nil {
		return nil, err
	}

	// Relay.
	if met.RelayedFrames, err = m.Int64Counter("voxbridge.relay.frames",
		metric.WithDescription("Total frames forwarded by direction."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voxbridge.relay.dropped_frames",
		metric.WithDescription("Total frames dropped by reason."),
	); err != nil {
		return nil, err
	}

	// Handshake.
	if met.HandshakeAttempts, err = m.Int64Counter("voxbridge.handshake.attempts",
		metric.WithDescription("Total signaling attempts by model and outcome."),
	); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("voxbridge.handshake.duration",
		metric.WithDescription("Latency of a complete session handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ICEGatherDuration, err = m.Float64Histogram("voxbridge.ice.gather.duration",
		metric.WithDescription("Latency of ICE candidate gathering by trigger."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened(ctx context.Context, transport string) {
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed(ctx context.Context, transport string) {
	m.ActiveSessions.Add(ctx, -1, metric.WithAttributes(attribute.String("transport", transport)))
}

// RecordTransition counts a state transition into state to.
func (m *Metrics) RecordTransition(ctx context.Context, transport, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("to", to),
		),
	)
}

// RecordConfigSent counts one session.update frame.
func (m *Metrics) RecordConfigSent(ctx context.Context, transport string) {
	m.ConfigsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// RecordRelayedFrame counts one forwarded frame.
func (m *Metrics) RecordRelayedFrame(ctx context.Context, direction string) {
	m.RelayedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordDroppedFrame counts one dropped frame.
func (m *Metrics) RecordDroppedFrame(ctx context.Context, reason string) {
	m.DroppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordHandshakeAttempt counts one signaling attempt for model.
func (m *Metrics) RecordHandshakeAttempt(ctx context.Context, model, outcome string) {
	m.HandshakeAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordHandshake observes the duration of a handshake that ended with
// outcome ("ok" or "error").
func (m *Metrics) RecordHandshake(ctx context.Context, transport, outcome string, d time.Duration) {
	m.HandshakeDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordICEGather observes the duration of an ICE race resolved by trigger.
func (m *Metrics) RecordICEGather(ctx context.Context, trigger string, d time.Duration) {
	m.ICEGatherDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
}
