package observe

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point of a sum metric that carries
// attribute key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionOpened(ctx, "peer")
	m.SessionOpened(ctx, "peer")
	m.SessionOpened(ctx, "relayed-socket")
	m.SessionClosed(ctx, "peer")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxbridge.active_sessions", "transport", "peer"); got != 1 {
		t.Errorf("peer sessions = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxbridge.active_sessions", "transport", "relayed-socket"); got != 1 {
		t.Errorf("relayed sessions = %d, want 1", got)
	}
}

func TestRelayCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRelayedFrame(ctx, DirectionUpstream)
	m.RecordRelayedFrame(ctx, DirectionUpstream)
	m.RecordRelayedFrame(ctx, DirectionDownstream)
	m.RecordDroppedFrame(ctx, DropNotReady)
	m.RecordDroppedFrame(ctx, DropMalformed)
	m.RecordDroppedFrame(ctx, DropMalformed)

	rm := collect(t, reader)

	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"voxbridge.relay.frames", "direction", DirectionUpstream, 2},
		{"voxbridge.relay.frames", "direction", DirectionDownstream, 1},
		{"voxbridge.relay.dropped_frames", "reason", DropNotReady, 1},
		{"voxbridge.relay.dropped_frames", "reason", DropMalformed, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name+"/"+tc.value, func(t *testing.T) {
			if got := sumFor(t, rm, tc.name, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSessionCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "peer", "active")
	m.RecordTransition(ctx, "peer", "closed")
	m.RecordConfigSent(ctx, "peer")
	m.RecordHandshakeAttempt(ctx, "gpt-realtime", "model_not_found")
	m.RecordHandshakeAttempt(ctx, "gpt-realtime-mini", "ok")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxbridge.session.transitions", "to", "active"); got != 1 {
		t.Errorf("transitions to active = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxbridge.session.configs_sent", "transport", "peer"); got != 1 {
		t.Errorf("configs sent = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxbridge.handshake.attempts", "outcome", "model_not_found"); got != 1 {
		t.Errorf("model_not_found attempts = %d, want 1", got)
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordHandshake(ctx, "peer", "ok", 300*time.Millisecond)
	m.RecordHandshake(ctx, "peer", "ok", 700*time.Millisecond)
	m.RecordICEGather(ctx, "timeout", 2*time.Second)
	m.RecordICEGather(ctx, "timeout", 2*time.Second)

	rm := collect(t, reader)

	for _, name := range []string{"voxbridge.handshake.duration", "voxbridge.ice.gather.duration"} {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestNewTraceExporter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for _, kind := range []string{"", ExporterNone} {
		exp, err := NewTraceExporter(ctx, kind, "", nil)
		if err != nil || exp != nil {
			t.Errorf("kind %q: exporter = %v, err = %v; want nil, nil", kind, exp, err)
		}
	}

	var buf bytes.Buffer
	exp, err := NewTraceExporter(ctx, ExporterStdout, "", &buf)
	if err != nil || exp == nil {
		t.Fatalf("stdout exporter = %v, err = %v", exp, err)
	}
	_ = exp.Shutdown(ctx)

	if _, err := NewTraceExporter(ctx, "zipkin", "", nil); err == nil {
		t.Error("unknown exporter kind accepted")
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()
	tests := map[float64]string{
		0:    "AlwaysOnSampler",
		1:    "AlwaysOnSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for ratio, root := range tests {
		if got := sampler(ratio).Description(); !strings.Contains(got, "root:"+root) {
			t.Errorf("sampler(%v) = %s, want root %s", ratio, got, root)
		}
	}
}

func TestInitProvider(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	if _, err := InitProvider(context.Background(), ProviderConfig{Exporter: "zipkin"}); err == nil {
		t.Fatal("unknown exporter accepted")
	}

	var buf bytes.Buffer
	tel, err := InitProvider(context.Background(), ProviderConfig{Exporter: ExporterStdout, Output: &buf})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if otel.GetTracerProvider() != tel.Traces {
		t.Error("tracer provider not installed globally")
	}
	_, span := StartSession(context.Background(), "peer", "sess-telemetry")
	span.End()

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "session.peer") {
		t.Errorf("stdout exporter did not receive the session span: %q", buf.String())
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
