package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Trace exporter kinds accepted by [NewTraceExporter].
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// ProviderConfig configures the process-wide OpenTelemetry SDK.
type ProviderConfig struct {
	ServiceName    string // default "voxbridge"
	ServiceVersion string

	// Exporter is one of the Exporter* kinds. Endpoint is the OTLP gRPC
	// target; Output receives stdout spans (os.Stdout when nil).
	Exporter string
	Endpoint string
	Output   io.Writer

	// SampleRatio is the share of new traces recorded. Traces continued
	// from an incoming traceparent follow the caller's decision. Values
	// outside (0, 1) record everything.
	SampleRatio float64
}

// Telemetry owns the SDK providers installed by [InitProvider].
type Telemetry struct {
	Meters *sdkmetric.MeterProvider
	Traces *sdktrace.TracerProvider

	once sync.Once
	err  error
}

// NewTraceExporter builds the span exporter named by kind. "none" and ""
// return a nil exporter.
func NewTraceExporter(ctx context.Context, kind, endpoint string, w io.Writer) (sdktrace.SpanExporter, error) {
	switch kind {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("observe: stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("observe: otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("observe: unknown trace exporter %q", kind)
	}
}

// InitProvider installs global meter and tracer providers and the W3C trace
// context propagator. Metrics are exported through the default Prometheus
// registry, so promhttp.Handler serves them.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voxbridge"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	exp, err := NewTraceExporter(ctx, cfg.Exporter, cfg.Endpoint, cfg.Output)
	if err != nil {
		return nil, err
	}
	prom, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	t := &Telemetry{
		Meters: sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(prom)),
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	t.Traces = sdktrace.NewTracerProvider(opts...)

	otel.SetMeterProvider(t.Meters)
	otel.SetTracerProvider(t.Traces)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return t, nil
}

// Shutdown flushes pending spans and stops both providers. Later calls
// return the first result.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.once.Do(func() {
		t.err = errors.Join(t.Traces.Shutdown(ctx), t.Meters.Shutdown(ctx))
	})
	return t.err
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
