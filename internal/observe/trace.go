package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxbridge"

// Span attribute keys shared by the relay and the negotiator.
const (
	AttrSessionID        = attribute.Key("voxbridge.session.id")
	AttrSessionTransport = attribute.Key("voxbridge.session.transport")
	AttrModel            = attribute.Key("voxbridge.model")
)

type sessionKey struct{}

// Tracer returns the voxbridge tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSession starts the span covering one realtime session, named
// "session.<transport>", and stores id in the returned context so [Logger] and
// [SessionID] can find it.
func StartSession(ctx context.Context, transport, id string) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, sessionKey{}, id)
	return StartSpan(ctx, "session."+transport,
		trace.WithAttributes(AttrSessionID.String(id), AttrSessionTransport.String(transport)))
}

// SessionID returns the id stored by [StartSession], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// The middleware echoes it in the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id, span_id and session_id
// attached when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()))
	}
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
