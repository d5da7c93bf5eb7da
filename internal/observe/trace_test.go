package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder installs an in-memory tracer provider globally for the test.
func useRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs points the default logger at a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

var traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestStartSession(t *testing.T) {
	exp := useRecorder(t)

	ctx, span := StartSession(context.Background(), "peer", "sess-1")
	if got := SessionID(ctx); got != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", got)
	}
	if cid := CorrelationID(ctx); !traceIDPattern.MatchString(cid) {
		t.Errorf("CorrelationID = %q, want 32 hex digits", cid)
	}
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "session.peer" {
		t.Errorf("span name = %q, want session.peer", got.Name)
	}
	attrs := map[string]string{}
	for _, kv := range got.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs[string(AttrSessionID)] != "sess-1" || attrs[string(AttrSessionTransport)] != "peer" {
		t.Errorf("attributes = %v", attrs)
	}
	if got.Status.Code == codes.Error {
		t.Error("successful session span marked as error")
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	exp := useRecorder(t)

	_, span := StartSession(context.Background(), "relayed-socket", "sess-2")
	EndSpan(span, errors.New("upstream dial refused"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "upstream dial refused" {
		t.Errorf("status = %+v", spans[0].Status)
	}
	if len(spans[0].Events) == 0 {
		t.Error("error event not recorded")
	}
}

func TestSessionIDs_AreDistinctTraces(t *testing.T) {
	useRecorder(t)

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSession(context.Background(), "peer", "s")
		cid := CorrelationID(ctx)
		span.End()
		if seen[cid] {
			t.Fatalf("trace id %s reused across sessions", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useRecorder(t)

	sessionCtx, span := StartSession(context.Background(), "peer", "sess-3")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background(),
			notWant: []string{"trace_id", "span_id", "session_id"},
		},
		{
			name: "session span",
			ctx:  sessionCtx,
			want: []string{"trace_id=", "span_id=", "session_id=sess-3"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tc.ctx).Info("frame forwarded")
			out := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tc.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q unexpectedly contains %q", out, w)
				}
			}
		})
	}
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID = %q, want empty", got)
	}
}
