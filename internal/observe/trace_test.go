package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs points the default logger at a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()
	cid := CorrelationID(ctx)
	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q is not a 32-char hex trace ID", cid)
	}
}

func TestWithSession(t *testing.T) {
	ctx := context.Background()
	if WithSession(ctx, "") != ctx {
		t.Error("empty session id should return ctx unchanged")
	}
	if got := SessionID(WithSession(ctx, "s-1")); got != "s-1" {
		t.Errorf("SessionID = %q, want s-1", got)
	}
	if got := SessionID(ctx); got != "" {
		t.Errorf("SessionID(background) = %q", got)
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	_, plain := StartSpan(context.Background(), "boundary.start")
	plain.End()
	_, tagged := StartSpan(WithSession(context.Background(), "s-42"), "boundary.check_answer")
	tagged.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "boundary.start" || len(spans[0].Attributes) != 0 {
		t.Errorf("plain span = %s %v", spans[0].Name, spans[0].Attributes)
	}
	want := attribute.String("quiz.session", "s-42")
	found := false
	for _, a := range spans[1].Attributes {
		if a == want {
			found = true
		}
	}
	if !found {
		t.Errorf("tagged span attributes = %v, want %v", spans[1].Attributes, want)
	}
}

func TestInjectHTTP(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "inject")
	defer span.End()

	h := http.Header{}
	InjectHTTP(ctx, h)
	if h.Get("traceparent") == "" {
		t.Error("traceparent header missing")
	}
	if h.Get(SessionHeader) != "" {
		t.Error("session header set without a session")
	}

	h = http.Header{}
	InjectHTTP(WithSession(ctx, "s-7"), h)
	if got := h.Get(SessionHeader); got != "s-7" {
		t.Errorf("%s = %q, want s-7", SessionHeader, got)
	}
}

func TestLogger(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "log-test")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{name: "plain", ctx: context.Background(), notWant: []string{"trace_id", "session"}},
		{name: "span", ctx: ctx, want: []string{"trace_id=", "span_id="}, notWant: []string{"session"}},
		{name: "session and span", ctx: WithSession(ctx, "s-9"), want: []string{"session=s-9", "trace_id="}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tt.ctx).Info("test message")
			logged := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(logged, w) {
					t.Errorf("log %q missing %q", logged, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(logged, w) {
					t.Errorf("log %q should not contain %q", logged, w)
				}
			}
		})
	}
}
