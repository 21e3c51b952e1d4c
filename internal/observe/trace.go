package observe

import (
	"context"
	"log/slog"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every scribeline span.
const tracerName = "github.com/MrWong99/scribeline"

// Span names.
const (
	SpanIngest  = "relay.ingest"
	SpanRebuild = "practice.rebuild"
	SpanKey     = "practice.key"
)

// StartSpan starts a span on the global tracer provider. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartIngest starts the span covering one relayed payload. Only the path of
// payloadURL is recorded; host API queries may carry session parameters.
func StartIngest(ctx context.Context, payloadURL string) (context.Context, trace.Span) {
	path := payloadURL
	if u, err := url.Parse(payloadURL); err == nil {
		path = u.Path
	}
	return StartSpan(ctx, SpanIngest, trace.WithAttributes(attribute.String("payload.path", path)))
}

// StartKey starts the span covering one keystroke at the given sentence
// index. A negative index means the host showed no sentence.
func StartKey(ctx context.Context, key string, index int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanKey, trace.WithAttributes(
		attribute.String("key", key),
		attribute.Int("sentence.index", index),
	))
}

// EndSpan records outcome on span, marks it failed when err is non-nil and
// ends it.
func EndSpan(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String("outcome", outcome))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace ID of the span in ctx, or "" without one. The
// middleware echoes it as X-Correlation-ID so overlay logs can be joined
// with server logs.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns base with trace_id and span_id of the span in ctx, or base
// itself without one.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
