package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/callpilot"

// Span names emitted by the session controller.
const (
	SpanUtterance = "callpilot.utterance"
	SpanSummary   = "callpilot.summary"
)

// Attribute keys shared by spans and log lines.
const (
	AttrCallID     = "call_id"
	AttrSeq        = "seq"
	AttrFrames     = "frames"
	AttrUtterances = "utterances"
)

type callIDKey struct{}

// Tracer returns the callpilot tracer from the globally registered
// [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithCallID returns a copy of ctx that carries the call ID. Spans started by
// [StartUtteranceSpan] and [StartSummarySpan] and loggers returned by
// [Logger] pick it up from there.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey{}, callID)
}

// CallID returns the call ID stored by [WithCallID], or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// TraceID returns the hex trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// StartUtteranceSpan starts the span covering transcription, analysis and
// persistence of utterance seq.
func StartUtteranceSpan(ctx context.Context, seq, frames int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanUtterance, trace.WithAttributes(
		attribute.String(AttrCallID, CallID(ctx)),
		attribute.Int(AttrSeq, seq),
		attribute.Int(AttrFrames, frames),
	))
}

// StartSummarySpan starts the span covering the end-of-call summary.
func StartSummarySpan(ctx context.Context, utterances int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanSummary, trace.WithAttributes(
		attribute.String(AttrCallID, CallID(ctx)),
		attribute.Int(AttrUtterances, utterances),
	))
}

// Logger returns the default [slog.Logger] tagged with the call ID and the
// trace and span IDs found in ctx. Absent values are left out.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := CallID(ctx); id != "" {
		l = l.With(slog.String(AttrCallID, id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
