package observe

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder installs a span recorder as the global tracer provider for the
// duration of the test.
func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestCallID(t *testing.T) {
	t.Parallel()
	if got := CallID(context.Background()); got != "" {
		t.Errorf("CallID(background) = %q, want empty", got)
	}
	ctx := WithCallID(context.Background(), "call-7")
	if got := CallID(ctx); got != "call-7" {
		t.Errorf("CallID = %q, want call-7", got)
	}
}

func TestStartUtteranceSpan_CarriesCallAndSeq(t *testing.T) {
	sr := useRecorder(t)

	ctx := WithCallID(context.Background(), "call-7")
	_, span := StartUtteranceSpan(ctx, 3, 42)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	s := ended[0]
	if s.Name() != SpanUtterance {
		t.Errorf("name = %q, want %q", s.Name(), SpanUtterance)
	}
	attrs := s.Attributes()
	if got := spanAttr(attrs, AttrCallID).AsString(); got != "call-7" {
		t.Errorf("%s = %q, want call-7", AttrCallID, got)
	}
	if got := spanAttr(attrs, AttrSeq).AsInt64(); got != 3 {
		t.Errorf("%s = %d, want 3", AttrSeq, got)
	}
	if got := spanAttr(attrs, AttrFrames).AsInt64(); got != 42 {
		t.Errorf("%s = %d, want 42", AttrFrames, got)
	}
}

func TestStartSummarySpan_SharesTraceWithParent(t *testing.T) {
	sr := useRecorder(t)

	ctx, parent := StartSpan(WithCallID(context.Background(), "call-9"), "parent")
	sctx, span := StartSummarySpan(ctx, 5)
	if TraceID(sctx) != TraceID(ctx) {
		t.Errorf("summary trace %q differs from parent %q", TraceID(sctx), TraceID(ctx))
	}
	span.End()
	parent.End()

	ended := sr.Ended()
	if len(ended) != 2 || ended[0].Name() != SpanSummary {
		t.Fatalf("ended spans = %v, want summary then parent", ended)
	}
	attrs := ended[0].Attributes()
	if got := spanAttr(attrs, AttrCallID).AsString(); got != "call-9" {
		t.Errorf("%s = %q, want call-9", AttrCallID, got)
	}
	if got := spanAttr(attrs, AttrUtterances).AsInt64(); got != 5 {
		t.Errorf("%s = %d, want 5", AttrUtterances, got)
	}
}

func TestLogger_TagsCallAndTrace(t *testing.T) {
	useRecorder(t)
	logs := captureLogs(t)

	ctx, span := StartUtteranceSpan(WithCallID(context.Background(), "call-7"), 1, 10)
	defer span.End()
	Logger(ctx).Info("utterance analysed")

	out := logs.String()
	for _, want := range []string{"call_id=call-7", "trace_id=" + TraceID(ctx), "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLogger_OutsideCall(t *testing.T) {
	logs := captureLogs(t)

	Logger(context.Background()).Info("idle")

	out := logs.String()
	if strings.Contains(out, "call_id") || strings.Contains(out, "trace_id") {
		t.Errorf("idle log should carry no call or trace IDs: %s", out)
	}
}
