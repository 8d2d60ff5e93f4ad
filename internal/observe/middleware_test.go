package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// controlSetup installs an in-memory tracer provider globally and returns
// the middleware together with the metric reader and span exporter behind it.
// Tests using it must not run in parallel.
func controlSetup(t *testing.T) (func(http.Handler) http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return Middleware(m), reader, exp
}

// captureLogs routes the default logger into a buffer at debug level.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func serve(mw func(http.Handler) http.Handler, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mw(h).ServeHTTP(rec, req)
	return rec
}

func TestRouteOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		want string
	}{
		{"/call/start", "/call/start"},
		{"/call/status", "/call/status"},
		{"/mcp", "/mcp"},
		{"/mcp/session", "/mcp"},
		{"/healthz", "/healthz"},
		{"/call/startle", routeOther},
		{"/wp-admin/setup.php", routeOther},
		{"/", routeOther},
	}
	for _, tt := range tests {
		if got := routeOf(tt.path); got != tt.want {
			t.Errorf("routeOf(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMiddleware_TraceHeaderMatchesHandlerContext(t *testing.T) {
	mw, _, _ := controlSetup(t)

	var seen string
	rec := serve(mw, func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}, httptest.NewRequest(http.MethodPost, "/call/start", nil))

	if len(seen) != 32 {
		t.Fatalf("trace ID in handler = %q, want 32 hex chars", seen)
	}
	if got := rec.Header().Get(TraceHeader); got != seen {
		t.Errorf("%s = %q, want %q", TraceHeader, got, seen)
	}
}

func TestMiddleware_ContinuesCallerTrace(t *testing.T) {
	mw, _, _ := controlSetup(t)
	const callerTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	var seen string
	req := httptest.NewRequest(http.MethodGet, "/call/status", nil)
	req.Header.Set("traceparent", "00-"+callerTrace+"-00f067aa0ba902b7-01")
	rec := serve(mw, func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}, req)

	if seen != callerTrace {
		t.Errorf("trace ID = %q, want caller's %q", seen, callerTrace)
	}
	if got := rec.Header().Get(TraceHeader); got != callerTrace {
		t.Errorf("%s = %q, want %q", TraceHeader, got, callerTrace)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	mw, _, exp := controlSetup(t)

	serve(mw, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}, httptest.NewRequest(http.MethodPost, "/call/start", nil))
	serve(mw, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, httptest.NewRequest(http.MethodGet, "/.env", nil))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "POST /call/start" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "POST /call/start")
	}
	if spans[1].Name != "GET "+routeOther {
		t.Errorf("span name = %q, want %q", spans[1].Name, "GET "+routeOther)
	}
	if got := spanAttr(spans[0].Attributes, "http.response.status_code"); got.AsInt64() != http.StatusConflict {
		t.Errorf("status attribute = %v, want 409", got.Emit())
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	mw, reader, _ := controlSetup(t)

	for _, path := range []string{"/call/status", "/call/status", "/random-1", "/random-2"} {
		serve(mw, func(http.ResponseWriter, *http.Request) {}, httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "callpilot.http.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		if status.AsInt64() != http.StatusOK {
			t.Errorf("status = %d, want 200", status.AsInt64())
		}
		counts[route.AsString()] += dp.Count
	}
	if len(counts) != 2 || counts["/call/status"] != 2 || counts[routeOther] != 2 {
		t.Errorf("samples by route = %v, want /call/status:2 other:2", counts)
	}
}

func TestMiddleware_PolledRoutesLogAtDebug(t *testing.T) {
	mw, _, _ := controlSetup(t)
	logs := captureLogs(t)

	serve(mw, func(http.ResponseWriter, *http.Request) {}, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	serve(mw, func(http.ResponseWriter, *http.Request) {}, httptest.NewRequest(http.MethodPost, "/call/stop", nil))
	serve(mw, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("log lines = %d, want 3:\n%s", len(lines), logs)
	}
	for i, want := range []string{"level=DEBUG", "level=INFO", "level=ERROR"} {
		if !strings.Contains(lines[i], want) || !strings.Contains(lines[i], "trace_id=") {
			t.Errorf("line %d = %q, want %s with trace_id", i, lines[i], want)
		}
	}
}

func TestMiddleware_KeepsFlushAndHijack(t *testing.T) {
	mw, _, _ := controlSetup(t)

	var flushable, hijackable bool
	serve(mw, func(w http.ResponseWriter, _ *http.Request) {
		_, flushable = w.(http.Flusher)
		_, hijackable = w.(http.Hijacker)
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("ResponseController.Flush: %v", err)
		}
	}, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if !flushable || !hijackable {
		t.Errorf("flushable = %v, hijackable = %v, want both", flushable, hijackable)
	}
}

func spanAttr(attrs []attribute.KeyValue, key string) attribute.Value {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value
		}
	}
	return attribute.Value{}
}
