// Package observe provides the observability primitives of callpilot:
// OpenTelemetry metrics, tracing, trace-aware logging, HTTP middleware and
// optional Sentry error reporting.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through a Prometheus bridge (see [InitProvider] and [MetricsHandler]). A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all callpilot metrics.
const meterName = "github.com/MrWong99/callpilot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks transcription latency per utterance.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks analysis latency. Use with attribute:
	//   attribute.String("op", "utterance"|"summary")
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts adapter calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts adapter failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Utterances counts segmented utterances by how they ended. Use with
	// attribute:
	//   attribute.String("outcome", "recorded"|"defaulted"|"skipped"|"dropped")
	Utterances metric.Int64Counter

	// Records counts analysis records handed to the sinks.
	Records metric.Int64Counter

	// SinkErrors counts failed appends. Use with attribute:
	//   attribute.String("sink", ...)
	SinkErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls is 1 while a call is running and 0 otherwise.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control-plane request time. [Middleware]
	// labels it with method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription and model calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("callpilot.stt.duration",
		metric.WithDescription("Latency of utterance transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("callpilot.llm.duration",
		metric.WithDescription("Latency of transcript analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("callpilot.provider.requests",
		metric.WithDescription("Total adapter calls by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("callpilot.provider.errors",
		metric.WithDescription("Total adapter failures by provider and error kind."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("callpilot.utterances",
		metric.WithDescription("Total segmented utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Records, err = m.Int64Counter("callpilot.records",
		metric.WithDescription("Total analysis records written."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("callpilot.sink.errors",
		metric.WithDescription("Total failed record appends by sink."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("callpilot.calls.active",
		metric.WithDescription("Number of running calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("callpilot.http.duration",
		metric.WithDescription("Control-plane request latency by method and path."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records an adapter call with the standard attribute
// set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records an adapter failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance counts one utterance with its outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSinkError counts one failed append on the named sink.
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
