package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "callpilot".
	ServiceName    string
	ServiceVersion string

	// Environment is reported as deployment.environment when set.
	Environment string

	// SampleRatio is the fraction of root spans (one per utterance or
	// summary outside a request) that are sampled. Child spans follow their
	// parent. Values outside [0, 1] are clamped.
	SampleRatio float64

	// TraceExporter receives sampled spans. Nil keeps spans in-process,
	// which still gives log lines their trace and span IDs.
	TraceExporter sdktrace.SpanExporter
}

// resource describes this process in every metric and span. OTEL_SERVICE_NAME
// and OTEL_RESOURCE_ATTRIBUTES override the configured values.
func (cfg ProviderConfig) resource(ctx context.Context) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "callpilot"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
	)
}

// sampler honours the caller's decision for propagated traces and samples
// SampleRatio of new ones.
func (cfg ProviderConfig) sampler() sdktrace.Sampler {
	ratio := min(max(cfg.SampleRatio, 0), 1)
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// InitProvider registers the global meter and tracer providers. Metrics are
// exported through the Prometheus bridge and served by [MetricsHandler].
// The returned shutdown flushes both and should be deferred from main.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// MetricsHandler serves the metrics registered by the Prometheus exporter
// bridge in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
