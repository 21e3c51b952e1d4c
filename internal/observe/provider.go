package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// serviceName is reported as service.name on every metric and span.
const serviceName = "scribeline"

// ProviderConfig describes the overlay server instance the telemetry belongs
// to.
type ProviderConfig struct {
	// Version is the build version, reported as service.version.
	Version string

	// ListenAddr identifies the instance when several overlay servers run on
	// one machine. Reported as service.instance.id.
	ListenAddr string

	// HostOrigin is the web app origin the overlay practices against.
	HostOrigin string

	// Registerer receives the Prometheus collector. Default:
	// [prometheus.DefaultRegisterer], which the /metrics route serves.
	Registerer prometheus.Registerer

	// TraceExporter is optional. Without one, spans still carry trace IDs for
	// correlation but are never exported.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry owns the meter and tracer providers of a running server and the
// [Metrics] recorded through them.
type Telemetry struct {
	// Metrics is bound to this Telemetry's meter provider.
	Metrics *Metrics

	shutdown []func(context.Context) error
}

// InitProvider registers global meter and tracer providers describing the
// instance in cfg, with metrics exported to Prometheus.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.Version),
	}
	if cfg.ListenAddr != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.ListenAddr))
	}
	if cfg.HostOrigin != "" {
		attrs = append(attrs, attribute.String("scribeline.host.origin", cfg.HostOrigin))
	}
	// Schemaless, so the SDK's default resource keeps its own schema URL.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var expOpts []promexporter.Option
	if cfg.Registerer != nil {
		expOpts = append(expOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(expOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(promExp))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	m, err := NewMetrics(mp)
	if err != nil {
		return nil, errors.Join(err, mp.Shutdown(ctx), tp.Shutdown(ctx))
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return &Telemetry{
		Metrics:  m,
		shutdown: []func(context.Context) error{mp.Shutdown, tp.Shutdown},
	}, nil
}

// Shutdown flushes and closes both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
