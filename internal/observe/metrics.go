// Package observe provides application-wide observability primitives for
// scribeline: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider], whose [Telemetry] carries the
// server's [Metrics]. [DefaultMetrics] serves components built without one;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all scribeline metrics.
const meterName = "github.com/MrWong99/scribeline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RebuildDuration tracks how long a sentence list rebuild takes.
	RebuildDuration metric.Float64Histogram

	// --- Counters ---

	// PayloadsCaptured counts payloads accepted into the catalog. Use with
	// attribute:
	//   attribute.String("kind", ...)
	PayloadsCaptured metric.Int64Counter

	// PayloadsDropped counts payloads that never reached the catalog. Use with
	// attributes:
	//   attribute.String("stage", ...), attribute.String("reason", ...)
	PayloadsDropped metric.Int64Counter

	// Keystrokes counts handled key events. Use with attribute:
	//   attribute.String("outcome", ...)
	Keystrokes metric.Int64Counter

	// Rebuilds counts sentence list rebuilds. Use with attribute:
	//   attribute.String("result", ...)
	Rebuilds metric.Int64Counter

	// SentencesCompleted counts sentences typed to the end.
	SentencesCompleted metric.Int64Counter

	// --- Gauges ---

	// ActiveOverlays tracks the number of connected overlay links.
	ActiveOverlays metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// in-process work that should finish well within a frame.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RebuildDuration, err = m.Float64Histogram("scribeline.content.rebuild.duration",
		metric.WithDescription("Latency of rebuilding the sentence list from captured payloads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PayloadsCaptured, err = m.Int64Counter("scribeline.payloads.captured",
		metric.WithDescription("Total captured payloads stored in the catalog by kind."),
	); err != nil {
		return nil, err
	}
	if met.PayloadsDropped, err = m.Int64Counter("scribeline.payloads.dropped",
		metric.WithDescription("Total payloads dropped by pipeline stage and reason."),
	); err != nil {
		return nil, err
	}
	if met.Keystrokes, err = m.Int64Counter("scribeline.keystrokes",
		metric.WithDescription("Total key events handled by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Rebuilds, err = m.Int64Counter("scribeline.content.rebuilds",
		metric.WithDescription("Total sentence list rebuilds by result."),
	); err != nil {
		return nil, err
	}
	if met.SentencesCompleted, err = m.Int64Counter("scribeline.sentences.completed",
		metric.WithDescription("Total sentences typed to completion."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveOverlays, err = m.Int64UpDownCounter("scribeline.active_overlays",
		metric.WithDescription("Number of connected overlay links."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scribeline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPayload records a payload stored in the catalog.
func (m *Metrics) RecordPayload(ctx context.Context, kind string) {
	m.PayloadsCaptured.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordDrop records a payload lost at stage ("capture", "relay", "catalog").
func (m *Metrics) RecordDrop(ctx context.Context, stage, reason string) {
	m.PayloadsDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("reason", reason),
		),
	)
}

// RecordKeystroke records one handled key event.
func (m *Metrics) RecordKeystroke(ctx context.Context, outcome string) {
	m.Keystrokes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordRebuild records a sentence list rebuild and its latency.
func (m *Metrics) RecordRebuild(ctx context.Context, result string, d time.Duration) {
	m.Rebuilds.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
	m.RebuildDuration.Record(ctx, d.Seconds())
}

// RecordCompletion records a completed sentence.
func (m *Metrics) RecordCompletion(ctx context.Context) {
	m.SentencesCompleted.Add(ctx, 1)
}
