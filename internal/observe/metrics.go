// Package observe provides application-wide observability primitives for
// livecast: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
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

// meterName is the instrumentation scope name used for all livecast metrics.
const meterName = "github.com/MrWong99/livecast"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Segment flow ---

	// SegmentsReceived counts audio segments delivered by the channel.
	SegmentsReceived metric.Int64Counter

	// SegmentsPlayed counts segments that reached their natural end.
	SegmentsPlayed metric.Int64Counter

	// SegmentsDiscarded counts segments removed before finishing. Use with
	// attribute:
	//   attribute.String("reason", "interruption" | "teardown" | "device")
	SegmentsDiscarded metric.Int64Counter

	// QueueDepth tracks the number of non-terminal segments.
	QueueDepth metric.Int64UpDownCounter

	// --- Flow control and interruptions ---

	// BackpressureSignals counts ready_for_next tokens. Use with attribute:
	//   attribute.String("status", "ok" | "error")
	BackpressureSignals metric.Int64Counter

	// Interruptions counts completed question exchanges. Use with attribute:
	//   attribute.String("status", "answered" | "failed")
	Interruptions metric.Int64Counter

	// AskDuration tracks the latency of the out-of-band question exchange.
	AskDuration metric.Float64Histogram

	// --- Errors ---

	// Errors counts surfaced failures. Use with attribute:
	//   attribute.String("kind", "channel" | "interruption" | "device")
	Errors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// askBuckets defines histogram bucket boundaries (in seconds) for question
// round trips, which include server-side transcription and generation.
var askBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.SegmentsReceived, err = m.Int64Counter("livecast.segments.received",
		metric.WithDescription("Total audio segments received from the channel."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsPlayed, err = m.Int64Counter("livecast.segments.played",
		metric.WithDescription("Total segments played to their natural end."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("livecast.segments.discarded",
		metric.WithDescription("Total segments discarded before finishing, by reason."),
	); err != nil {
		return nil, err
	}
	if met.BackpressureSignals, err = m.Int64Counter("livecast.backpressure.signals",
		metric.WithDescription("Total flow-control tokens sent, by status."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("livecast.interruptions",
		metric.WithDescription("Total question exchanges, by status."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("livecast.errors",
		metric.WithDescription("Total surfaced failures, by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("livecast.queue.depth",
		metric.WithDescription("Number of segments playing or waiting to play."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.AskDuration, err = m.Float64Histogram("livecast.ask.duration",
		metric.WithDescription("Latency of the out-of-band question exchange."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(askBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("livecast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordDiscarded adds n discarded segments with the given reason.
func (m *Metrics) RecordDiscarded(ctx context.Context, n int, reason string) {
	if n <= 0 {
		return
	}
	m.SegmentsDiscarded.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSignal records one flow-control token with its send status.
func (m *Metrics) RecordSignal(ctx context.Context, status string) {
	m.BackpressureSignals.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordInterruption records a finished question exchange and its latency.
func (m *Metrics) RecordInterruption(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Interruptions.Add(ctx, 1, attrs)
	m.AskDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordError records one surfaced failure of the given kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
