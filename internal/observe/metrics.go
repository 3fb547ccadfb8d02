// Package observe provides application-wide observability primitives for
// Voxgate: OpenTelemetry metrics, tracing helpers, and the Prometheus
// exporter bridge.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxgate metrics.
const meterName = "github.com/MrWong99/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ResolutionDuration tracks transport-profile resolution latency.
	ResolutionDuration metric.Float64Histogram

	// --- Counters ---

	// CallsStarted counts call sessions started. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("profile", ...)
	CallsStarted metric.Int64Counter

	// CallsFailed counts calls that could not be started or were aborted.
	// Use with attribute.String("reason", ...).
	CallsFailed metric.Int64Counter

	// Remediations counts format substitutions made during negotiation.
	// Use with attribute.String("provider", ...).
	Remediations metric.Int64Counter

	// Underflows counts playback ticks where the buffer was starved
	// mid-stream. Use with attribute.String("call_id", ...).
	Underflows metric.Int64Counter

	// GateClosures counts gate close transitions per call.
	GateClosures metric.Int64Counter

	// FrameFailures counts dropped provider frames that failed transcoding.
	FrameFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter

	// DriftPercent records the playback drift percentage observed when a
	// call leg closes (delivered audio time vs wall-clock expectation).
	DriftPercent metric.Float64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for resolution latencies, which should stay well under a frame interval.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ResolutionDuration, err = m.Float64Histogram("voxgate.transport.resolution.duration",
		metric.WithDescription("Latency of transport profile resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CallsStarted, err = m.Int64Counter("voxgate.calls.started",
		metric.WithDescription("Total call sessions started by provider and profile."),
	); err != nil {
		return nil, err
	}
	if met.CallsFailed, err = m.Int64Counter("voxgate.calls.failed",
		metric.WithDescription("Total calls aborted or failed to start, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Remediations, err = m.Int64Counter("voxgate.negotiation.remediations",
		metric.WithDescription("Total format substitutions made during capability negotiation."),
	); err != nil {
		return nil, err
	}
	if met.Underflows, err = m.Int64Counter("voxgate.playback.underflows",
		metric.WithDescription("Playback ticks with a starved buffer mid-stream."),
	); err != nil {
		return nil, err
	}
	if met.GateClosures, err = m.Int64Counter("voxgate.gate.closures",
		metric.WithDescription("Gate close transitions."),
	); err != nil {
		return nil, err
	}
	if met.FrameFailures, err = m.Int64Counter("voxgate.playback.frame_failures",
		metric.WithDescription("Provider frames dropped after a transcoding failure."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("voxgate.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.DriftPercent, err = m.Float64Gauge("voxgate.playback.drift_percent",
		metric.WithDescription("Playback drift percentage at call-leg close."),
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

// RecordCallStarted records a call-start counter increment with the standard
// attribute set.
func (m *Metrics) RecordCallStarted(ctx context.Context, provider, profile string) {
	m.CallsStarted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("profile", profile),
		),
	)
}

// RecordCallFailed records a call failure with its reason.
func (m *Metrics) RecordCallFailed(ctx context.Context, reason string) {
	m.CallsFailed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordRemediation records one negotiation substitution for provider.
func (m *Metrics) RecordRemediation(ctx context.Context, provider string) {
	m.Remediations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
