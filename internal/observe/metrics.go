// Package observe provides application-wide observability primitives for
// scribeval: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all scribeval metrics.
const meterName = "github.com/MrWong99/scribeval"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StepDuration tracks per-pipeline-step latency. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StepDuration metric.Float64Histogram

	// RunDuration tracks end-to-end evaluator run latency. Use with attribute:
	//   attribute.String("status", ...)
	RunDuration metric.Float64Histogram

	// LLMDuration tracks LLM invocation latency. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("model", ...)
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// JobSubmissions counts backend job submissions. Use with attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	JobSubmissions metric.Int64Counter

	// JobCancellations counts cancel requests sent to the backend.
	JobCancellations metric.Int64Counter

	// PollErrors counts transient probe errors swallowed by the polling loop.
	PollErrors metric.Int64Counter

	// ParseFallbacks counts LLM responses that required the permissive
	// JSON-extraction fallback instead of a strict parse.
	ParseFallbacks metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of evaluator runs currently in flight.
	ActiveRuns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// multi-minute evaluation jobs rather than sub-second request handling.
var latencyBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StepDuration, err = m.Float64Histogram("scribeval.step.duration",
		metric.WithDescription("Latency of one evaluation pipeline step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RunDuration, err = m.Float64Histogram("scribeval.run.duration",
		metric.WithDescription("End-to-end evaluator run latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("scribeval.llm.duration",
		metric.WithDescription("Latency of LLM invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.JobSubmissions, err = m.Int64Counter("scribeval.job.submissions",
		metric.WithDescription("Total backend job submissions by type and status."),
	); err != nil {
		return nil, err
	}
	if met.JobCancellations, err = m.Int64Counter("scribeval.job.cancellations",
		metric.WithDescription("Total cancel requests sent to the backend."),
	); err != nil {
		return nil, err
	}
	if met.PollErrors, err = m.Int64Counter("scribeval.poll.errors",
		metric.WithDescription("Transient probe errors swallowed by the polling loop."),
	); err != nil {
		return nil, err
	}
	if met.ParseFallbacks, err = m.Int64Counter("scribeval.parse.fallbacks",
		metric.WithDescription("LLM responses that needed the permissive JSON extraction fallback."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRuns, err = m.Int64UpDownCounter("scribeval.active_runs",
		metric.WithDescription("Number of evaluator runs currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scribeval.http.request.duration",
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

// RecordStepDuration records one pipeline step's latency with the standard
// attribute set.
func (m *Metrics) RecordStepDuration(ctx context.Context, stage, status string, seconds float64) {
	m.StepDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordRunDuration records one evaluator run's end-to-end latency.
func (m *Metrics) RecordRunDuration(ctx context.Context, status string, seconds float64) {
	m.RunDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordJobSubmission records a job submission counter increment with the
// standard attribute set.
func (m *Metrics) RecordJobSubmission(ctx context.Context, jobType, status string) {
	m.JobSubmissions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", jobType),
			attribute.String("status", status),
		),
	)
}

// RecordJobCancellation records a cancel-request counter increment.
func (m *Metrics) RecordJobCancellation(ctx context.Context, jobType string) {
	m.JobCancellations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", jobType)),
	)
}
