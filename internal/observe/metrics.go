// Package observe provides application-wide observability primitives for
// askdb: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all askdb metrics.
const meterName = "github.com/MrWong99/askdb"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use, the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks per-stage pipeline latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end request latency.
	PipelineDuration metric.Float64Histogram

	// SQLExecutionDuration tracks database execution latency for generated SQL.
	SQLExecutionDuration metric.Float64Histogram

	// CacheLookups counts cache lookups. Use with attribute:
	//   attribute.String("status", ...) — "miss", "db_exact_hit", "vector_hit"
	CacheLookups metric.Int64Counter

	// PipelineOutcomes counts finished requests. Use with attribute:
	//   attribute.String("outcome", ...) — "success", "validation_error",
	//   "execution_error", "processing_error"
	PipelineOutcomes metric.Int64Counter

	// LLMTokens counts tokens consumed. Use with attributes:
	//   attribute.String("model", ...), attribute.String("kind", ...)
	//   where kind is "prompt" or "completion".
	LLMTokens metric.Int64Counter

	// ProviderErrors counts model-provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM-backed request latencies.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("askdb.stage.duration",
		metric.WithDescription("Latency of a single pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("askdb.pipeline.duration",
		metric.WithDescription("End-to-end query processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SQLExecutionDuration, err = m.Float64Histogram("askdb.sql.duration",
		metric.WithDescription("Database execution latency of generated SQL."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CacheLookups, err = m.Int64Counter("askdb.cache.lookups",
		metric.WithDescription("Total cache lookups by status."),
	); err != nil {
		return nil, err
	}
	if met.PipelineOutcomes, err = m.Int64Counter("askdb.pipeline.outcomes",
		metric.WithDescription("Total finished requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("askdb.llm.tokens",
		metric.WithDescription("Total LLM tokens consumed by model and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("askdb.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("askdb.http.request.duration",
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

// RecordStage records a stage duration in seconds under the stage attribute.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordCacheLookup records a cache lookup counter increment with the given
// status ("miss", "db_exact_hit", or "vector_hit").
func (m *Metrics) RecordCacheLookup(ctx context.Context, status string) {
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordOutcome records a finished request under the outcome attribute.
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	m.PipelineOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordTokens records prompt and completion token counts for model.
func (m *Metrics) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64) {
	if promptTokens > 0 {
		m.LLMTokens.Add(ctx, promptTokens, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("kind", "prompt"),
		))
	}
	if completionTokens > 0 {
		m.LLMTokens.Add(ctx, completionTokens, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("kind", "completion"),
		))
	}
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
