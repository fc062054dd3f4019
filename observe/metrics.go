package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records cache and fetch metrics for queries.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordFetch records one settled fetch with its duration, the number
	// of fetcher invocations it took, and the terminal error status.
	RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, attempts int, err error)

	// RecordLookup records one cache freshness decision.
	RecordLookup(ctx context.Context, meta QueryMeta, hit bool)

	// RecordEntries records the current store entry count.
	RecordEntries(ctx context.Context, count int)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	fetchCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	retryCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	lookupCount  metric.Int64Counter
	entriesGauge metric.Int64Gauge
}

// NewMetrics creates a Metrics instance recording on the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	fetchCount, err := meter.Int64Counter(
		"query.fetch.total",
		metric.WithDescription("Total number of query fetches"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"query.fetch.errors",
		metric.WithDescription("Total number of query fetch errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"query.fetch.retries",
		metric.WithDescription("Total number of fetch retry attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"query.fetch.duration_ms",
		metric.WithDescription("Query fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	lookupCount, err := meter.Int64Counter(
		"query.lookup.total",
		metric.WithDescription("Total number of cache freshness decisions"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	entriesGauge, err := meter.Int64Gauge(
		"query.store.entries",
		metric.WithDescription("Current number of store entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		fetchCount:   fetchCount,
		errorCount:   errorCount,
		retryCount:   retryCount,
		durationHist: durationHist,
		lookupCount:  lookupCount,
		entriesGauge: entriesGauge,
	}, nil
}

// RecordFetch records metrics for one settled fetch.
func (m *metricsImpl) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, attempts int, err error) {
	opt := metric.WithAttributes(m.attrs(meta)...)

	m.fetchCount.Add(ctx, 1, opt)

	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}

	// Attempts beyond the first are retries.
	if attempts > 1 {
		m.retryCount.Add(ctx, int64(attempts-1), opt)
	}

	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordLookup records one freshness decision with its hit status.
func (m *metricsImpl) RecordLookup(ctx context.Context, meta QueryMeta, hit bool) {
	attrs := append(m.attrs(meta), attribute.Bool("cache.hit", hit))
	m.lookupCount.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEntries records the current store entry count.
func (m *metricsImpl) RecordEntries(ctx context.Context, count int) {
	m.entriesGauge.Record(ctx, int64(count))
}

// attrs builds common metric attributes. Canonical hashes are unbounded,
// so metric attributes stick to the group root.
func (m *metricsImpl) attrs(meta QueryMeta) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("query.root", meta.GroupRoot()),
	}
	if meta.Source != "" {
		attrs = append(attrs, attribute.String("query.source", meta.Source))
	}
	return attrs
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordFetch(ctx context.Context, meta QueryMeta, duration time.Duration, attempts int, err error) {
}
func (m *noopMetrics) RecordLookup(ctx context.Context, meta QueryMeta, hit bool) {}
func (m *noopMetrics) RecordEntries(ctx context.Context, count int)               {}

// NoopMetrics returns a metrics recorder that discards everything.
func NoopMetrics() Metrics {
	return &noopMetrics{}
}
