package observe

import (
	"context"
	"time"
)

// FetchFunc is the signature for instrumented fetch functions.
// This is the standard function signature that Instrument wraps.
type FetchFunc func(ctx context.Context, meta QueryMeta) (any, error)

// Instrument wraps a fetch with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe FetchFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
//   - Ownership: Result values are passed through without modification.
type Instrument struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewInstrument creates a new Instrument with the given observability components.
func NewInstrument(tracer Tracer, metrics Metrics, logger Logger) *Instrument {
	return &Instrument{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps a FetchFunc with tracing, metrics, and logging. The wrapped
// call records a single attempt; callers running their own retry loops
// should record through Metrics directly.
func (in *Instrument) Wrap(fn FetchFunc) FetchFunc {
	return func(ctx context.Context, meta QueryMeta) (any, error) {
		ctx, span := in.tracer.StartSpan(ctx, meta)

		start := time.Now()
		result, err := fn(ctx, meta)
		duration := time.Since(start)

		in.tracer.EndSpan(span, err)
		in.metrics.RecordFetch(ctx, meta, duration, 1, err)

		queryLogger := in.logger.WithQuery(meta)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			queryLogger.Error(ctx, "query fetch failed", fields...)
		} else {
			queryLogger.Debug(ctx, "query fetch completed", fields...)
		}

		return result, err
	}
}

// InstrumentFromObserver creates an Instrument from an Observer.
// This is a convenience function for common use cases.
func InstrumentFromObserver(obs Observer) (*Instrument, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewInstrument(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
