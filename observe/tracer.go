package observe

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// QueryMeta contains metadata about one cached query for telemetry purposes.
type QueryMeta struct {
	Hash   string // Canonical key (required)
	Root   string // Group root; derived from Hash when empty
	Source string // What initiated the fetch: execute, refetch, invalidate, mutate (optional)
}

// GroupRoot returns the group root for this query: the Root field if set,
// otherwise everything in the canonical key up to the first sequence
// delimiter.
func (m QueryMeta) GroupRoot() string {
	if m.Root != "" {
		return m.Root
	}
	if i := strings.IndexByte(m.Hash, ','); i >= 0 {
		return m.Hash[:i]
	}
	return m.Hash
}

// SpanName returns the deterministic span name for this query.
// Format: query.fetch.<group root>
func (m QueryMeta) SpanName() string {
	return "query.fetch." + m.GroupRoot()
}

// Validate checks that the metadata identifies a query.
func (m QueryMeta) Validate() error {
	if m.Hash == "" {
		return ErrMissingQueryHash
	}
	return nil
}

// Tracer wraps OpenTelemetry tracing with query-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan must honor cancellation/deadlines and return ctx.Err() when canceled.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a query fetch.
	StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with query metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("query.hash", meta.Hash),
		attribute.String("query.root", meta.GroupRoot()),
		attribute.Bool("query.error", false), // Will be updated in EndSpan if error
	}
	if meta.Source != "" {
		attrs = append(attrs, attribute.String("query.source", meta.Source))
	}

	ctx, span := t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("query.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
