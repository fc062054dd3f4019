package observe

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestInstrument_SuccessPath verifies a successful fetch records telemetry.
func TestInstrument_SuccessPath(t *testing.T) {
	// Set up tracing
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	tracer := NewTracer(tp.Tracer("test"))

	// Set up metrics
	metricReader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	metrics, _ := NewMetrics(mp.Meter("test"))

	in := NewInstrument(tracer, metrics, NoopLogger())

	meta := QueryMeta{Hash: "todos,1"}
	expectedResult := "fetched_value"

	fetch := func(ctx context.Context, meta QueryMeta) (any, error) {
		return expectedResult, nil
	}

	// Wrap and execute
	wrapped := in.Wrap(fetch)
	result, err := wrapped(context.Background(), meta)

	// Verify no error
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	// Verify result
	if result != expectedResult {
		t.Errorf("expected result %q, got %q", expectedResult, result)
	}

	// Verify span was recorded
	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "query.fetch.todos" {
		t.Errorf("expected span name 'query.fetch.todos', got %q", spans[0].Name())
	}

	// Verify metrics
	var rm metricdata.ResourceMetrics
	if err := metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	totalMetric := findMetric(rm, "query.fetch.total")
	if totalMetric == nil {
		t.Error("query.fetch.total metric not found")
	}
}

// TestInstrument_ErrorPath verifies a failed fetch records error telemetry.
func TestInstrument_ErrorPath(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	tracer := NewTracer(tp.Tracer("test"))

	metricReader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	metrics, _ := NewMetrics(mp.Meter("test"))

	in := NewInstrument(tracer, metrics, NoopLogger())

	meta := QueryMeta{Hash: "todos,1"}
	testErr := errors.New("fetch failed")

	fetch := func(ctx context.Context, meta QueryMeta) (any, error) {
		return nil, testErr
	}

	wrapped := in.Wrap(fetch)
	_, err := wrapped(context.Background(), meta)

	// Verify error returned unchanged
	if err != testErr {
		t.Errorf("expected error %v, got %v", testErr, err)
	}

	// Verify span has error status
	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	// Check query.error attribute
	var queryError bool
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "query.error" {
			queryError = attr.Value.AsBool()
		}
	}
	if !queryError {
		t.Error("expected query.error=true on failed fetch")
	}

	// Verify error metric incremented
	var rm metricdata.ResourceMetrics
	if err := metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	errMetric := findMetric(rm, "query.fetch.errors")
	if errMetric == nil {
		t.Error("query.fetch.errors metric not found")
	} else {
		sum, ok := errMetric.Data.(metricdata.Sum[int64])
		if ok && len(sum.DataPoints) > 0 && sum.DataPoints[0].Value != 1 {
			t.Errorf("expected errors count 1, got %d", sum.DataPoints[0].Value)
		}
	}
}

// TestInstrument_PropagatesContext verifies context is passed through.
func TestInstrument_PropagatesContext(t *testing.T) {
	in := NewInstrument(NoopTracer(), NoopMetrics(), NoopLogger())

	meta := QueryMeta{Hash: "todos"}

	type ctxKey string
	testKey := ctxKey("test")
	testValue := "test_value"

	var receivedValue any

	fetch := func(ctx context.Context, meta QueryMeta) (any, error) {
		receivedValue = ctx.Value(testKey)
		return nil, nil
	}

	wrapped := in.Wrap(fetch)
	ctx := context.WithValue(context.Background(), testKey, testValue)
	if _, err := wrapped(ctx, meta); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}

	if receivedValue != testValue {
		t.Errorf("expected context value %q, got %v", testValue, receivedValue)
	}
}

// TestInstrument_ReturnsOriginalResult verifies exact result is returned.
func TestInstrument_ReturnsOriginalResult(t *testing.T) {
	in := NewInstrument(NoopTracer(), NoopMetrics(), NoopLogger())

	meta := QueryMeta{Hash: "todos"}

	type payload struct {
		IDs []int
	}

	expectedResult := &payload{IDs: []int{1, 2, 3}}

	fetch := func(ctx context.Context, meta QueryMeta) (any, error) {
		return expectedResult, nil
	}

	wrapped := in.Wrap(fetch)
	result, err := wrapped(context.Background(), meta)
	if err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}

	// Verify exact same pointer is returned
	if result != expectedResult {
		t.Error("instrument did not return exact same result object")
	}

	// Also verify deep equality
	if !reflect.DeepEqual(result, expectedResult) {
		t.Errorf("result mismatch: got %v, want %v", result, expectedResult)
	}
}

// TestInstrument_MeasuresDuration verifies duration is recorded.
func TestInstrument_MeasuresDuration(t *testing.T) {
	metricReader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	metrics, _ := NewMetrics(mp.Meter("test"))

	in := NewInstrument(NoopTracer(), metrics, NoopLogger())

	meta := QueryMeta{Hash: "todos"}

	fetch := func(ctx context.Context, meta QueryMeta) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	}

	wrapped := in.Wrap(fetch)
	if _, err := wrapped(context.Background(), meta); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	durationMetric := findMetric(rm, "query.fetch.duration_ms")
	if durationMetric == nil {
		t.Fatal("query.fetch.duration_ms metric not found")
	}

	hist, ok := durationMetric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram, got %T", durationMetric.Data)
	}

	if len(hist.DataPoints) == 0 {
		t.Fatal("no histogram data points")
	}

	// Duration should be at least 100ms
	if hist.DataPoints[0].Sum < 90 {
		t.Errorf("expected duration >= 90ms, got %f", hist.DataPoints[0].Sum)
	}
}

// TestInstrument_DisabledNoop verifies noop components still execute the fetch.
func TestInstrument_DisabledNoop(t *testing.T) {
	in := NewInstrument(NoopTracer(), NoopMetrics(), NoopLogger())

	meta := QueryMeta{Hash: "todos"}
	expectedResult := "noop_result"

	fetch := func(ctx context.Context, meta QueryMeta) (any, error) {
		return expectedResult, nil
	}

	wrapped := in.Wrap(fetch)
	result, err := wrapped(context.Background(), meta)

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result != expectedResult {
		t.Errorf("expected result %q, got %q", expectedResult, result)
	}
}

// TestInstrumentFromObserver verifies the convenience constructor produces a
// working instrument.
func TestInstrumentFromObserver(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "test-service"})
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}

	in, err := InstrumentFromObserver(obs)
	if err != nil {
		t.Fatalf("InstrumentFromObserver failed: %v", err)
	}

	wrapped := in.Wrap(func(ctx context.Context, meta QueryMeta) (any, error) {
		return 42, nil
	})
	result, err := wrapped(context.Background(), QueryMeta{Hash: "todos"})
	if err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %v", result)
	}
}
