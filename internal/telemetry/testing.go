package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is a Telemetry wired to in-memory exporters so tests can
// assert on the spans and counters the pipeline emits without a collector.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	metricReader *sdkmetric.ManualReader
}

// NewTestTelemetry creates telemetry with in-memory exporters.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spanRecorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	tel := &Telemetry{
		config:  cfg,
		traces:  trace.NewTracerProvider(trace.WithSpanProcessor(spanRecorder)),
		metrics: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	tel.healthy.Store(true)

	return &TestTelemetry{
		Telemetry:    tel,
		SpanRecorder: spanRecorder,
		metricReader: reader,
	}
}

// Spans returns all ended spans.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName finds an ended span by name, or nil.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// CollectMetrics gathers everything recorded so far.
func (t *TestTelemetry) CollectMetrics(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.metricReader.Collect(ctx, &rm)
	return rm, err
}

// AssertSpanExists fails the test when no span with the given name ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute verifies a span carries the expected attribute value.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName string, key string, expected interface{}) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}

	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			got := attrValue(attr.Value)
			if got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

func attrValue(v attribute.Value) interface{} {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}
