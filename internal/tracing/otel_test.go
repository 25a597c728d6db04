package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewProviderSampling(t *testing.T) {
	tests := []struct {
		ratio   float64
		sampled bool
	}{
		{1, true},
		{0, false},
	}

	for _, tt := range tests {
		tp, err := newProvider(Config{ServiceName: "recall-test", SampleRatio: tt.ratio})
		if err != nil {
			t.Fatalf("newProvider failed: %v", err)
		}

		_, span := tp.Tracer("recall.test").Start(context.Background(), "test.span")
		if got := span.SpanContext().IsSampled(); got != tt.sampled {
			t.Errorf("ratio %g: expected sampled=%v, got %v", tt.ratio, tt.sampled, got)
		}
		if !span.SpanContext().IsValid() {
			t.Errorf("ratio %g: span context should carry a trace id either way", tt.ratio)
		}
		span.End()
		_ = tp.Shutdown(context.Background())
	}
}

func TestNewProviderExportsServiceVersion(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := newProvider(Config{ServiceName: "recall-test", ServiceVersion: "1.2.3", SampleRatio: 1, Exporter: exp})
	if err != nil {
		t.Fatalf("newProvider failed: %v", err)
	}

	_, span := tp.Tracer("recall.test").Start(context.Background(), "test.span")
	span.End()
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 exported span, got %d", len(spans))
	}

	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == semconv.ServiceVersionKey && kv.Value.AsString() == "1.2.3" {
			found = true
		}
	}
	if !found {
		t.Error("Exported span resource does not carry service.version")
	}
	_ = tp.Shutdown(context.Background())
}

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	tp, err := newProvider(Config{
		ServiceName: "recall-test",
		SampleRatio: 1,
		Exporter:    NewLogExporter(zerolog.New(&buf).Level(zerolog.DebugLevel)),
	})
	if err != nil {
		t.Fatalf("newProvider failed: %v", err)
	}

	_, span := tp.Tracer("recall.test").Start(context.Background(), "decay.run")
	span.SetStatus(codes.Error, "store closed")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, `"span":"decay.run"`) {
		t.Errorf("Log output does not name the span: %s", output)
	}
	if !strings.Contains(output, `"level":"warn"`) || !strings.Contains(output, "store closed") {
		t.Errorf("Failed span was not logged as a warning: %s", output)
	}
}
