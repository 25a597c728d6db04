package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRequesterID(ctx, "alice")

	var buf bytes.Buffer
	logger := PropagateToLogger(ctx, zerolog.New(&buf))
	logger.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "trace-123") {
		t.Error("Logger output does not contain trace ID")
	}
	if !strings.Contains(output, `"requester_id":"alice"`) {
		t.Error("Logger output does not contain requester ID")
	}
	if strings.Contains(output, "run_id") {
		t.Error("Logger output contains unset run ID")
	}
}

func TestLoggerFromContext(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")

	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("test")

	if !strings.Contains(buf.String(), "run-1") {
		t.Error("Logger output does not contain run ID")
	}
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(WithTraceID(context.Background(), "trace-123"))
	detached := Detach(parent)
	cancel()

	if detached.Err() != nil {
		t.Error("Detached context was cancelled with its parent")
	}
	if GetTraceID(detached) != "trace-123" {
		t.Errorf("Expected trace ID trace-123, got %s", GetTraceID(detached))
	}
}

func TestStartSpanSetsTraceID(t *testing.T) {
	if err := InitOpenTelemetry(Config{ServiceName: "recall-test", SampleRatio: 1}); err != nil {
		t.Fatalf("InitOpenTelemetry failed: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "recall.test", "test.span")
	defer span.End()

	if GetTraceID(ctx) == "" {
		t.Error("StartSpan did not propagate trace ID")
	}
}
