package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans to a zerolog logger. Successful spans
// log at debug level, failed ones at warn.
type LogExporter struct {
	logger zerolog.Logger
}

// NewLogExporter creates an exporter writing to logger
func NewLogExporter(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger.With().Str("component", "tracing").Logger()}
}

// ExportSpans implements sdktrace.SpanExporter
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		ev := e.logger.Debug()
		if s.Status().Code == codes.Error {
			ev = e.logger.Warn().Str("status", s.Status().Description)
		}

		sc := s.SpanContext()
		ev = ev.
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Str("span", s.Name()).
			Dur("duration", s.EndTime().Sub(s.StartTime()))
		for _, kv := range s.Attributes() {
			ev = ev.Str(string(kv.Key), kv.Value.Emit())
		}
		ev.Msg("Span finished")
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter
func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}
