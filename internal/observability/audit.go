package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/harun/recall/internal/logger"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`  // operator, "decay" or "reconcile"
	Record    string                 `json:"record,omitempty"` // affected record id
	Action    string                 `json:"action"`           // e.g., "pending_cleanup", "privacy_override"
	Status    string                 `json:"status"`           // "success", "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger handles recording and persisting audit events
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   io.Closer
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the global audit logger instance
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		// Default to stderr if not initialized
		auditInst = NewAuditLogger(os.Stderr)
	}
	return auditInst
}

// NewAuditLogger creates an audit logger writing JSON lines to w
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// InitAuditLogger points the global audit logger at a size-rotated file.
// Audit files are never aged out; MaxBackups alone bounds retention.
func InitAuditLogger(cfg logger.RotationConfig) error {
	cfg.MaxAgeDays = 0
	w, err := logger.NewRotatingWriter(cfg)
	if err != nil {
		return err
	}

	a := NewAuditLogger(w)
	a.file = w
	SetAuditLogger(a)
	return nil
}

// SetAuditLogger replaces the global audit logger, closing the previous one
func SetAuditLogger(a *AuditLogger) {
	auditMu.Lock()
	prev := auditInst
	auditInst = a
	auditMu.Unlock()
	if prev != nil && prev != a {
		prev.Close()
	}
}

// Record emits an audit event to the log file and optionally to OpenTelemetry
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Extract tracing info if available
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
			attribute.String("audit.record", event.Record),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("record", event.Record).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// Helper methods for common events

func RecordCleanupAudit(ctx context.Context, recordID string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "decay",
		Actor:    "decay",
		Record:   recordID,
		Action:   "pending_cleanup",
		Status:   "success",
		Metadata: metadata,
	})
}

func RecordSupersedeAudit(ctx context.Context, duplicateID, keeperID string, similarity float64) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:   "consolidation",
		Actor:  "reconcile",
		Record: duplicateID,
		Action: "superseded",
		Status: "success",
		Metadata: map[string]interface{}{
			"keeper":     keeperID,
			"similarity": similarity,
		},
	})
}

func RecordPrivacyAudit(ctx context.Context, recordID, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "privacy",
		Actor:    actor,
		Record:   recordID,
		Action:   "privacy_override",
		Status:   status,
		Metadata: metadata,
	})
}

func RecordProtectionAudit(ctx context.Context, recordID, actor string, protected bool) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "decay",
		Actor:    actor,
		Record:   recordID,
		Action:   "protection_changed",
		Status:   "success",
		Metadata: map[string]interface{}{"protected": protected},
	})
}
