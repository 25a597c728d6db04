package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/embedding"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Supersession records one duplicate folded into a keeper
type Supersession struct {
	DuplicateID string  `json:"duplicate_id"`
	KeeperID    string  `json:"keeper_id"`
	Similarity  float64 `json:"similarity"`
}

// ReconcileReport summarizes one reconcile pass over an owner's records
type ReconcileReport struct {
	RunID      string         `json:"run_id"`
	OwnerID    string         `json:"owner_id"`
	Scanned    int            `json:"scanned"`
	Superseded []Supersession `json:"superseded"`
	Passes     int            `json:"passes"`
	Duration   time.Duration  `json:"duration"`
}

// Reconcile folds near-duplicate records of one owner together. Records are
// only compared within the same privacy level and scope; the oldest record of
// a duplicate pair is kept and absorbs the newer one, which is marked
// superseded rather than deleted. Passes repeat until nothing changes, so a
// second call on the same data is a no-op.
func (e *Engine) Reconcile(ctx context.Context, ownerID string) (ReconcileReport, error) {
	report := ReconcileReport{OwnerID: ownerID, Superseded: []Supersession{}}
	if ownerID == "" {
		return report, fmt.Errorf("%w: owner id is required", memory.ErrInvalidCandidate)
	}

	runID, err := gonanoid.New()
	if err != nil {
		return report, fmt.Errorf("failed to generate run id: %w", err)
	}
	report.RunID = runID

	ctx = tracing.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "recall.consolidation", "consolidation.reconcile",
		attribute.String("owner_id", ownerID),
		attribute.String("reconcile.run_id", runID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("owner_id", ownerID).Logger()
	start := time.Now()
	threshold := e.MergeThreshold()

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		records, err := e.store.ListByOwner(ctx, ownerID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list failed")
			return report, fmt.Errorf("failed to list records: %w", err)
		}
		if report.Passes == 0 {
			report.Scanned = len(records)
		}
		report.Passes++

		absorbed, err := e.reconcilePass(ctx, records, threshold)
		report.Superseded = append(report.Superseded, absorbed...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, err
		}
		if len(absorbed) == 0 || report.Passes > len(records) {
			break
		}
	}

	report.Duration = time.Since(start)
	observability.RecordSuperseded(len(report.Superseded))
	span.SetAttributes(attribute.Int("reconcile.superseded", len(report.Superseded)))

	logger.Info().
		Int("scanned", report.Scanned).
		Int("superseded", len(report.Superseded)).
		Int("passes", report.Passes).
		Dur("duration", report.Duration).
		Msg("Reconcile completed")

	return report, nil
}

func (e *Engine) reconcilePass(ctx context.Context, records []*memory.Record, threshold float64) ([]Supersession, error) {
	var out []Supersession
	gone := make(map[string]bool)

	for i, keeper := range records {
		if gone[keeper.ID] || len(keeper.Embedding) == 0 {
			continue
		}
		for _, dup := range records[i+1:] {
			if gone[dup.ID] || len(dup.Embedding) == 0 || !keeper.SameScope(dup) {
				continue
			}
			if !dup.Kind.MergeableWith(keeper.Kind) {
				continue
			}

			sim := embedding.Cosine(keeper.Embedding, dup.Embedding)
			if sim < threshold {
				continue
			}

			kind := keeper.Kind
			var promote memory.Kind
			if dup.Kind.Promotes(kind) {
				promote, kind = dup.Kind, dup.Kind
			}

			updated, err := e.store.Absorb(ctx, store.MergeParams{
				TargetID:     keeper.ID,
				OwnerID:      keeper.OwnerID,
				PrivacyLevel: keeper.PrivacyLevel,
				OriginScope:  keeper.OriginScope,
				Evidence:     dup.RawEvidence,
				Summary:      dup.TopicSummary,
				Embedding:    dup.Embedding,
				Hint:         dup.Confidence,
				Step:         MergeStep,
				Ceiling:      kind.Ceiling(),
				Sources:      dup.SourceCount,
				Promote:      promote,
			}, dup.ID)
			if errors.Is(err, memory.ErrNotFound) {
				// lost a race with an ingest or another reconcile
				gone[dup.ID] = true
				continue
			}
			if err != nil {
				return out, fmt.Errorf("failed to absorb %s into %s: %w", dup.ID, keeper.ID, err)
			}

			gone[dup.ID] = true
			out = append(out, Supersession{DuplicateID: dup.ID, KeeperID: keeper.ID, Similarity: sim})
			observability.RecordSupersedeAudit(ctx, dup.ID, keeper.ID, sim)

			tracing.LoggerFromContext(ctx, e.logger).Info().
				Str("duplicate_id", dup.ID).
				Str("keeper_id", keeper.ID).
				Float64("similarity", sim).
				Msg("Duplicate record superseded")

			if updated != nil {
				keeper.Kind = updated.Kind
				if len(updated.Embedding) > 0 {
					keeper.TopicSummary = updated.TopicSummary
					keeper.Embedding = updated.Embedding
				}
			}
		}
	}

	return out, nil
}
