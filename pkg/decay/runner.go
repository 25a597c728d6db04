package decay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still executing.
var ErrRunInProgress = errors.New("decay run already in progress")

// Store is the part of the record store the decay job needs
type Store interface {
	DecayCandidates(ctx context.Context, cutoff time.Time, afterSeq int64, limit int) ([]store.DecayCandidate, error)
	ApplyDecay(ctx context.Context, c store.DecayCandidate, confidence float64, policy memory.DecayPolicy) (bool, error)
}

// Config holds runner configuration
type Config struct {
	Params    Params
	BatchSize int
	Logger    zerolog.Logger
	Now       func() time.Time
}

// RunReport summarizes one decay run
type RunReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Scanned    int           `json:"scanned"`
	Decayed    int           `json:"decayed"`
	Flagged    int           `json:"flagged"`
	Unchanged  int           `json:"unchanged"`
	Conflicts  int           `json:"conflicts"`
	FlaggedIDs []string      `json:"flagged_ids,omitempty"`
}

// Runner applies decay to every eligible record. At most one run executes at
// a time.
type Runner struct {
	store     Store
	params    Params
	batchSize int
	logger    zerolog.Logger
	now       func() time.Time
	running   atomic.Bool
}

// NewRunner creates a decay runner over store
func NewRunner(s Store, cfg Config) *Runner {
	if cfg.Params.PeriodDays <= 0 {
		cfg.Params.PeriodDays = DefaultPeriodDays
	}
	if cfg.Params.CleanupAfterDays <= 0 {
		cfg.Params.CleanupAfterDays = DefaultCleanupAfterDays
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Runner{
		store:     s,
		params:    cfg.Params,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger.With().Str("component", "decay").Logger(),
		now:       cfg.Now,
	}
}

// Running reports whether a run is executing
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run executes one decay pass. It returns ErrRunInProgress without doing
// anything when another run holds the runner.
func (r *Runner) Run(ctx context.Context) (RunReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		observability.RecordDecaySkipped()
		return RunReport{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	runID, err := gonanoid.New()
	if err != nil {
		return RunReport{}, fmt.Errorf("failed to generate run id: %w", err)
	}

	ctx = tracing.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "recall.decay", "decay.run",
		attribute.String("decay.run_id", runID),
	)
	defer span.End()

	started := time.Now()
	now := r.now().UTC()
	report := RunReport{RunID: runID, StartedAt: now}
	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Info().Msg("Decay run started")

	err = r.run(ctx, now, &report, logger)
	report.Duration = time.Since(started)

	observability.RecordDecayRun(report.Duration, report.Decayed, report.Flagged, err == nil)
	span.SetAttributes(
		attribute.Int("decay.scanned", report.Scanned),
		attribute.Int("decay.decayed", report.Decayed),
		attribute.Int("decay.flagged", report.Flagged),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Int("scanned", report.Scanned).Msg("Decay run failed")
		return report, err
	}

	logger.Info().
		Int("scanned", report.Scanned).
		Int("decayed", report.Decayed).
		Int("flagged", report.Flagged).
		Int("conflicts", report.Conflicts).
		Dur("duration", report.Duration).
		Msg("Decay run completed")
	return report, nil
}

func (r *Runner) run(ctx context.Context, now time.Time, report *RunReport, logger zerolog.Logger) error {
	// only records idle for at least one full period can change
	cutoff := now.Add(-time.Duration(r.params.PeriodDays) * 24 * time.Hour)

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := r.store.DecayCandidates(ctx, cutoff, after, r.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, c := range batch {
			after = c.Seq
			report.Scanned++
			if err := r.decayOne(ctx, c, now, report, logger); err != nil {
				return err
			}
		}

		if len(batch) < r.batchSize {
			return nil
		}
	}
}

func (r *Runner) decayOne(ctx context.Context, c store.DecayCandidate, now time.Time, report *RunReport, logger zerolog.Logger) error {
	out := r.params.Compute(c.DecayBase, c.RetrievalCount, c.LastAccessedAt, now)

	policy := memory.DecayStandard
	if out.Cleanup {
		policy = memory.DecayPendingCleanup
	}

	if policy == memory.DecayStandard && math.Abs(out.Confidence-c.Confidence) < 1e-12 {
		report.Unchanged++
		return nil
	}

	applied, err := r.store.ApplyDecay(ctx, c, out.Confidence, policy)
	if err != nil {
		return fmt.Errorf("record %s: %w", c.ID, err)
	}
	if !applied {
		// reinforced or protected since it was read
		report.Conflicts++
		return nil
	}

	if out.Confidence < c.Confidence {
		report.Decayed++
	} else {
		report.Unchanged++
	}

	if out.Cleanup {
		report.Flagged++
		report.FlaggedIDs = append(report.FlaggedIDs, c.ID)
		observability.RecordCleanupAudit(ctx, c.ID, map[string]interface{}{
			"kind":            string(c.Kind),
			"confidence":      out.Confidence,
			"last_accessed":   c.LastAccessedAt,
			"retrieval_count": c.RetrievalCount,
		})
		logger.Info().Str("record_id", c.ID).Float64("confidence", out.Confidence).Msg("Record flagged for cleanup")
	} else {
		logger.Debug().
			Str("record_id", c.ID).
			Float64("from", c.Confidence).
			Float64("to", out.Confidence).
			Int("periods", out.Periods).
			Msg("Record decayed")
	}
	return nil
}
