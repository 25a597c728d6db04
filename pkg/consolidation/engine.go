package consolidation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/embedding"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultMergeThreshold = 0.80
	DefaultCandidateLimit = 5
	DefaultEmbedTimeout   = 8 * time.Second
	// MergeStep is the confidence a merge adds to the existing record
	MergeStep = 0.05
)

// Action is what ingest did with a candidate
type Action string

const (
	ActionAdd   Action = "ADD"
	ActionMerge Action = "MERGE"
)

// Outcome reports the result of one ingest
type Outcome struct {
	Action       Action         `json:"action"`
	Record       *memory.Record `json:"record"`
	Similarity   float64        `json:"similarity,omitempty"`
	Alternatives []string       `json:"alternatives,omitempty"`
}

// Store is the part of the record store consolidation needs
type Store interface {
	Insert(ctx context.Context, r *memory.Record) error
	Merge(ctx context.Context, p store.MergeParams) (*memory.Record, error)
	Absorb(ctx context.Context, p store.MergeParams, duplicateID string) (*memory.Record, error)
	FindSimilar(ctx context.Context, ownerID string, level memory.PrivacyLevel, scope memory.Scope, vec []float32, limit int, minSimilarity float64, kinds ...memory.Kind) ([]store.VectorHit, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*memory.Record, error)
}

// Config holds consolidation configuration
type Config struct {
	MergeThreshold float64
	CandidateLimit int
	EmbedTimeout   time.Duration
	Logger         zerolog.Logger
}

// Engine decides whether a candidate fact is new or restates a known one
type Engine struct {
	store        Store
	provider     embedding.Provider
	logger       zerolog.Logger
	embedTimeout time.Duration
	limit        int

	threshold atomic.Uint64 // math.Float64bits
}

// New creates a consolidation engine
func New(s Store, provider embedding.Provider, cfg Config) *Engine {
	if cfg.MergeThreshold <= 0 || cfg.MergeThreshold > 1 {
		cfg.MergeThreshold = DefaultMergeThreshold
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultCandidateLimit
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}

	e := &Engine{
		store:        s,
		provider:     provider,
		logger:       cfg.Logger.With().Str("component", "consolidation").Logger(),
		embedTimeout: cfg.EmbedTimeout,
		limit:        cfg.CandidateLimit,
	}
	e.threshold.Store(math.Float64bits(cfg.MergeThreshold))
	return e
}

// MergeThreshold returns the similarity at or above which a candidate merges
func (e *Engine) MergeThreshold() float64 {
	return math.Float64frombits(e.threshold.Load())
}

// SetMergeThreshold changes the merge threshold for subsequent ingests
func (e *Engine) SetMergeThreshold(t float64) {
	if t > 0 && t <= 1 {
		e.threshold.Store(math.Float64bits(t))
	}
}

// Ingest consolidates one candidate: it is merged into the most similar
// existing record of the same owner, privacy level and scope when one clears
// the merge threshold, and added as a new record otherwise.
func (e *Engine) Ingest(ctx context.Context, c Candidate) (Outcome, error) {
	r, err := c.resolve()
	if err != nil {
		observability.RecordIngest("invalid", 0, false)
		return Outcome{}, err
	}
	return e.ingest(ctx, r)
}

// Observe records a passively captured fact. Only passive kinds are accepted
// (community_observation when unset) and the confidence hint is capped at
// the kind's passive ceiling.
func (e *Engine) Observe(ctx context.Context, c Candidate) (Outcome, error) {
	if c.Kind == "" {
		c.Kind = memory.KindCommunityObservation
	}
	if c.Kind.Valid() && !c.Kind.Passive() {
		return Outcome{}, fmt.Errorf("%w: %s is not a passive kind", memory.ErrInvalidCandidate, c.Kind)
	}

	r, err := c.resolve()
	if err != nil {
		observability.RecordIngest("invalid", 0, false)
		return Outcome{}, err
	}
	if limit := r.kind.PassiveConfidenceCap(); r.hint > limit {
		r.hint = limit
	}
	return e.ingest(ctx, r)
}

func (e *Engine) ingest(ctx context.Context, r resolved) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "recall.consolidation", "consolidation.ingest",
		attribute.String("owner_id", r.ownerID),
		attribute.String("kind", string(r.kind)),
		attribute.String("privacy_level", string(r.level)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger).With().
		Str("owner_id", r.ownerID).
		Str("privacy_level", string(r.level)).
		Logger()
	start := time.Now()

	vec, err := embedding.EmbedWithTimeout(ctx, e.provider, r.summary, e.embedTimeout)
	if err != nil {
		err = fmt.Errorf("%w: %w", memory.ErrEmbeddingUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		logger.Warn().Err(err).Msg("Cannot ingest candidate without an embedding")
		observability.RecordIngest("error", time.Since(start), false)
		return Outcome{}, err
	}

	// A concurrent reconcile can supersede the chosen target between the
	// search and the merge; detection is retried once.
	for attempt := 0; ; attempt++ {
		out, err := e.consolidate(ctx, r, vec, logger)
		if errors.Is(err, memory.ErrNotFound) && attempt == 0 {
			logger.Debug().Err(err).Msg("Merge target vanished, retrying detection")
			continue
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.RecordIngest("error", time.Since(start), false)
			return Outcome{}, err
		}

		span.SetAttributes(
			attribute.String("consolidation.action", string(out.Action)),
			attribute.String("record_id", out.Record.ID),
		)
		observability.RecordIngest(string(out.Action), time.Since(start), true)
		return out, nil
	}
}

func (e *Engine) consolidate(ctx context.Context, r resolved, vec []float32, logger zerolog.Logger) (Outcome, error) {
	threshold := e.MergeThreshold()
	hits, err := e.store.FindSimilar(ctx, r.ownerID, r.level, r.scope, vec, e.limit, threshold, r.kind.MergeTargets()...)
	if err != nil {
		return Outcome{}, fmt.Errorf("merge detection failed: %w", err)
	}

	if len(hits) == 0 {
		return e.add(ctx, r, vec, logger)
	}

	target := hits[0]
	var alternatives []string
	for _, h := range hits[1:] {
		alternatives = append(alternatives, h.Record.ID)
	}
	if len(alternatives) > 0 {
		logger.Warn().
			Str("target", target.Record.ID).
			Float64("similarity", target.Similarity).
			Strs("alternatives", alternatives).
			Msg("Ambiguous merge, merging into the closest record only")
	}

	var evidence []string
	if r.evidence != "" {
		evidence = []string{r.evidence}
	}

	kind := target.Record.Kind
	var promote memory.Kind
	if r.kind.Promotes(kind) {
		promote, kind = r.kind, r.kind
		logger.Info().
			Str("record_id", target.Record.ID).
			Str("from", string(target.Record.Kind)).
			Str("to", string(kind)).
			Msg("Promoting record kind on merge")
	}

	merged, err := e.store.Merge(ctx, store.MergeParams{
		TargetID:     target.Record.ID,
		OwnerID:      r.ownerID,
		PrivacyLevel: r.level,
		OriginScope:  r.scope,
		Evidence:     evidence,
		Summary:      r.summary,
		Embedding:    vec,
		Hint:         r.hint,
		Step:         MergeStep,
		Ceiling:      kind.Ceiling(),
		Promote:      promote,
	})
	if err != nil {
		return Outcome{}, err
	}

	logger.Info().
		Str("record_id", merged.ID).
		Float64("similarity", target.Similarity).
		Int("source_count", merged.SourceCount).
		Float64("confidence", merged.Confidence).
		Msg("Candidate merged")

	return Outcome{
		Action:       ActionMerge,
		Record:       merged,
		Similarity:   target.Similarity,
		Alternatives: alternatives,
	}, nil
}

func (e *Engine) add(ctx context.Context, r resolved, vec []float32, logger zerolog.Logger) (Outcome, error) {
	rec := &memory.Record{
		OwnerID:      r.ownerID,
		TopicSummary: r.summary,
		Embedding:    vec,
		Kind:         r.kind,
		PrivacyLevel: r.level,
		OriginScope:  r.scope,
		SourceCount:  1,
		Confidence:   r.hint,
		DecayPolicy:  r.kind.DefaultDecayPolicy(),
	}
	if r.evidence != "" {
		rec.RawEvidence = []string{r.evidence}
	}

	if err := e.store.Insert(ctx, rec); err != nil {
		return Outcome{}, err
	}

	logger.Info().
		Str("record_id", rec.ID).
		Str("kind", string(rec.Kind)).
		Float64("confidence", rec.Confidence).
		Msg("Candidate added")

	return Outcome{Action: ActionAdd, Record: rec}, nil
}
