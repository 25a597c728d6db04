package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/recall/internal/config"
	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/consolidation"
	"github.com/harun/recall/pkg/decay"
	"github.com/harun/recall/pkg/embedding"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/privacy"
	"github.com/harun/recall/pkg/reinforce"
	"github.com/harun/recall/pkg/retrieval"
	"github.com/harun/recall/pkg/store"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds how long Close waits for pending
// reinforcements to be written.
const DefaultShutdownTimeout = 10 * time.Second

// Option customizes an Engine
type Option func(*options)

type options struct {
	provider embedding.Provider
	now      func() time.Time
}

// WithProvider replaces the embedding provider built from config
func WithProvider(p embedding.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithClock overrides the clock used by retrieval labels and decay
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Engine is the single entry point to the memory subsystem. It owns the
// store, the reinforcement queue and the decay scheduler.
type Engine struct {
	cfg    *config.Config
	logger zerolog.Logger

	store        *store.SQLiteStore
	provider     embedding.Provider
	cache        *embedding.CachedProvider
	retriever    *retrieval.Retriever
	consolidator *consolidation.Engine
	queue        *reinforce.Queue
	runner       *decay.Runner
	scheduler    *decay.Scheduler

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewProvider builds the embedding provider named in cfg
func NewProvider(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedding provider requires an api key")
		}
		var opts []option.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return embedding.NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Dimension, opts...), nil
	case "hash":
		return embedding.NewHashProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// New opens the store and wires every component. Background work does not
// begin until Start.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	observability.EnsureRegistered()

	inner := o.provider
	if inner == nil {
		p, err := NewProvider(cfg.Embedding)
		if err != nil {
			return nil, err
		}
		inner = p
	}

	cache, err := embedding.NewCachedProvider(inner, cfg.Embedding.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	cache.OnLookup = observability.RecordEmbeddingCache

	st, err := store.Open(store.Config{
		DBPath:    cfg.DBPath,
		Dimension: inner.Dimension(),
		Logger:    logger.With().Str("component", "store").Logger(),
	})
	if err != nil {
		return nil, err
	}

	qcfg := reinforce.DefaultConfig()
	qcfg.Workers = cfg.Reinforcement.Workers
	qcfg.QueueSize = cfg.Reinforcement.QueueSize
	qcfg.MaxRetries = cfg.Reinforcement.MaxRetries
	qcfg.Logger = logger
	queue := reinforce.NewQueue(st, qcfg)

	runner := decay.NewRunner(st, decay.Config{
		Params: decay.Params{
			PeriodDays:       cfg.Decay.PeriodDays,
			CleanupAfterDays: cfg.Decay.CleanupAfterDays,
		},
		BatchSize: cfg.Decay.BatchSize,
		Logger:    logger,
		Now:       o.now,
	})

	var scheduler *decay.Scheduler
	if cfg.Decay.Enabled {
		scheduler, err = decay.NewScheduler(runner, cfg.Decay.Schedule, cfg.DecayRunTimeout(), logger)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger.With().Str("component", "engine").Logger(),
		store:     st,
		provider:  inner,
		cache:     cache,
		queue:     queue,
		runner:    runner,
		scheduler: scheduler,
	}

	e.retriever = retrieval.New(st, cache, queue, retrieval.Config{
		K:              cfg.Retrieval.K,
		CandidateDepth: cfg.Retrieval.CandidateDepth,
		RRFK:           cfg.Retrieval.RRFK,
		EmbedTimeout:   cfg.EmbeddingTimeout(),
		SearchTimeout:  cfg.SearchTimeout(),
		Logger:         logger,
		Now:            o.now,
	})

	e.consolidator = consolidation.New(st, cache, consolidation.Config{
		MergeThreshold: cfg.Consolidation.MergeThreshold,
		CandidateLimit: cfg.Consolidation.CandidateLimit,
		EmbedTimeout:   cfg.EmbeddingTimeout(),
		Logger:         logger,
	})

	return e, nil
}

// Start runs the reinforcement workers and the decay scheduler
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is closed")
	}
	if e.started {
		return nil
	}

	e.queue.Start()
	if e.scheduler != nil {
		if err := e.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start decay scheduler: %w", err)
		}
	}
	e.started = true

	e.logger.Info().
		Str("provider", e.cfg.Embedding.Provider).
		Int("dimension", e.provider.Dimension()).
		Bool("decay_scheduled", e.scheduler != nil).
		Msg("Memory engine started")
	return nil
}

// Close stops the scheduler, writes every pending reinforcement and closes
// the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.scheduler != nil {
		e.scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	var errs []error
	if err := e.queue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reinforcement queue: %w", err))
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	e.logger.Info().Msg("Memory engine stopped")
	return errors.Join(errs...)
}

// ApplyConfig pushes the hot-reloadable tunables of cfg into the running
// engine. Structural settings (store path, provider, schedule) need a restart.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.consolidator.SetMergeThreshold(cfg.Consolidation.MergeThreshold)
	e.retriever.SetCandidateDepth(cfg.Retrieval.CandidateDepth)
	e.retriever.SetDefaultK(cfg.Retrieval.K)

	e.logger.Info().
		Float64("merge_threshold", cfg.Consolidation.MergeThreshold).
		Int("candidate_depth", cfg.Retrieval.CandidateDepth).
		Int("k", cfg.Retrieval.K).
		Msg("Tunables updated")
}

// Retrieve returns up to k records visible to requesterID in the origin
// context, best first. k <= 0 uses the configured default.
func (e *Engine) Retrieve(ctx context.Context, requesterID, queryText string, origin privacy.Origin, k int) (retrieval.Result, error) {
	return e.retriever.Retrieve(ctx, retrieval.Query{
		RequesterID: requesterID,
		Text:        queryText,
		Origin:      origin,
		K:           k,
	})
}

// Ingest consolidates a verified candidate fact
func (e *Engine) Ingest(ctx context.Context, c consolidation.Candidate) (consolidation.Outcome, error) {
	return e.consolidator.Ingest(ctx, c)
}

// Observe records a passively captured fact with capped confidence
func (e *Engine) Observe(ctx context.Context, c consolidation.Candidate) (consolidation.Outcome, error) {
	return e.consolidator.Observe(ctx, c)
}

// Reconcile folds near-duplicate records of ownerID together
func (e *Engine) Reconcile(ctx context.Context, ownerID string) (consolidation.ReconcileReport, error) {
	return e.consolidator.Reconcile(ctx, ownerID)
}

// ForceDecayRun runs decay immediately. It fails with decay.ErrRunInProgress
// if a run is already executing.
func (e *Engine) ForceDecayRun(ctx context.Context) (decay.RunReport, error) {
	if e.scheduler != nil {
		return e.scheduler.RunNow(ctx)
	}
	return e.runner.Run(ctx)
}

// LastDecayRun returns the most recent scheduled or forced run
func (e *Engine) LastDecayRun() (decay.RunReport, error) {
	if e.scheduler == nil {
		return decay.RunReport{}, errors.New("decay scheduling is disabled")
	}
	return e.scheduler.LastRun()
}

// Protect toggles the decay override of a record
func (e *Engine) Protect(ctx context.Context, id string, protected bool) error {
	if err := e.store.SetProtected(ctx, id, protected); err != nil {
		return err
	}
	observability.RecordProtectionAudit(ctx, id, actor(ctx), protected)
	e.logger.Info().Str("record_id", id).Bool("protected", protected).Msg("Record protection changed")
	return nil
}

// OverridePrivacy changes a record's privacy level and scope. It is the only
// path that mutates them after creation and is always audited.
func (e *Engine) OverridePrivacy(ctx context.Context, id string, level memory.PrivacyLevel, scope memory.Scope) error {
	before, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}

	meta := map[string]interface{}{
		"from_level": string(before.PrivacyLevel),
		"from_group": before.OriginScope.GroupID,
		"to_level":   string(level),
		"to_group":   scope.GroupID,
	}
	if err := e.store.OverridePrivacy(ctx, id, level, scope); err != nil {
		meta["error"] = err.Error()
		observability.RecordPrivacyAudit(ctx, id, actor(ctx), "rejected", meta)
		return err
	}
	observability.RecordPrivacyAudit(ctx, id, actor(ctx), "success", meta)
	e.logger.Info().Str("record_id", id).Str("privacy_level", string(level)).Msg("Record privacy overridden")
	return nil
}

// Reinforce applies one reinforcement synchronously
func (e *Engine) Reinforce(ctx context.Context, id string) error {
	return e.queue.Apply(ctx, id)
}

// FlushReinforcements waits until every queued reinforcement is written
func (e *Engine) FlushReinforcements(ctx context.Context) error {
	return e.queue.Flush(ctx)
}

// Get returns one record by id
func (e *Engine) Get(ctx context.Context, id string) (*memory.Record, error) {
	return e.store.Get(ctx, id)
}

// Stats summarizes the store and refreshes the record gauges
func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	st, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	byKind := make(map[string]int, len(st.ByKind))
	for k, n := range st.ByKind {
		byKind[string(k)] = n
	}
	observability.SetRecordCounts(byKind)
	return st, nil
}

// EmbeddingCacheHitRate returns the embedding cache hit rate, or nil before
// the first lookup.
func (e *Engine) EmbeddingCacheHitRate() *float64 {
	return e.cache.HitRate()
}

func actor(ctx context.Context) string {
	if id := tracing.GetRequesterID(ctx); id != "" {
		return id
	}
	return "operator"
}
