package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/embedding"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/privacy"
	"github.com/harun/recall/pkg/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultK              = 5
	DefaultCandidateDepth = 20
	DefaultTimeout        = 8 * time.Second
	maxK                  = 100
)

// Searcher runs the two candidate searches under a visibility filter
type Searcher interface {
	LexicalSearch(ctx context.Context, filter store.Filter, query string, limit int) ([]store.LexicalHit, error)
	VectorSearch(ctx context.Context, filter store.Filter, vec []float32, limit int) ([]store.VectorHit, error)
}

// Reinforcer receives the ids of records a retrieval returned
type Reinforcer interface {
	Enqueue(ctx context.Context, ids ...string) error
}

// Config holds retriever configuration
type Config struct {
	K              int
	CandidateDepth int
	RRFK           int
	EmbedTimeout   time.Duration
	SearchTimeout  time.Duration
	Logger         zerolog.Logger
	Now            func() time.Time
}

// Query is one retrieval request
type Query struct {
	RequesterID string
	Text        string
	Origin      privacy.Origin
	K           int
}

// Result is the outcome of a retrieval. Degraded is set when the embedding
// provider or one of the candidate searches failed; Reasons names which.
type Result struct {
	Hits     []Hit    `json:"hits"`
	Degraded bool     `json:"degraded,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
}

// IDs returns the record ids of the hits in rank order
func (r Result) IDs() []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.Record.ID
	}
	return ids
}

// Retriever answers queries by fusing lexical and vector candidates that
// pass the requester's visibility predicate.
type Retriever struct {
	searcher   Searcher
	provider   embedding.Provider
	reinforcer Reinforcer
	logger     zerolog.Logger
	now        func() time.Time

	k            atomic.Int64
	depth        atomic.Int64
	rrfK         int
	embedTimeout time.Duration
	searchTime   time.Duration
}

// New creates a retriever. reinforcer may be nil, in which case retrievals
// do not reinforce.
func New(searcher Searcher, provider embedding.Provider, reinforcer Reinforcer, cfg Config) *Retriever {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.CandidateDepth <= 0 {
		cfg.CandidateDepth = DefaultCandidateDepth
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultTimeout
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Retriever{
		searcher:     searcher,
		provider:     provider,
		reinforcer:   reinforcer,
		logger:       cfg.Logger.With().Str("component", "retrieval").Logger(),
		now:          cfg.Now,
		rrfK:         cfg.RRFK,
		embedTimeout: cfg.EmbedTimeout,
		searchTime:   cfg.SearchTimeout,
	}
	r.k.Store(int64(cfg.K))
	r.depth.Store(int64(cfg.CandidateDepth))
	return r
}

// SetDefaultK changes the number of results returned when a query does not
// ask for a specific count.
func (r *Retriever) SetDefaultK(k int) {
	if k > 0 {
		r.k.Store(int64(k))
	}
}

// SetCandidateDepth changes how many candidates each search contributes
func (r *Retriever) SetCandidateDepth(depth int) {
	if depth > 0 {
		r.depth.Store(int64(depth))
	}
}

// Retrieve returns up to K records visible to the requester, ranked by
// Reciprocal Rank Fusion of lexical and vector candidates. Provider and index
// failures degrade the result instead of failing it. The only error returned
// is the caller's own cancellation, in which case nothing is reinforced.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (Result, error) {
	ctx = tracing.WithRequesterID(ctx, q.RequesterID)
	ctx, span := tracing.StartSpan(ctx, "recall.retrieval", "retrieval.retrieve",
		attribute.String("requester_id", q.RequesterID),
		attribute.String("origin", string(q.Origin.Kind)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	k := q.K
	if k <= 0 {
		k = int(r.k.Load())
	}
	if k > maxK {
		k = maxK
	}
	depth := int(r.depth.Load())
	if depth < k {
		depth = k
	}

	result := Result{Hits: []Hit{}}
	if strings.TrimSpace(q.Text) == "" || q.RequesterID == "" {
		return result, nil
	}

	pred := privacy.VisibilityFor(q.RequesterID, q.Origin)
	if pred.Closed() {
		logger.Warn().Str("origin", string(q.Origin.Kind)).Msg("Unclassifiable query context, only global records are visible")
	}

	embedStart := time.Now()
	vec, err := embedding.EmbedWithTimeout(ctx, r.provider, q.Text, r.embedTimeout)
	observability.RecordRetrievalStage("embed", time.Since(embedStart))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		logger.Warn().Err(err).Msg("Query embedding failed, returning empty result")
		observability.RecordRetrievalDegraded("embedding")
		result.Degraded = true
		result.Reasons = append(result.Reasons, "embedding: "+err.Error())
		return result, nil
	}

	var (
		lexical          []store.LexicalHit
		vector           []store.VectorHit
		lexErr, vecErr   error
		lexTook, vecTook time.Duration
	)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		bctx, cancel := context.WithTimeout(ctx, r.searchTime)
		defer cancel()
		t := time.Now()
		lexical, lexErr = r.searcher.LexicalSearch(bctx, pred, q.Text, depth)
		lexTook = time.Since(t)
	}()

	go func() {
		defer wg.Done()
		bctx, cancel := context.WithTimeout(ctx, r.searchTime)
		defer cancel()
		t := time.Now()
		vector, vecErr = r.searcher.VectorSearch(bctx, pred, vec, depth)
		vecTook = time.Since(t)
	}()

	wg.Wait()
	observability.RecordRetrievalStage("lexical", lexTook)
	observability.RecordRetrievalStage("vector", vecTook)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if lexErr != nil {
		logger.Warn().Err(lexErr).Msg("Lexical search failed, using vector only")
		observability.RecordBranchFailure("lexical")
		result.Degraded = true
		result.Reasons = append(result.Reasons, "lexical: "+lexErr.Error())
		lexical = nil
	}
	if vecErr != nil {
		logger.Warn().Err(vecErr).Msg("Vector search failed, using lexical only")
		observability.RecordBranchFailure("vector")
		result.Degraded = true
		result.Reasons = append(result.Reasons, "vector: "+vecErr.Error())
		vector = nil
	}
	if result.Degraded {
		observability.RecordRetrievalDegraded("search")
	}

	hits := Fuse(admitted(pred, lexical, logger), admittedVec(pred, vector, logger), r.rrfK)
	if len(hits) > k {
		hits = hits[:k]
	}

	now := r.now()
	for i := range hits {
		hits[i].ConfidenceLabel = memory.ConfidenceLabel(hits[i].Record.Confidence)
		hits[i].AgeLabel = humanize.RelTime(hits[i].Record.UpdatedAt, now, "ago", "from now")
	}
	result.Hits = hits

	// a caller that gave up never saw these hits
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if r.reinforcer != nil && len(hits) > 0 {
		if err := r.reinforcer.Enqueue(ctx, result.IDs()...); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Int("records", len(hits)).Msg("Failed to enqueue reinforcement")
		}
	}

	observability.RecordRetrieval(time.Since(start), len(hits))
	span.SetAttributes(
		attribute.Int("retrieval.results", len(hits)),
		attribute.Int("retrieval.lexical_candidates", len(lexical)),
		attribute.Int("retrieval.vector_candidates", len(vector)),
		attribute.Bool("retrieval.degraded", result.Degraded),
	)

	logger.Debug().
		Int("results", len(hits)).
		Int("lexical", len(lexical)).
		Int("vector", len(vector)).
		Bool("degraded", result.Degraded).
		Dur("duration", time.Since(start)).
		Msg("Retrieval completed")

	return result, nil
}

// admitted drops any lexical candidate the predicate rejects. The store
// filters in SQL; this is a second line that logs if the two ever disagree.
func admitted(pred privacy.Predicate, hits []store.LexicalHit, logger zerolog.Logger) []store.LexicalHit {
	out := hits[:0]
	for _, h := range hits {
		if !pred.Admits(h.Record) {
			logger.Error().Str("record_id", h.Record.ID).Str("predicate", pred.String()).Msg("Lexical search returned a record outside the visibility predicate")
			continue
		}
		out = append(out, h)
	}
	return out
}

func admittedVec(pred privacy.Predicate, hits []store.VectorHit, logger zerolog.Logger) []store.VectorHit {
	out := hits[:0]
	for _, h := range hits {
		if !pred.Admits(h.Record) {
			logger.Error().Str("record_id", h.Record.ID).Str("predicate", pred.String()).Msg("Vector search returned a record outside the visibility predicate")
			continue
		}
		out = append(out, h)
	}
	return out
}
