package reinforce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/memory"
	"github.com/rs/zerolog"
)

// ErrQueueClosed is returned when enqueueing after Close
var ErrQueueClosed = errors.New("reinforcement queue is closed")

// Store applies one reinforcement atomically
type Store interface {
	Reinforce(ctx context.Context, id string, now time.Time) error
}

// Config holds queue configuration
type Config struct {
	Workers      int
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		QueueSize:    256,
		MaxRetries:   5,
		RetryBackoff: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Logger:       zerolog.Nop(),
	}
}

type item struct {
	ctx context.Context
	id  string
	at  time.Time
}

// Queue applies reinforcements off the read path. Delivery is at-least-once:
// a failed write is retried with exponential backoff, a full buffer spills to
// a dedicated goroutine instead of dropping, and Close applies everything
// still pending before it returns.
type Queue struct {
	store  Store
	cfg    Config
	logger zerolog.Logger

	items chan item
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	pendingMu sync.Mutex
	pending   int
	waiters   []chan struct{}
}

// NewQueue creates a queue writing to store. Call Start to run the workers.
func NewQueue(store Store, cfg Config) *Queue {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	observability.EnsureRegistered()

	return &Queue{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "reinforce").Logger(),
		items:  make(chan item, cfg.QueueSize),
	}
}

// Start launches the worker goroutines. It is a no-op after the first call.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Debug().Int("workers", q.cfg.Workers).Msg("Reinforcement workers started")
}

// Enqueue schedules one reinforcement per id. It never blocks the caller.
// The writes keep the tracing values of ctx but not its cancellation.
func (q *Queue) Enqueue(ctx context.Context, ids ...string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	detached := tracing.Detach(ctx)
	now := time.Now().UTC()
	for _, id := range ids {
		it := item{ctx: detached, id: id, at: now}
		q.track(1)
		select {
		case q.items <- it:
		default:
			// buffer full: apply on a side goroutine rather than lose it
			q.logger.Warn().Str("record_id", id).Msg("Reinforcement queue full, applying out of band")
			go func() {
				defer q.track(-1)
				q.apply(it)
			}()
		}
	}
	observability.SetReinforcementQueueDepth(len(q.items))
	return nil
}

// Apply reinforces one record synchronously
func (q *Queue) Apply(ctx context.Context, id string) error {
	if err := q.store.Reinforce(ctx, id, time.Now().UTC()); err != nil {
		observability.RecordReinforcement("failed")
		return err
	}
	observability.RecordReinforcement("applied")
	return nil
}

// Pending returns the number of reinforcements not yet applied
func (q *Queue) Pending() int {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	return q.pending
}

// Flush waits until every reinforcement enqueued so far has been applied or
// has exhausted its retries.
func (q *Queue) Flush(ctx context.Context) error {
	q.pendingMu.Lock()
	if q.pending == 0 {
		q.pendingMu.Unlock()
		return nil
	}
	w := make(chan struct{})
	q.waiters = append(q.waiters, w)
	q.pendingMu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, drains the buffer and waits for every pending
// reinforcement. ctx bounds how long Close waits.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if !q.started {
		q.started = true
		for i := 0; i < q.cfg.Workers; i++ {
			q.wg.Add(1)
			go q.worker()
		}
	}
	close(q.items)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("reinforcement queue did not drain: %w", ctx.Err())
	}

	if err := q.Flush(ctx); err != nil {
		return fmt.Errorf("reinforcement queue did not drain: %w", err)
	}
	q.logger.Debug().Msg("Reinforcement queue drained")
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for it := range q.items {
		q.apply(it)
		q.track(-1)
		observability.SetReinforcementQueueDepth(len(q.items))
	}
}

// apply writes one reinforcement, retrying transient failures
func (q *Queue) apply(it item) {
	if it.ctx == nil {
		it.ctx = context.Background()
	}
	logger := tracing.LoggerFromContext(it.ctx, q.logger)
	backoff := q.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(it.ctx, q.cfg.WriteTimeout)
		err := q.store.Reinforce(ctx, it.id, it.at)
		cancel()

		if err == nil {
			observability.RecordReinforcement("applied")
			return
		}
		if errors.Is(err, memory.ErrNotFound) {
			// record removed since retrieval; nothing to retry
			logger.Debug().Str("record_id", it.id).Msg("Reinforced record no longer exists")
			observability.RecordReinforcement("skipped")
			return
		}
		if attempt >= q.cfg.MaxRetries {
			logger.Error().Err(err).Str("record_id", it.id).Int("attempts", attempt+1).Msg("Reinforcement failed, giving up")
			observability.RecordReinforcement("failed")
			return
		}

		logger.Warn().Err(err).Str("record_id", it.id).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("Reinforcement failed, retrying")
		observability.RecordReinforcement("retried")
		time.Sleep(backoff)
		backoff *= 2
	}
}

func (q *Queue) track(delta int) {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	q.pending += delta
	if q.pending == 0 {
		for _, w := range q.waiters {
			close(w)
		}
		q.waiters = nil
	}
}
