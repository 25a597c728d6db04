package decay

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/embedding"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.Open(store.Config{
		DBPath:    filepath.Join(t.TempDir(), "recall.db"),
		Dimension: 32,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func insert(t *testing.T, st *store.SQLiteStore, text string, kind memory.Kind, confidence float64, retrievals int, lastAccessed time.Time) *memory.Record {
	t.Helper()
	vec, err := embedding.NewHashProvider(32).Embed(context.Background(), text)
	require.NoError(t, err)

	r := &memory.Record{
		OwnerID:        "alice",
		TopicSummary:   text,
		Embedding:      vec,
		Kind:           kind,
		PrivacyLevel:   memory.PrivacyPrivate,
		Confidence:     confidence,
		RetrievalCount: retrievals,
		CreatedAt:      lastAccessed,
		LastAccessedAt: lastAccessed,
	}
	require.NoError(t, st.Insert(context.Background(), r))
	return r
}

func reload(t *testing.T, st *store.SQLiteStore, id string) *memory.Record {
	t.Helper()
	r, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func fixedNow(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func TestRate(t *testing.T) {
	assert.InDelta(t, 0.95, Rate(0), 1e-12)
	assert.InDelta(t, 0.97, Rate(5), 1e-12)
	assert.InDelta(t, 0.99, Rate(10), 1e-12)
	assert.InDelta(t, 0.99, Rate(500), 1e-12)
	assert.Equal(t, 0.0, Resistance(-3))
}

func TestCompute(t *testing.T) {
	p := DefaultParams()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		base        float64
		retrievals  int
		idle        time.Duration
		wantConf    float64
		wantPeriods int
		wantCleanup bool
	}{
		{"under one period", 0.8, 0, 29 * day, 0.8, 0, false},
		{"one period", 0.8, 0, 30 * day, 0.76, 1, false},
		{"three periods", 1.0, 0, 90 * day, 0.857375, 3, false},
		{"three periods resistant", 1.0, 10, 90 * day, 0.970299, 3, false},
		{"partial period floors", 1.0, 0, 89 * day, 0.9025, 2, false},
		{"floor but recent", 0.1, 0, 60 * day, 0.1, 2, false},
		{"floor and stale", 0.15, 0, 400 * day, 0.1, 13, true},
		{"future access", 0.5, 0, -day, 0.5, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Compute(tt.base, tt.retrievals, now.Add(-tt.idle), now)
			assert.InDelta(t, tt.wantConf, out.Confidence, 1e-6)
			assert.Equal(t, tt.wantPeriods, out.Periods)
			assert.Equal(t, tt.wantCleanup, out.Cleanup)
		})
	}
}

func TestCompute_Idempotent(t *testing.T) {
	p := DefaultParams()
	now := time.Now()
	last := now.Add(-75 * day)

	first := p.Compute(0.9, 3, last, now)
	second := p.Compute(0.9, 3, last, now.Add(time.Hour))
	assert.Equal(t, first, second)
}

func TestEligible(t *testing.T) {
	assert.False(t, Eligible(&memory.Record{Kind: memory.KindSemantic, DecayPolicy: memory.DecayStandard}))
	assert.False(t, Eligible(&memory.Record{Kind: memory.KindEpisodic, DecayPolicy: memory.DecayStandard, IsProtected: true}))
	assert.False(t, Eligible(&memory.Record{Kind: memory.KindEpisodic, DecayPolicy: memory.DecayPendingCleanup}))
	assert.True(t, Eligible(&memory.Record{Kind: memory.KindProcedural, DecayPolicy: memory.DecayStandard}))
}

func TestRunner_Scenarios(t *testing.T) {
	st := createTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	last := now.Add(-90 * day)

	semantic := insert(t, st, "alice is a nurse", memory.KindSemantic, 1.0, 0, last)
	episodic := insert(t, st, "alice moved flats", memory.KindEpisodic, 1.0, 0, last)
	resistant := insert(t, st, "alice runs on fridays", memory.KindEpisodic, 1.0, 10, last)

	runner := NewRunner(st, Config{Logger: zerolog.Nop(), Now: fixedNow(now)})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Decayed)

	t.Run("A: semantic never decays", func(t *testing.T) {
		assert.Equal(t, 1.0, reload(t, st, semantic.ID).Confidence)
	})

	t.Run("B: episodic without retrievals", func(t *testing.T) {
		assert.InDelta(t, 0.857, reload(t, st, episodic.ID).Confidence, 0.001)
	})

	t.Run("C: episodic with ten retrievals", func(t *testing.T) {
		assert.InDelta(t, 0.970, reload(t, st, resistant.ID).Confidence, 0.001)
	})

	t.Run("second run in the same period changes nothing", func(t *testing.T) {
		again, err := runner.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, again.Decayed)
		assert.Equal(t, 2, again.Unchanged)
		assert.InDelta(t, 0.857375, reload(t, st, episodic.ID).Confidence, 1e-9)
	})
}

func TestRunner_SkipsProtected(t *testing.T) {
	st := createTestStore(t)
	now := time.Now().UTC()

	r := insert(t, st, "alice's wedding date", memory.KindEpisodic, 0.9, 0, now.Add(-200*day))
	require.NoError(t, st.SetProtected(context.Background(), r.ID, true))

	runner := NewRunner(st, Config{Logger: zerolog.Nop(), Now: fixedNow(now)})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0.9, reload(t, st, r.ID).Confidence)
}

func TestRunner_FlagsCleanup(t *testing.T) {
	st := createTestStore(t)
	now := time.Now().UTC()

	stale := insert(t, st, "alice liked a meme once", memory.KindCommunityObservation, 0.15, 0, now.Add(-400*day))
	recent := insert(t, st, "alice mentioned rain", memory.KindEpisodic, 0.1, 0, now.Add(-60*day))

	runner := NewRunner(st, Config{Logger: zerolog.Nop(), Now: fixedNow(now)})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Flagged)
	assert.Equal(t, []string{stale.ID}, report.FlaggedIDs)

	got := reload(t, st, stale.ID)
	assert.Equal(t, memory.DecayPendingCleanup, got.DecayPolicy)
	assert.Equal(t, memory.MinConfidence, got.Confidence)

	got = reload(t, st, recent.ID)
	assert.Equal(t, memory.DecayStandard, got.DecayPolicy)

	again, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Flagged)
}

func TestRunner_Paging(t *testing.T) {
	st := createTestStore(t)
	now := time.Now().UTC()
	for i := 0; i < 7; i++ {
		insert(t, st, "old note number "+string(rune('a'+i)), memory.KindEpisodic, 0.8, 0, now.Add(-45*day))
	}

	runner := NewRunner(st, Config{BatchSize: 3, Logger: zerolog.Nop(), Now: fixedNow(now)})
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, report.Scanned)
	assert.Equal(t, 7, report.Decayed)
}

// blockingStore holds DecayCandidates until released
type blockingStore struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
	panics  bool
}

func (b *blockingStore) DecayCandidates(ctx context.Context, cutoff time.Time, afterSeq int64, limit int) ([]store.DecayCandidate, error) {
	if b.calls.Add(1) == 1 && b.panics {
		panic("boom")
	}
	if b.entered != nil {
		b.entered <- struct{}{}
		<-b.release
	}
	return nil, nil
}

func (b *blockingStore) ApplyDecay(ctx context.Context, c store.DecayCandidate, confidence float64, policy memory.DecayPolicy) (bool, error) {
	return true, nil
}

func TestRunner_RejectsOverlap(t *testing.T) {
	bs := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	runner := NewRunner(bs, Config{Logger: zerolog.Nop()})

	done := make(chan error)
	go func() {
		_, err := runner.Run(context.Background())
		done <- err
	}()

	<-bs.entered
	assert.True(t, runner.Running())
	_, err := runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(bs.release)
	require.NoError(t, <-done)
	assert.False(t, runner.Running())
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("@every 6h"))
	assert.NoError(t, ValidateSchedule("0 3 * * *"))
	assert.Error(t, ValidateSchedule("every six hours"))

	_, err := NewScheduler(NewRunner(&blockingStore{}, Config{}), "nope", 0, zerolog.Nop())
	assert.Error(t, err)
}

func TestScheduler_RunNowAndLastRun(t *testing.T) {
	st := createTestStore(t)
	now := time.Now().UTC()
	insert(t, st, "alice visited lisbon", memory.KindEpisodic, 0.8, 0, now.Add(-40*day))

	s, err := NewScheduler(NewRunner(st, Config{Logger: zerolog.Nop()}), "", time.Minute, zerolog.Nop())
	require.NoError(t, err)

	report, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Decayed)

	last, lastErr := s.LastRun()
	assert.NoError(t, lastErr)
	assert.Equal(t, report.RunID, last.RunID)
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	bs := &blockingStore{panics: true}
	s, err := NewScheduler(NewRunner(bs, Config{Logger: zerolog.Nop()}), "@every 1s", 0, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		last, err := s.LastRun()
		return bs.calls.Load() >= 2 && err == nil && last.RunID != ""
	}, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_TickRecordsPanic(t *testing.T) {
	bs := &blockingStore{panics: true}
	runner := NewRunner(bs, Config{Logger: zerolog.Nop()})
	s, err := NewScheduler(runner, "@every 1h", 0, zerolog.Nop())
	require.NoError(t, err)

	require.NotPanics(t, s.tick)
	_, lastErr := s.LastRun()
	require.Error(t, lastErr)
	assert.Contains(t, lastErr.Error(), "panicked")
	assert.False(t, runner.Running())

	s.tick()
	last, lastErr := s.LastRun()
	assert.NoError(t, lastErr)
	assert.NotEmpty(t, last.RunID)
}

// runIDStore captures the run id carried by the decay context
type runIDStore struct {
	blockingStore
	runID string
}

func (s *runIDStore) DecayCandidates(ctx context.Context, cutoff time.Time, afterSeq int64, limit int) ([]store.DecayCandidate, error) {
	s.runID = tracing.GetRunID(ctx)
	return nil, nil
}

func TestRunner_PropagatesRunID(t *testing.T) {
	rs := &runIDStore{}
	report, err := NewRunner(rs, Config{Logger: zerolog.Nop()}).Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, report.RunID, rs.runID)
}
