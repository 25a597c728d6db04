package engine

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/recall/internal/config"
	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/consolidation"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/privacy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimension = 128
	cfg.DataDir = t.TempDir()
	cfg.DBPath = filepath.Join(cfg.DataDir, "recall.db")
	cfg.Decay.Enabled = false
	return cfg
}

func createTestEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func captureAudit(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	observability.SetAuditLogger(observability.NewAuditLogger(&buf))
	t.Cleanup(func() {
		observability.SetAuditLogger(observability.NewAuditLogger(io.Discard))
	})
	return &buf
}

func directFact(owner, text string, kind memory.Kind) consolidation.Candidate {
	return consolidation.Candidate{
		OwnerID:     owner,
		TopicText:   text,
		RawEvidence: text,
		Kind:        kind,
		Origin:      &privacy.Origin{Kind: privacy.OriginDirect, UserID: owner},
	}
}

func TestNewProvider(t *testing.T) {
	t.Run("hash", func(t *testing.T) {
		p, err := NewProvider(config.EmbeddingConfig{Provider: "hash", Dimension: 32})
		require.NoError(t, err)
		assert.Equal(t, 32, p.Dimension())
	})

	t.Run("openai without key", func(t *testing.T) {
		_, err := NewProvider(config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 1536})
		assert.Error(t, err)
	})

	t.Run("openai with key", func(t *testing.T) {
		p, err := NewProvider(config.EmbeddingConfig{
			Provider:  "openai",
			APIKey:    "sk-test",
			BaseURL:   "http://127.0.0.1:1",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		})
		require.NoError(t, err)
		assert.Equal(t, 1536, p.Dimension())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewProvider(config.EmbeddingConfig{Provider: "word2vec"})
		assert.ErrorContains(t, err, "word2vec")
	})
}

func TestEngine_IngestRetrieveReinforce(t *testing.T) {
	e := createTestEngine(t, testConfig(t))
	require.NoError(t, e.Start())
	ctx := context.Background()

	out, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office", memory.KindEpisodic))
	require.NoError(t, err)
	assert.Equal(t, consolidation.ActionAdd, out.Action)

	res, err := e.Retrieve(ctx, "alice", "harbor office", privacy.Origin{Kind: privacy.OriginDirect, UserID: "alice"}, 0)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, out.Record.ID, res.Hits[0].Record.ID)
	assert.False(t, res.Degraded)

	require.NoError(t, e.FlushReinforcements(ctx))

	rec, err := e.Get(ctx, out.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RetrievalCount)
	assert.InDelta(t, 0.73, rec.Confidence, 1e-9)
}

func TestEngine_PrivateFactStaysPrivate(t *testing.T) {
	e := createTestEngine(t, testConfig(t))
	require.NoError(t, e.Start())
	ctx := context.Background()

	_, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office", memory.KindEpisodic))
	require.NoError(t, err)

	tests := []struct {
		name      string
		requester string
		origin    privacy.Origin
	}{
		{"other user in direct chat", "bob", privacy.Origin{Kind: privacy.OriginDirect, UserID: "bob"}},
		{"owner in open group", "alice", privacy.Origin{Kind: privacy.OriginOpenGroup, GroupID: "g1"}},
		{"owner in restricted group", "alice", privacy.Origin{Kind: privacy.OriginRestrictedGroup, GroupID: "g1"}},
		{"unclassifiable context", "alice", privacy.Origin{Kind: "carrier_pigeon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Retrieve(ctx, tt.requester, "harbor office", tt.origin, 5)
			require.NoError(t, err)
			assert.Empty(t, res.Hits)
		})
	}
}

func TestEngine_NearDuplicateMerges(t *testing.T) {
	e := createTestEngine(t, testConfig(t))
	ctx := context.Background()

	first, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office", memory.KindEpisodic))
	require.NoError(t, err)

	second, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office downtown", memory.KindEpisodic))
	require.NoError(t, err)
	assert.Equal(t, consolidation.ActionMerge, second.Action)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, 2, second.Record.SourceCount)
	assert.InDelta(t, 0.75, second.Record.Confidence, 1e-9)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
}

func TestEngine_ApplyConfig(t *testing.T) {
	cfg := testConfig(t)
	e := createTestEngine(t, cfg)
	ctx := context.Background()

	_, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office", memory.KindEpisodic))
	require.NoError(t, err)

	updated := *cfg
	updated.Consolidation.MergeThreshold = 0.95
	e.ApplyConfig(&updated)

	out, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office downtown", memory.KindEpisodic))
	require.NoError(t, err)
	assert.Equal(t, consolidation.ActionAdd, out.Action)
}

func TestEngine_Reinforce(t *testing.T) {
	e := createTestEngine(t, testConfig(t))
	ctx := context.Background()

	out, err := e.Ingest(ctx, directFact("alice", "alice prefers window seats", memory.KindSemantic))
	require.NoError(t, err)

	require.NoError(t, e.Reinforce(ctx, out.Record.ID))

	rec, err := e.Get(ctx, out.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RetrievalCount)
	assert.InDelta(t, 0.75, rec.Confidence, 1e-9)

	assert.ErrorIs(t, e.Reinforce(ctx, "missing"), memory.ErrNotFound)
}

func TestEngine_Protect(t *testing.T) {
	audit := captureAudit(t)
	e := createTestEngine(t, testConfig(t))
	ctx := tracing.WithRequesterID(context.Background(), "ops-1")

	out, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office", memory.KindEpisodic))
	require.NoError(t, err)

	require.NoError(t, e.Protect(ctx, out.Record.ID, true))

	rec, err := e.Get(ctx, out.Record.ID)
	require.NoError(t, err)
	assert.True(t, rec.IsProtected)
	assert.Contains(t, audit.String(), `"action":"protection_changed"`)
	assert.Contains(t, audit.String(), `"actor":"ops-1"`)

	assert.ErrorIs(t, e.Protect(ctx, "missing", true), memory.ErrNotFound)
}

func TestEngine_OverridePrivacy(t *testing.T) {
	audit := captureAudit(t)
	e := createTestEngine(t, testConfig(t))
	ctx := context.Background()

	out, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office", memory.KindEpisodic))
	require.NoError(t, err)

	t.Run("rejects inconsistent scope", func(t *testing.T) {
		err := e.OverridePrivacy(ctx, out.Record.ID, memory.PrivacyPublic, memory.Scope{})
		assert.ErrorIs(t, err, memory.ErrInvalidPrivacy)
		assert.Contains(t, audit.String(), `"status":"rejected"`)
	})

	t.Run("widens to global", func(t *testing.T) {
		require.NoError(t, e.OverridePrivacy(ctx, out.Record.ID, memory.PrivacyGlobal, memory.Scope{}))
		assert.Contains(t, audit.String(), `"status":"success"`)
		assert.Contains(t, audit.String(), `"actor":"operator"`)

		res, err := e.Retrieve(ctx, "alice", "harbor office", privacy.Origin{Kind: privacy.OriginOpenGroup, GroupID: "g1"}, 5)
		require.NoError(t, err)
		require.Len(t, res.Hits, 1)
		assert.Equal(t, out.Record.ID, res.Hits[0].Record.ID)
	})

	t.Run("unknown record", func(t *testing.T) {
		err := e.OverridePrivacy(ctx, "missing", memory.PrivacyGlobal, memory.Scope{})
		assert.ErrorIs(t, err, memory.ErrNotFound)
	})
}

func TestEngine_ForceDecayRun(t *testing.T) {
	later := time.Now().Add(91 * 24 * time.Hour)
	e := createTestEngine(t, testConfig(t), WithClock(func() time.Time { return later }))
	ctx := context.Background()

	episodic, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office", memory.KindEpisodic))
	require.NoError(t, err)
	semantic, err := e.Ingest(ctx, directFact("alice", "bob plays chess on sundays", memory.KindSemantic))
	require.NoError(t, err)

	report, err := e.ForceDecayRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Decayed)

	rec, err := e.Get(ctx, episodic.Record.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.70*0.95*0.95*0.95, rec.Confidence, 1e-6)

	rec, err = e.Get(ctx, semantic.Record.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.70, rec.Confidence, 1e-9)

	again, err := e.ForceDecayRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Decayed)

	_, err = e.LastDecayRun()
	assert.Error(t, err)
}

func TestEngine_ScheduledDecay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Decay.Enabled = true
	cfg.Decay.Schedule = "@every 1h"
	e := createTestEngine(t, cfg)
	require.NoError(t, e.Start())

	report, err := e.ForceDecayRun(context.Background())
	require.NoError(t, err)

	last, err := e.LastDecayRun()
	require.NoError(t, err)
	assert.Equal(t, report.RunID, last.RunID)
}

func TestEngine_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Decay.Enabled = true
	cfg.Decay.Schedule = "every now and then"

	_, err := New(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestEngine_Lifecycle(t *testing.T) {
	e, err := New(testConfig(t), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, e.Start())
	require.NoError(t, e.Start())

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.Error(t, e.Start())
}

func TestEngine_CloseDrainsReinforcements(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	out, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office", memory.KindEpisodic))
	require.NoError(t, err)

	// never started: retrieval still enqueues and Close must write it
	res, err := e.Retrieve(ctx, "alice", "harbor office", privacy.Origin{Kind: privacy.OriginDirect, UserID: "alice"}, 5)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	require.NoError(t, e.Close())

	reopened := createTestEngine(t, cfg)
	rec, err := reopened.Get(ctx, out.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RetrievalCount)
}

func TestEngine_StatsAndCache(t *testing.T) {
	e := createTestEngine(t, testConfig(t))
	ctx := context.Background()

	assert.Nil(t, e.EmbeddingCacheHitRate())

	_, err := e.Ingest(ctx, directFact("alice", "alice works at the harbor office", memory.KindEpisodic))
	require.NoError(t, err)
	_, err = e.Observe(ctx, consolidation.Candidate{
		OwnerID:   "alice",
		TopicText: "alice seems to like green tea",
		Origin:    &privacy.Origin{Kind: privacy.OriginOpenGroup, GroupID: "g1"},
	})
	require.NoError(t, err)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByKind[memory.KindEpisodic])
	assert.Equal(t, 1, st.ByKind[memory.KindCommunityObservation])

	_, err = e.Retrieve(ctx, "alice", "alice works at the harbor office", privacy.Origin{Kind: privacy.OriginDirect, UserID: "alice"}, 5)
	require.NoError(t, err)
	rate := e.EmbeddingCacheHitRate()
	require.NotNil(t, rate)
	assert.Greater(t, *rate, 0.0)

	report, err := e.Reconcile(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, report.Superseded)
}
