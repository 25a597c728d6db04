package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/recall/pkg/consolidation"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/privacy"
	"github.com/harun/recall/pkg/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidates(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr string
	}{
		{
			name:  "single candidate",
			input: `{"owner_id":"alice","topic_text":"alice likes green tea","origin":{"kind":"direct","user_id":"alice"}}`,
			want:  1,
		},
		{
			name: "array",
			input: `[
				{"owner_id":"alice","topic_text":"alice likes green tea","origin":{"kind":"direct"}},
				{"owner_id":"bob","topic_text":"bob plays chess","privacy_level":"global","kind":"semantic"}
			]`,
			want: 2,
		},
		{
			name:    "missing topic",
			input:   `{"owner_id":"alice","origin":{"kind":"direct"}}`,
			wantErr: "invalid candidate file",
		},
		{
			name:    "unknown kind",
			input:   `{"owner_id":"alice","topic_text":"x","kind":"rumor","origin":{"kind":"direct"}}`,
			wantErr: "invalid candidate file",
		},
		{
			name:    "no privacy source",
			input:   `{"owner_id":"alice","topic_text":"x"}`,
			wantErr: "invalid candidate file",
		},
		{
			name:    "hint out of range",
			input:   `{"owner_id":"alice","topic_text":"x","origin":{"kind":"direct"},"confidence_hint":1.5}`,
			wantErr: "invalid candidate file",
		},
		{
			name:    "empty array",
			input:   `[]`,
			wantErr: "invalid candidate file",
		},
		{
			name:    "not json",
			input:   `owner=alice`,
			wantErr: "schema validation error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCandidates([]byte(tt.input))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestParseCandidates_MarshalledWithoutKind(t *testing.T) {
	data, err := json.Marshal(consolidation.Candidate{
		OwnerID:      "alice",
		TopicText:    "alice likes green tea",
		PrivacyLevel: memory.PrivacyPrivate,
	})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"kind"`)
	assert.NotContains(t, string(data), `"origin"`)

	got, err := parseCandidates(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Kind)
}

func writeCandidates(t *testing.T, candidates interface{}) string {
	t.Helper()
	data, err := json.Marshal(candidates)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "facts.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestIngestAndRetrieveFlow(t *testing.T) {
	cfgPath := writeTestConfig(t)
	direct := &privacy.Origin{Kind: privacy.OriginDirect, UserID: "alice"}

	facts := writeCandidates(t, []consolidation.Candidate{
		{OwnerID: "alice", TopicText: "alice works at the harbor office", RawEvidence: "I work at the harbor office", Kind: memory.KindEpisodic, Origin: direct},
		{OwnerID: "alice", TopicText: "alice likes green tea", Kind: memory.KindSemantic, Origin: direct},
	})

	output, err := executeCommand(t, "--config", cfgPath, "--format", "json", "ingest", facts)
	require.NoError(t, err)

	var results []ingestResult
	require.NoError(t, json.Unmarshal([]byte(output), &results))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Empty(t, r.Error)
		assert.Equal(t, string(consolidation.ActionAdd), r.Action)
	}
	harborID := results[0].RecordID

	t.Run("owner retrieves in direct context", func(t *testing.T) {
		output, err := executeCommand(t, "--config", cfgPath, "--format", "json",
			"retrieve", "--as", "alice", "--origin", "direct", "harbor", "office")
		require.NoError(t, err)

		var res retrieval.Result
		require.NoError(t, json.Unmarshal([]byte(output), &res))
		require.NotEmpty(t, res.Hits)
		assert.Equal(t, harborID, res.Hits[0].Record.ID)
	})

	t.Run("private fact hidden in open group", func(t *testing.T) {
		output, err := executeCommand(t, "--config", cfgPath,
			"retrieve", "--as", "alice", "--origin", "open_group", "--group", "g1", "harbor office")
		require.NoError(t, err)
		assert.Contains(t, output, "No matching records.")
	})

	t.Run("retrieve requires a requester", func(t *testing.T) {
		_, err := executeCommand(t, "--config", cfgPath, "retrieve", "harbor")
		assert.Error(t, err)
	})

	t.Run("retrieval reinforced the hit", func(t *testing.T) {
		output, err := executeCommand(t, "--config", cfgPath, "show", harborID)
		require.NoError(t, err)

		var rec memory.Record
		require.NoError(t, json.Unmarshal([]byte(output), &rec))
		assert.Equal(t, 1, rec.RetrievalCount)
		assert.InDelta(t, 0.73, rec.Confidence, 1e-9)
	})

	t.Run("reinforce", func(t *testing.T) {
		output, err := executeCommand(t, "--config", cfgPath, "reinforce", harborID)
		require.NoError(t, err)
		assert.Contains(t, output, "retrievals=2")

		_, err = executeCommand(t, "--config", cfgPath, "reinforce", "missing")
		assert.ErrorIs(t, err, memory.ErrNotFound)
	})

	t.Run("protect writes the audit log", func(t *testing.T) {
		output, err := executeCommand(t, "--config", cfgPath, "--operator", "ops-1", "protect", harborID)
		require.NoError(t, err)
		assert.Contains(t, output, "is now protected")

		audit, err := os.ReadFile(filepath.Join(filepath.Dir(cfgPath), "audit.log"))
		require.NoError(t, err)
		assert.Contains(t, string(audit), `"action":"protection_changed"`)
		assert.Contains(t, string(audit), `"actor":"ops-1"`)
	})

	t.Run("privacy override", func(t *testing.T) {
		_, err := executeCommand(t, "--config", cfgPath, "privacy", harborID, "restricted")
		assert.ErrorIs(t, err, memory.ErrInvalidPrivacy)

		_, err = executeCommand(t, "--config", cfgPath, "privacy", harborID, "secret")
		assert.ErrorIs(t, err, memory.ErrInvalidPrivacy)

		output, err := executeCommand(t, "--config", cfgPath, "privacy", harborID, "public", "--group", "g1")
		require.NoError(t, err)
		assert.Contains(t, output, "is now public")

		output, err = executeCommand(t, "--config", cfgPath,
			"retrieve", "--as", "bob", "--origin", "open_group", "--group", "g1", "harbor office")
		require.NoError(t, err)
		assert.Contains(t, output, harborID)
	})

	t.Run("decay run", func(t *testing.T) {
		output, err := executeCommand(t, "--config", cfgPath, "--format", "json", "decay", "run")
		require.NoError(t, err)
		assert.Contains(t, output, `"decayed": 0`)
	})

	t.Run("reconcile", func(t *testing.T) {
		output, err := executeCommand(t, "--config", cfgPath, "reconcile", "alice")
		require.NoError(t, err)
		assert.Contains(t, output, "No duplicates found.")
	})

	t.Run("stats", func(t *testing.T) {
		output, err := executeCommand(t, "--config", cfgPath, "stats")
		require.NoError(t, err)
		assert.Contains(t, output, "Records: 2 live")
		assert.Contains(t, output, "semantic")
	})
}

func TestIngestObserve(t *testing.T) {
	cfgPath := writeTestConfig(t)

	facts := writeCandidates(t, consolidation.Candidate{
		OwnerID:        "alice",
		TopicText:      "alice seems to like green tea",
		Origin:         &privacy.Origin{Kind: privacy.OriginOpenGroup, GroupID: "g1"},
		ConfidenceHint: 0.9,
	})

	output, err := executeCommand(t, "--config", cfgPath, "--format", "json", "ingest", "--observe", facts)
	require.NoError(t, err)

	var results []ingestResult
	require.NoError(t, json.Unmarshal([]byte(output), &results))
	require.Len(t, results, 1)
	assert.LessOrEqual(t, results[0].Confidence, memory.KindCommunityObservation.PassiveConfidenceCap())
}

func TestIngestRejectsInvalidFile(t *testing.T) {
	cfgPath := writeTestConfig(t)
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"owner_id":"alice"}`), 0644))

	_, err := executeCommand(t, "--config", cfgPath, "ingest", path)
	assert.ErrorContains(t, err, "invalid candidate file")

	_, err = executeCommand(t, "--config", cfgPath, "ingest", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read candidate file")
}
