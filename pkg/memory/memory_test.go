package memory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindBoostAndCeiling(t *testing.T) {
	tests := []struct {
		kind    Kind
		boost   float64
		ceiling float64
		policy  DecayPolicy
		passive bool
	}{
		{KindSemantic, 0.05, 0.99, DecayNone, false},
		{KindProcedural, 0.04, 0.97, DecayStandard, false},
		{KindEpisodic, 0.03, 0.95, DecayStandard, false},
		{KindCommunityObservation, 0.03, 0.95, DecayStandard, true},
		{KindInferredPreference, 0.03, 0.95, DecayStandard, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.True(t, tt.kind.Valid())
			assert.Equal(t, tt.boost, tt.kind.Boost())
			assert.Equal(t, tt.ceiling, tt.kind.Ceiling())
			assert.Equal(t, tt.policy, tt.kind.DefaultDecayPolicy())
			assert.Equal(t, tt.passive, tt.kind.Passive())
		})
	}

	assert.Len(t, Kinds, len(tests))
}

func TestKindMergeableWith(t *testing.T) {
	tests := []struct {
		candidate Kind
		targets   []Kind
	}{
		{KindSemantic, []Kind{KindSemantic, KindEpisodic}},
		{KindEpisodic, []Kind{KindSemantic, KindEpisodic}},
		{KindProcedural, []Kind{KindProcedural}},
		{KindCommunityObservation, []Kind{KindCommunityObservation}},
		{KindInferredPreference, []Kind{KindInferredPreference}},
	}

	for _, tt := range tests {
		t.Run(string(tt.candidate), func(t *testing.T) {
			assert.Equal(t, tt.targets, tt.candidate.MergeTargets())
			for _, target := range Kinds {
				want := false
				for _, k := range tt.targets {
					want = want || k == target
				}
				assert.Equal(t, want, tt.candidate.MergeableWith(target), "target %s", target)
			}
		})
	}

	assert.False(t, Kind("rumor").MergeableWith(KindSemantic))
	assert.True(t, KindSemantic.Promotes(KindEpisodic))
	assert.False(t, KindEpisodic.Promotes(KindSemantic))
	assert.False(t, KindSemantic.Promotes(KindSemantic))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Semantic ")
	require.NoError(t, err)
	assert.Equal(t, KindSemantic, k)

	_, err = ParseKind("rumor")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestPassiveConfidenceCap(t *testing.T) {
	assert.Equal(t, 0.50, KindCommunityObservation.PassiveConfidenceCap())
	assert.Equal(t, 0.40, KindInferredPreference.PassiveConfidenceCap())
	assert.Equal(t, MaxConfidence, KindSemantic.PassiveConfidenceCap())
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, MinConfidence, ClampConfidence(0.01))
	assert.Equal(t, MinConfidence, ClampConfidence(-1))
	assert.Equal(t, MinConfidence, ClampConfidence(math.NaN()))
	assert.Equal(t, MaxConfidence, ClampConfidence(1.7))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
}

func TestConfidenceLabel(t *testing.T) {
	assert.Equal(t, "high", ConfidenceLabel(0.95))
	assert.Equal(t, "high", ConfidenceLabel(0.80))
	assert.Equal(t, "medium", ConfidenceLabel(0.70))
	assert.Equal(t, "low", ConfidenceLabel(0.10))
}

func TestPrivacyLevel(t *testing.T) {
	p, err := ParsePrivacyLevel("GLOBAL")
	require.NoError(t, err)
	assert.Equal(t, PrivacyGlobal, p)

	_, err = ParsePrivacyLevel("secret")
	assert.ErrorIs(t, err, ErrInvalidPrivacy)

	assert.Less(t, PrivacyPrivate.Rank(), PrivacyRestricted.Rank())
	assert.Less(t, PrivacyRestricted.Rank(), PrivacyPublic.Rank())
	assert.Less(t, PrivacyPublic.Rank(), PrivacyGlobal.Rank())
	assert.Equal(t, -1, PrivacyLevel("secret").Rank())
}

func TestValidateScope(t *testing.T) {
	group := Scope{GroupID: "g1"}

	tests := []struct {
		name  string
		level PrivacyLevel
		scope Scope
		ok    bool
	}{
		{"private without group", PrivacyPrivate, Scope{}, true},
		{"private pinned to group", PrivacyPrivate, group, true},
		{"restricted with group", PrivacyRestricted, group, true},
		{"restricted without group", PrivacyRestricted, Scope{}, false},
		{"public with group", PrivacyPublic, group, true},
		{"public without group", PrivacyPublic, Scope{}, false},
		{"global without group", PrivacyGlobal, Scope{}, true},
		{"global with group", PrivacyGlobal, group, false},
		{"unknown level", PrivacyLevel("secret"), Scope{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScope(tt.level, tt.scope)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPrivacy)
			}
		})
	}
}

func TestRecordSameScope(t *testing.T) {
	base := &Record{OwnerID: "alice", PrivacyLevel: PrivacyRestricted, OriginScope: Scope{GroupID: "g1"}}

	same := *base
	assert.True(t, base.SameScope(&same))

	otherGroup := *base
	otherGroup.OriginScope = Scope{GroupID: "g2"}
	assert.False(t, base.SameScope(&otherGroup))

	otherLevel := *base
	otherLevel.PrivacyLevel = PrivacyPublic
	assert.False(t, base.SameScope(&otherLevel))

	otherOwner := *base
	otherOwner.OwnerID = "bob"
	assert.False(t, base.SameScope(&otherOwner))
}

func TestRecordAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &Record{CreatedAt: now.Add(-48 * time.Hour)}
	assert.Equal(t, 48*time.Hour, r.Age(now))
	assert.Zero(t, (&Record{}).Age(now))
}
