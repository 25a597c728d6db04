package memory

import (
	"fmt"
	"strings"
)

// Kind classifies what a memory record describes
type Kind string

const (
	KindSemantic             Kind = "semantic"              // durable fact
	KindEpisodic             Kind = "episodic"              // time-bound event or state
	KindProcedural           Kind = "procedural"            // behavioral pattern
	KindCommunityObservation Kind = "community_observation" // passively captured, not verified
	KindInferredPreference   Kind = "inferred_preference"   // derived from a third party's reaction
)

// Kinds lists every valid kind in declaration order
var Kinds = []Kind{
	KindSemantic,
	KindEpisodic,
	KindProcedural,
	KindCommunityObservation,
	KindInferredPreference,
}

// ParseKind converts a string into a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindSemantic, KindEpisodic, KindProcedural, KindCommunityObservation, KindInferredPreference:
		return true
	}
	return false
}

// Boost is the confidence added each time a record of this kind is retrieved.
func (k Kind) Boost() float64 {
	switch k {
	case KindSemantic:
		return 0.05
	case KindProcedural:
		return 0.04
	case KindEpisodic, KindCommunityObservation, KindInferredPreference:
		return 0.03
	}
	return 0.03
}

// Ceiling is the highest confidence reinforcement or merging can reach.
func (k Kind) Ceiling() float64 {
	switch k {
	case KindSemantic:
		return 0.99
	case KindProcedural:
		return 0.97
	case KindEpisodic, KindCommunityObservation, KindInferredPreference:
		return 0.95
	}
	return 0.95
}

// DefaultDecayPolicy returns the policy a new record of this kind starts with.
// Semantic facts never decay.
func (k Kind) DefaultDecayPolicy() DecayPolicy {
	switch k {
	case KindSemantic:
		return DecayNone
	case KindEpisodic, KindProcedural, KindCommunityObservation, KindInferredPreference:
		return DecayStandard
	}
	return DecayStandard
}

// Passive reports whether the kind comes from passive capture rather than
// verified extraction.
func (k Kind) Passive() bool {
	switch k {
	case KindCommunityObservation, KindInferredPreference:
		return true
	case KindSemantic, KindEpisodic, KindProcedural:
		return false
	}
	return false
}

// PassiveConfidenceCap bounds the initial confidence of passively captured records
func (k Kind) PassiveConfidenceCap() float64 {
	switch k {
	case KindCommunityObservation:
		return 0.50
	case KindInferredPreference:
		return 0.40
	case KindSemantic, KindEpisodic, KindProcedural:
		return MaxConfidence
	}
	return MaxConfidence
}

// MergeableWith reports whether a candidate of kind k may be merged into an
// existing record of kind target. Passive kinds only merge with their own
// kind, so unverified captures never raise a verified record's confidence.
// A semantic candidate meeting an episodic record promotes it; see Promotes.
func (k Kind) MergeableWith(target Kind) bool {
	switch k {
	case KindSemantic, KindEpisodic:
		return target == KindSemantic || target == KindEpisodic
	case KindProcedural, KindCommunityObservation, KindInferredPreference:
		return target == k
	}
	return false
}

// MergeTargets lists the record kinds a candidate of kind k may merge into
func (k Kind) MergeTargets() []Kind {
	var out []Kind
	for _, t := range Kinds {
		if k.MergeableWith(t) {
			out = append(out, t)
		}
	}
	return out
}

// Promotes reports whether merging a candidate of kind k into a record of
// kind target turns the record into k.
func (k Kind) Promotes(target Kind) bool {
	return k == KindSemantic && target == KindEpisodic
}

// DecayPolicy controls whether the decay job touches a record
type DecayPolicy string

const (
	DecayNone           DecayPolicy = "none"
	DecayStandard       DecayPolicy = "standard"
	DecayPendingCleanup DecayPolicy = "pending_cleanup"
)

// Valid reports whether p is a known policy
func (p DecayPolicy) Valid() bool {
	switch p {
	case DecayNone, DecayStandard, DecayPendingCleanup:
		return true
	}
	return false
}
