package consolidation

import (
	"fmt"
	"strings"

	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/privacy"
)

// Candidate is one extracted fact offered for consolidation. The privacy
// level and scope come either from Origin, classified at ingest, or from
// PrivacyLevel and OriginScope set by a caller that already classified it.
type Candidate struct {
	OwnerID        string              `json:"owner_id"`
	TopicText      string              `json:"topic_text"`
	RawEvidence    string              `json:"raw_evidence,omitempty"`
	Kind           memory.Kind         `json:"kind,omitempty"`
	Origin         *privacy.Origin     `json:"origin,omitempty"`
	PrivacyLevel   memory.PrivacyLevel `json:"privacy_level,omitempty"`
	OriginScope    memory.Scope        `json:"origin_scope,omitempty"`
	ConfidenceHint float64             `json:"confidence_hint,omitempty"`
}

// resolved is a validated candidate with its privacy scope settled
type resolved struct {
	ownerID  string
	summary  string
	evidence string
	kind     memory.Kind
	level    memory.PrivacyLevel
	scope    memory.Scope
	hint     float64
}

// normalizeText collapses runs of whitespace so phrasing comparisons are not
// thrown off by formatting.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (c Candidate) resolve() (resolved, error) {
	r := resolved{
		ownerID:  strings.TrimSpace(c.OwnerID),
		summary:  normalizeText(c.TopicText),
		evidence: strings.TrimSpace(c.RawEvidence),
		kind:     c.Kind,
		hint:     c.ConfidenceHint,
	}

	if r.ownerID == "" {
		return resolved{}, fmt.Errorf("%w: owner id is required", memory.ErrInvalidCandidate)
	}
	if r.summary == "" {
		return resolved{}, fmt.Errorf("%w: topic text is required", memory.ErrInvalidCandidate)
	}
	if r.kind == "" {
		r.kind = memory.KindEpisodic
	}
	if !r.kind.Valid() {
		return resolved{}, fmt.Errorf("%w: %w: %q", memory.ErrInvalidCandidate, memory.ErrInvalidKind, c.Kind)
	}

	switch {
	case c.Origin != nil:
		level, scope, err := privacy.Classify(*c.Origin)
		if err != nil {
			return resolved{}, fmt.Errorf("%w: %w", memory.ErrInvalidPrivacy, err)
		}
		r.level, r.scope = level, scope
	case c.PrivacyLevel != "":
		if err := memory.ValidateScope(c.PrivacyLevel, c.OriginScope); err != nil {
			return resolved{}, err
		}
		r.level, r.scope = c.PrivacyLevel, c.OriginScope
	default:
		return resolved{}, fmt.Errorf("%w: candidate has neither an origin nor a privacy level", memory.ErrInvalidPrivacy)
	}

	if r.hint <= 0 {
		r.hint = memory.DefaultConfidence
	}
	r.hint = memory.ClampConfidence(r.hint)

	return r, nil
}
