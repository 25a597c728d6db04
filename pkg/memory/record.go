package memory

import (
	"math"
	"time"
)

const (
	// MinConfidence is the floor no record's confidence drops below
	MinConfidence = 0.10
	// MaxConfidence is the absolute upper bound of confidence
	MaxConfidence = 1.0
	// DefaultConfidence is used when a candidate carries no hint
	DefaultConfidence = 0.70
)

// Record is one consolidated fact about an owner
type Record struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"owner_id"`
	TopicSummary   string       `json:"topic_summary"`
	RawEvidence    []string     `json:"raw_evidence,omitempty"`
	Embedding      []float32    `json:"-"`
	Kind           Kind         `json:"kind"`
	PrivacyLevel   PrivacyLevel `json:"privacy_level"`
	OriginScope    Scope        `json:"origin_scope"`
	SourceCount    int          `json:"source_count"`
	Confidence     float64      `json:"confidence"`
	DecayPolicy    DecayPolicy  `json:"decay_policy"`
	RetrievalCount int          `json:"retrieval_count"`
	IsProtected    bool         `json:"is_protected"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	LastAccessedAt time.Time    `json:"last_accessed_at"`

	// DecayBase is the confidence the decay formula starts from. It is reset
	// whenever the record is reinforced, merged or created, which keeps decay
	// runs idempotent within a period.
	DecayBase float64 `json:"decay_base"`
}

// ClampConfidence bounds c to [MinConfidence, MaxConfidence]. NaN maps to the floor.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// Age returns how long ago the record was created relative to now
func (r *Record) Age(now time.Time) time.Duration {
	if r.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(r.CreatedAt)
}

// SameScope reports whether two records may be merged: same owner, same
// privacy level and same origin scope.
func (r *Record) SameScope(other *Record) bool {
	return r.OwnerID == other.OwnerID &&
		r.PrivacyLevel == other.PrivacyLevel &&
		r.OriginScope == other.OriginScope
}

// ConfidenceLabel buckets a confidence value for prompt rendering
func ConfidenceLabel(c float64) string {
	switch {
	case c >= 0.80:
		return "high"
	case c >= 0.50:
		return "medium"
	default:
		return "low"
	}
}
