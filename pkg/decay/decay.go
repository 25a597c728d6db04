package decay

import (
	"math"
	"time"

	"github.com/harun/recall/pkg/memory"
)

const (
	// DefaultPeriodDays is the length of one decay period
	DefaultPeriodDays = 30
	// DefaultCleanupAfterDays is how long a record at the floor must go
	// unaccessed before it is flagged for cleanup
	DefaultCleanupAfterDays = 90

	baseRate            = 0.95
	maxResistanceBonus  = 0.04
	resistanceSaturates = 10
)

// Params holds the tunable parts of the decay formula
type Params struct {
	PeriodDays       int
	CleanupAfterDays int
}

// DefaultParams returns the standard decay parameters
func DefaultParams() Params {
	return Params{
		PeriodDays:       DefaultPeriodDays,
		CleanupAfterDays: DefaultCleanupAfterDays,
	}
}

// Outcome is the result of evaluating decay for one record
type Outcome struct {
	Confidence float64
	Periods    int
	Cleanup    bool
}

// Resistance grows linearly with retrieval count and saturates at 1 after
// ten retrievals.
func Resistance(retrievalCount int) float64 {
	if retrievalCount <= 0 {
		return 0
	}
	return math.Min(1.0, float64(retrievalCount)/resistanceSaturates)
}

// Rate is the per-period multiplier: 0.95 for a never-retrieved record up
// to 0.99 for a fully resistant one.
func Rate(retrievalCount int) float64 {
	return baseRate + maxResistanceBonus*Resistance(retrievalCount)
}

// Periods counts whole periods between lastAccessed and now
func (p Params) Periods(lastAccessed, now time.Time) int {
	if p.PeriodDays <= 0 || !now.After(lastAccessed) {
		return 0
	}
	days := now.Sub(lastAccessed).Hours() / 24
	return int(math.Floor(days / float64(p.PeriodDays)))
}

// Compute evaluates decay from the record's base confidence. The result only
// depends on base, retrievalCount and the time since last access, so calling
// it again for the same inputs yields the same confidence.
func (p Params) Compute(base float64, retrievalCount int, lastAccessed, now time.Time) Outcome {
	periods := p.Periods(lastAccessed, now)
	conf := base * math.Pow(Rate(retrievalCount), float64(periods))
	conf = memory.ClampConfidence(conf)

	out := Outcome{Confidence: conf, Periods: periods}
	if p.CleanupAfterDays > 0 && conf <= memory.MinConfidence {
		idle := now.Sub(lastAccessed)
		out.Cleanup = idle >= time.Duration(p.CleanupAfterDays)*24*time.Hour
	}
	return out
}

// Eligible reports whether the decay job may touch a record at all
func Eligible(r *memory.Record) bool {
	switch r.Kind {
	case memory.KindSemantic:
		return false
	case memory.KindEpisodic, memory.KindProcedural, memory.KindCommunityObservation, memory.KindInferredPreference:
		return !r.IsProtected && r.DecayPolicy == memory.DecayStandard
	}
	return false
}
