package reinforce

import "github.com/harun/recall/pkg/memory"

// Next returns the confidence after one reinforcement of a record of kind k.
// The boost never pushes past the kind's ceiling and never lowers a
// confidence already above it. It mirrors the SQL applied by the store.
func Next(k memory.Kind, confidence float64) float64 {
	boosted := confidence + k.Boost()
	if ceiling := k.Ceiling(); boosted > ceiling {
		boosted = ceiling
	}
	if boosted < confidence {
		return confidence
	}
	return boosted
}
