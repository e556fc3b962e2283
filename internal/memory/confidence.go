package memory

import (
	"fmt"
	"math"
)

const (
	// DefaultAlpha is the fraction of remaining headroom gained on success.
	DefaultAlpha = 0.1

	// DefaultBeta is the fraction of confidence lost on failure.
	DefaultBeta = 0.15

	// DefaultSeedSuccess is the confidence of a pattern first seen succeeding.
	DefaultSeedSuccess = 0.6

	// DefaultSeedFailure is the confidence of a pattern first seen failing.
	DefaultSeedFailure = 0.35
)

// Updater applies the confidence update rule. It is a value type with no
// side effects; the store holds one configured from its tunables.
type Updater struct {
	Alpha       float64 `koanf:"alpha" json:"alpha"`
	Beta        float64 `koanf:"beta" json:"beta"`
	SeedSuccess float64 `koanf:"seed_success" json:"seed_success"`
	SeedFailure float64 `koanf:"seed_failure" json:"seed_failure"`
}

// DefaultUpdater returns the standard tunables.
func DefaultUpdater() Updater {
	return Updater{
		Alpha:       DefaultAlpha,
		Beta:        DefaultBeta,
		SeedSuccess: DefaultSeedSuccess,
		SeedFailure: DefaultSeedFailure,
	}
}

// Validate rejects tunables outside [0, 1].
func (u Updater) Validate() error {
	for name, v := range map[string]float64{
		"alpha":        u.Alpha,
		"beta":         u.Beta,
		"seed_success": u.SeedSuccess,
		"seed_failure": u.SeedFailure,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	return nil
}

// Update returns the confidence after one more outcome.
//
// Repeated successes approach but never reach 1.0 (for alpha < 1). A failure
// removes beta of the current value, so confident patterns lose more in
// absolute terms than weak ones, and the result never drops below zero.
func (u Updater) Update(prior float64, outcome Outcome) float64 {
	prior = Clamp(prior)
	switch outcome {
	case OutcomeSuccess:
		return Clamp(prior + (1-prior)*u.Alpha)
	case OutcomeFailure:
		return Clamp(prior - prior*u.Beta)
	default:
		return prior
	}
}

// Seed returns the starting confidence for a pattern first seen with outcome.
func (u Updater) Seed(outcome Outcome) float64 {
	if outcome == OutcomeFailure {
		return Clamp(u.SeedFailure)
	}
	return Clamp(u.SeedSuccess)
}

// Clamp limits v to [0, 1]. NaN clamps to 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

const (
	// ProvenThreshold is the confidence above which a pattern counts as proven.
	ProvenThreshold = 0.8

	// WeakThreshold is the confidence below which a repeated pattern needs improvement.
	WeakThreshold = 0.5
)
