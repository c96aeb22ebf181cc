package risk

import (
	"fmt"
	"math"

	"portfolio-optimizer/internal/errors"
)

// weightTolerance bounds the deviation of the weight sum from one
const weightTolerance = 1e-9

// Weights is the relative importance of each risk component.
// All weights must be non-negative and sum to 1.
type Weights struct {
	// Schedule weights elapsed/estimated duration amplified by delay variance
	Schedule float64 `json:"schedule" mapstructure:"schedule"`

	// Budget weights the burn ratio against the overrun tolerance
	Budget float64 `json:"budget" mapstructure:"budget"`

	// Dependency weights the depth of the dependency chain
	Dependency float64 `json:"dependency" mapstructure:"dependency"`
}

// DefaultWeights favours schedule slip over budget burn; dependency depth
// is a structural multiplier and carries the smallest share.
func DefaultWeights() Weights {
	return Weights{
		Schedule:   0.45,
		Budget:     0.35,
		Dependency: 0.20,
	}
}

// Sum returns the total of all weights
func (w Weights) Sum() float64 {
	return w.Schedule + w.Budget + w.Dependency
}

// Validate checks that weights are non-negative and sum to 1
func (w Weights) Validate() error {
	names := []string{"schedule", "budget", "dependency"}
	for i, v := range []float64{w.Schedule, w.Budget, w.Dependency} {
		if v < 0 || math.IsNaN(v) {
			return errors.Config(fmt.Sprintf("negative %s weight: %f", names[i], v), nil)
		}
	}
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		return errors.Config(fmt.Sprintf("weights sum to %.12f, must sum to 1", w.Sum()), nil)
	}
	return nil
}

// Config contains scoring parameters
type Config struct {
	Weights Weights `json:"weights" mapstructure:"weights"`

	// OverrunTolerance is the fraction by which consumption may exceed allocation
	OverrunTolerance float64 `json:"overrun_tolerance" mapstructure:"overrun_tolerance"`

	// DelayAmplification scales the schedule ratio by (1 + a*sigma)
	DelayAmplification float64 `json:"delay_amplification" mapstructure:"delay_amplification"`

	// ScheduleCeiling is the amplified ratio that maps to full schedule risk
	ScheduleCeiling float64 `json:"schedule_ceiling" mapstructure:"schedule_ceiling"`

	// DependencyHalfSaturation is the chain depth scored at 0.5
	DependencyHalfSaturation float64 `json:"dependency_half_saturation" mapstructure:"dependency_half_saturation"`

	// ZScore sets the confidence level of the return interval
	ZScore float64 `json:"z_score" mapstructure:"z_score"`

	// BaseUncertainty is added to sigma before the interval is scaled
	BaseUncertainty float64 `json:"base_uncertainty" mapstructure:"base_uncertainty"`

	// MinHalfWidth is the interval half-width floor relative to |value|
	MinHalfWidth float64 `json:"min_half_width" mapstructure:"min_half_width"`

	// RescoreThreshold is the input delta below which a cached score is reused
	RescoreThreshold float64 `json:"rescore_threshold" mapstructure:"rescore_threshold"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Weights:                  DefaultWeights(),
		OverrunTolerance:         0.10,
		DelayAmplification:       1.0,
		ScheduleCeiling:          2.0,
		DependencyHalfSaturation: 2.0,
		ZScore:                   1.96,
		BaseUncertainty:          0.10,
		MinHalfWidth:             0.02,
		RescoreThreshold:         0.01,
	}
}

// MinIntervalHalfWidth is the smallest relative half-width that survives
// rounding to the stored precision, keeping every interval non-degenerate
const MinIntervalHalfWidth = 1e-6

// Validate checks the scoring parameters
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	switch {
	case c.OverrunTolerance < 0:
		return errors.Config("overrun_tolerance must be non-negative", nil)
	case c.DelayAmplification < 0:
		return errors.Config("delay_amplification must be non-negative", nil)
	case c.ScheduleCeiling <= 0:
		return errors.Config("schedule_ceiling must be positive", nil)
	case c.DependencyHalfSaturation <= 0:
		return errors.Config("dependency_half_saturation must be positive", nil)
	case c.ZScore <= 0:
		return errors.Config("z_score must be positive", nil)
	case c.BaseUncertainty < 0:
		return errors.Config("base_uncertainty must be non-negative", nil)
	case c.MinHalfWidth < MinIntervalHalfWidth:
		return errors.Config(fmt.Sprintf("min_half_width must be at least %g", MinIntervalHalfWidth), nil)
	case c.RescoreThreshold < 0:
		return errors.Config("rescore_threshold must be non-negative", nil)
	}
	return nil
}
