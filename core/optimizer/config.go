package optimizer

import (
	"portfolio-optimizer/core/risk"
	"portfolio-optimizer/internal/errors"
)

// Config contains optimizer settings
type Config struct {
	// MaxIterations bounds local search per component
	MaxIterations int `json:"max_iterations" mapstructure:"max_iterations"`

	// Epsilon stops local search once the relative improvement of a move falls below it
	Epsilon float64 `json:"epsilon" mapstructure:"epsilon"`

	// UnscoredPolicy is max_risk or exclude
	UnscoredPolicy risk.Policy `json:"unscored_policy" mapstructure:"unscored_policy"`

	// MandatoryMinFraction is the share of demand reserved for mandatory projects
	// and required of a prerequisite before its dependents may be funded
	MandatoryMinFraction float64 `json:"mandatory_min_fraction" mapstructure:"mandatory_min_fraction"`

	// ExchangeLimit is the largest component searched with exchange moves
	ExchangeLimit int `json:"exchange_limit" mapstructure:"exchange_limit"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxIterations:        200,
		Epsilon:              1e-6,
		UnscoredPolicy:       risk.PolicyMaxRisk,
		MandatoryMinFraction: 0.10,
		ExchangeLimit:        32,
	}
}

// Validate checks optimizer settings
func (c Config) Validate() error {
	if c.MaxIterations < 0 {
		return errors.Config("max_iterations must be non-negative", nil)
	}
	if c.Epsilon < 0 {
		return errors.Config("epsilon must be non-negative", nil)
	}
	if _, err := risk.ParsePolicy(string(c.UnscoredPolicy)); err != nil {
		return errors.Config("invalid unscored_policy", err)
	}
	if c.MandatoryMinFraction <= 0 || c.MandatoryMinFraction > 1 {
		return errors.Config("mandatory_min_fraction must be in (0, 1]", nil)
	}
	if c.ExchangeLimit < 0 {
		return errors.Config("exchange_limit must be non-negative", nil)
	}
	return nil
}
