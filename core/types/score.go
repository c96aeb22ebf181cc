// Package types - Risk score types
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskComponents is the explainable breakdown of a risk value.
// Each component is in [0,1] before weighting.
type RiskComponents struct {
	Schedule   decimal.Decimal `json:"schedule" msgpack:"schedule"`
	Budget     decimal.Decimal `json:"budget" msgpack:"budget"`
	Dependency decimal.Decimal `json:"dependency" msgpack:"dependency"`
}

// Interval is a confidence interval around an estimate
type Interval struct {
	Low  decimal.Decimal `json:"low" msgpack:"low"`
	High decimal.Decimal `json:"high" msgpack:"high"`
}

// Width returns High - Low
func (i Interval) Width() decimal.Decimal {
	return i.High.Sub(i.Low)
}

// Contains reports whether v lies within the interval
func (i Interval) Contains(v decimal.Decimal) bool {
	return i.Low.LessThanOrEqual(v) && v.LessThanOrEqual(i.High)
}

// RiskScore is the scored risk and expected return of one project
type RiskScore struct {
	ProjectID string `json:"project_id" msgpack:"project_id"`

	// Risk is in [0,1]
	Risk decimal.Decimal `json:"risk" msgpack:"risk"`

	// ExpectedReturn is in currency units and may be negative
	ExpectedReturn decimal.Decimal `json:"expected_return" msgpack:"expected_return"`

	Confidence Interval       `json:"confidence" msgpack:"confidence"`
	Components RiskComponents `json:"components" msgpack:"components"`

	// ScoredAt is the observation time of the signal that was scored
	ScoredAt time.Time `json:"scored_at" msgpack:"scored_at"`

	// Unscored marks insufficient data; Risk and ExpectedReturn are then meaningless
	Unscored       bool   `json:"unscored,omitempty" msgpack:"unscored,omitempty"`
	UnscoredReason string `json:"unscored_reason,omitempty" msgpack:"unscored_reason,omitempty"`
}

// ScoreSet indexes scores by project ID
type ScoreSet map[string]RiskScore

// NewScoreSet indexes a slice of scores
func NewScoreSet(scores []RiskScore) ScoreSet {
	set := make(ScoreSet, len(scores))
	for _, s := range scores {
		set[s.ProjectID] = s
	}
	return set
}
