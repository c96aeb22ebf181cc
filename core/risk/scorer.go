// Package risk computes composite risk scores and expected returns.
// A score is a pure function of one signal and the scoring configuration.
package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/types"
)

// Unscored reasons
const (
	ReasonNoHistory      = "no delay history"
	ReasonNoEstimate     = "estimated duration is zero"
	ReasonNoBudget       = "budget allocated is zero"
	ReasonMissingProject = "no score for project"
)

var one = decimal.NewFromInt(1)

// Scorer scores project signals
type Scorer struct {
	cfg Config

	wSchedule   decimal.Decimal
	wBudget     decimal.Decimal
	wDependency decimal.Decimal
	overrun     decimal.Decimal
	ceiling     decimal.Decimal
	half        decimal.Decimal
	threshold   decimal.Decimal
}

// NewScorer creates a scorer after validating its configuration
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{
		cfg:         cfg,
		wSchedule:   decimal.NewFromFloat(cfg.Weights.Schedule),
		wBudget:     decimal.NewFromFloat(cfg.Weights.Budget),
		wDependency: decimal.NewFromFloat(cfg.Weights.Dependency),
		overrun:     one.Add(decimal.NewFromFloat(cfg.OverrunTolerance)),
		ceiling:     decimal.NewFromFloat(cfg.ScheduleCeiling),
		half:        decimal.NewFromFloat(cfg.DependencyHalfSaturation),
		threshold:   decimal.NewFromFloat(cfg.RescoreThreshold),
	}, nil
}

// Config returns the scoring configuration
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes the risk score of one signal.
// Insufficient data yields an unscored sentinel, never a panic.
func (s *Scorer) Score(sig *types.ProjectSignal) types.RiskScore {
	score := types.RiskScore{
		ProjectID: sig.ID,
		ScoredAt:  sig.ObservedAt,
	}

	if reason := unscoredReason(sig); reason != "" {
		score.Unscored = true
		score.UnscoredReason = reason
		return score
	}

	sigma := sigmaOf(sig)
	comps := types.RiskComponents{
		Schedule:   determinism.Round(s.scheduleRisk(sig, sigma)),
		Budget:     determinism.Round(s.budgetRisk(sig)),
		Dependency: determinism.Round(s.dependencyRisk(sig.DependencyDepth)),
	}

	risk := s.wSchedule.Mul(comps.Schedule).
		Add(s.wBudget.Mul(comps.Budget)).
		Add(s.wDependency.Mul(comps.Dependency))
	risk = determinism.Round(determinism.Clamp01(risk))

	expected := determinism.Round(sig.Value.Mul(one.Sub(risk)))
	hw := s.halfWidth(sig, sigma)

	score.Risk = risk
	score.ExpectedReturn = expected
	score.Components = comps
	score.Confidence = types.Interval{
		Low:  expected.Sub(hw),
		High: expected.Add(hw),
	}
	return score
}

// ScoreAll scores every signal, preserving input order
func (s *Scorer) ScoreAll(signals []types.ProjectSignal) []types.RiskScore {
	scores := make([]types.RiskScore, len(signals))
	for i := range signals {
		scores[i] = s.Score(&signals[i])
	}
	return scores
}

// Rescore reuses prev when no scored input of the signal moved by more than
// the rescore threshold. The second result reports whether a new score was computed.
func (s *Scorer) Rescore(prev *types.RiskScore, prevSig, sig *types.ProjectSignal) (types.RiskScore, bool) {
	if prev == nil || prevSig == nil || prev.ProjectID != sig.ID || s.changed(prevSig, sig) {
		return s.Score(sig), true
	}
	return *prev, false
}

// scheduleRisk = clamp(elapsed/estimated * (1 + a*sigma) / ceiling)
func (s *Scorer) scheduleRisk(sig *types.ProjectSignal, sigma decimal.Decimal) decimal.Decimal {
	ratio := sig.ElapsedDays.Div(sig.EstimatedDays)
	amplified := ratio.Mul(one.Add(decimal.NewFromFloat(s.cfg.DelayAmplification).Mul(sigma)))
	return determinism.Clamp01(amplified.Div(s.ceiling))
}

// budgetRisk = clamp((consumed/allocated) / (1 + overrun tolerance))
func (s *Scorer) budgetRisk(sig *types.ProjectSignal) decimal.Decimal {
	burn := sig.BudgetConsumed.Div(sig.BudgetAllocated)
	return determinism.Clamp01(burn.Div(s.overrun))
}

// dependencyRisk = depth / (depth + half saturation), monotone in depth
func (s *Scorer) dependencyRisk(depth int) decimal.Decimal {
	d := decimal.NewFromInt(int64(depth))
	return d.Div(d.Add(s.half))
}

// halfWidth = max(|value|, 1) * max(floor, z * (sigma + base) / sqrt(n))
func (s *Scorer) halfWidth(sig *types.ProjectSignal, sigma decimal.Decimal) decimal.Decimal {
	sigmaF, _ := sigma.Float64()
	spread := s.cfg.ZScore * (sigmaF + s.cfg.BaseUncertainty) / math.Sqrt(float64(sig.HistorySamples))
	rel := math.Max(s.cfg.MinHalfWidth, spread)
	scale := determinism.Max(sig.Value.Abs(), one)
	return determinism.Round(scale.Mul(decimal.NewFromFloat(rel)))
}

func (s *Scorer) changed(prev, cur *types.ProjectSignal) bool {
	if unscoredReason(prev) != unscoredReason(cur) {
		return true
	}
	if prev.HistorySamples != cur.HistorySamples || prev.DependencyDepth != cur.DependencyDepth {
		return true
	}
	if unscoredReason(cur) != "" {
		return false
	}

	scale := determinism.Max(prev.Value.Abs(), one)
	if prev.Value.Sub(cur.Value).Abs().Div(scale).GreaterThan(s.threshold) {
		return true
	}
	deltas := []decimal.Decimal{
		prev.ElapsedDays.Div(prev.EstimatedDays).Sub(cur.ElapsedDays.Div(cur.EstimatedDays)),
		prev.BudgetConsumed.Div(prev.BudgetAllocated).Sub(cur.BudgetConsumed.Div(cur.BudgetAllocated)),
		sigmaOf(prev).Sub(sigmaOf(cur)),
	}
	for _, d := range deltas {
		if d.Abs().GreaterThan(s.threshold) {
			return true
		}
	}
	return false
}

func unscoredReason(sig *types.ProjectSignal) string {
	switch {
	case sig.HistorySamples == 0:
		return ReasonNoHistory
	case sig.EstimatedDays.IsZero():
		return ReasonNoEstimate
	case sig.BudgetAllocated.IsZero():
		return ReasonNoBudget
	}
	return ""
}

// sigmaOf returns the delay standard deviation
func sigmaOf(sig *types.ProjectSignal) decimal.Decimal {
	v, _ := sig.DelayVariance.Float64()
	if v <= 0 {
		return decimal.Zero
	}
	return determinism.FromFloat(math.Sqrt(v))
}
