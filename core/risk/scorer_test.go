package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-optimizer/core/risk"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseSignal() types.ProjectSignal {
	return types.ProjectSignal{
		ID:              "p",
		Status:          types.StatusActive,
		Value:           d("1000"),
		BudgetAllocated: d("200"),
		BudgetConsumed:  d("110"),
		ElapsedDays:     d("45"),
		EstimatedDays:   d("90"),
		DelayVariance:   d("0.04"),
		HistorySamples:  4,
		DependencyDepth: 2,
		Demand:          d("100"),
		ObservedAt:      time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func newScorer(t *testing.T) *risk.Scorer {
	t.Helper()
	s, err := risk.NewScorer(risk.DefaultConfig())
	require.NoError(t, err)
	return s
}

func TestScoreComponents(t *testing.T) {
	sig := baseSignal()
	score := newScorer(t).Score(&sig)

	require.False(t, score.Unscored)
	assert.Equal(t, "0.3", score.Components.Schedule.String())
	assert.Equal(t, "0.5", score.Components.Budget.String())
	assert.Equal(t, "0.5", score.Components.Dependency.String())
	assert.Equal(t, "0.41", score.Risk.String())
	assert.Equal(t, "590", score.ExpectedReturn.String())
	assert.Equal(t, "296", score.Confidence.Low.String())
	assert.Equal(t, "884", score.Confidence.High.String())
	assert.True(t, score.Confidence.Contains(score.ExpectedReturn))
	assert.Equal(t, sig.ObservedAt, score.ScoredAt)
}

func TestScoreIsDeterministic(t *testing.T) {
	s := newScorer(t)
	sig := baseSignal()
	assert.Equal(t, s.Score(&sig), s.Score(&sig))
}

func TestScoreUnscoredSentinel(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.ProjectSignal)
		reason string
	}{
		{"no history", func(s *types.ProjectSignal) { s.HistorySamples = 0 }, risk.ReasonNoHistory},
		{"no estimate", func(s *types.ProjectSignal) { s.EstimatedDays = decimal.Zero }, risk.ReasonNoEstimate},
		{"no budget", func(s *types.ProjectSignal) { s.BudgetAllocated = decimal.Zero }, risk.ReasonNoBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := baseSignal()
			tt.mutate(&sig)
			score := newScorer(t).Score(&sig)
			assert.True(t, score.Unscored)
			assert.Equal(t, tt.reason, score.UnscoredReason)
		})
	}
}

func TestDependencyRiskIsMonotone(t *testing.T) {
	s := newScorer(t)
	prev := decimal.NewFromInt(-1)
	for depth := 0; depth < 8; depth++ {
		sig := baseSignal()
		sig.DependencyDepth = depth
		score := s.Score(&sig)
		assert.True(t, score.Components.Dependency.GreaterThan(prev), "depth %d", depth)
		prev = score.Components.Dependency
	}
}

func TestIntervalWidensWithFewerSamples(t *testing.T) {
	s := newScorer(t)

	few := baseSignal()
	few.HistorySamples = 2
	many := baseSignal()
	many.HistorySamples = 50

	wFew := s.Score(&few).Confidence.Width()
	wMany := s.Score(&many).Confidence.Width()
	assert.True(t, wFew.GreaterThan(wMany), "%s <= %s", wFew, wMany)
}

func TestIntervalHasMinimumWidth(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.BaseUncertainty = 0
	s, err := risk.NewScorer(cfg)
	require.NoError(t, err)

	sig := baseSignal()
	sig.DelayVariance = decimal.Zero
	sig.HistorySamples = 10000

	score := s.Score(&sig)
	// 2% of the declared value on each side
	assert.Equal(t, "40", score.Confidence.Width().String())
}

func TestIntervalNeverCollapses(t *testing.T) {
	cfg := risk.DefaultConfig()
	cfg.BaseUncertainty = 0
	cfg.MinHalfWidth = 0
	_, err := risk.NewScorer(cfg)
	assert.True(t, errors.IsType(err, errors.TypeConfig))

	cfg.MinHalfWidth = risk.MinIntervalHalfWidth
	s, err := risk.NewScorer(cfg)
	require.NoError(t, err)

	sig := baseSignal()
	sig.Value = d("0.5")
	sig.DelayVariance = decimal.Zero
	sig.HistorySamples = 10000

	score := s.Score(&sig)
	assert.True(t, score.Confidence.Low.LessThan(score.ExpectedReturn))
	assert.True(t, score.ExpectedReturn.LessThan(score.Confidence.High))
}

func TestNegativeValueKeepsIntervalOrdered(t *testing.T) {
	sig := baseSignal()
	sig.Value = d("-500")
	score := newScorer(t).Score(&sig)

	assert.True(t, score.ExpectedReturn.IsNegative())
	assert.True(t, score.Confidence.Low.LessThanOrEqual(score.ExpectedReturn))
	assert.True(t, score.ExpectedReturn.LessThanOrEqual(score.Confidence.High))
}

func TestRescoreReusesBelowThreshold(t *testing.T) {
	s := newScorer(t)
	prevSig := baseSignal()
	prev := s.Score(&prevSig)

	small := baseSignal()
	small.ElapsedDays = d("45.1")
	small.ObservedAt = prevSig.ObservedAt.Add(time.Hour)
	got, recomputed := s.Rescore(&prev, &prevSig, &small)
	assert.False(t, recomputed)
	assert.Equal(t, prev, got)

	large := baseSignal()
	large.ElapsedDays = d("60")
	got, recomputed = s.Rescore(&prev, &prevSig, &large)
	assert.True(t, recomputed)
	assert.True(t, got.Risk.GreaterThan(prev.Risk))

	deeper := baseSignal()
	deeper.DependencyDepth = 3
	_, recomputed = s.Rescore(&prev, &prevSig, &deeper)
	assert.True(t, recomputed)

	_, recomputed = s.Rescore(nil, nil, &prevSig)
	assert.True(t, recomputed)
}

func TestWeightsValidation(t *testing.T) {
	assert.NoError(t, risk.DefaultWeights().Validate())

	err := risk.Weights{Schedule: 0.5, Budget: 0.5, Dependency: 0.1}.Validate()
	assert.True(t, errors.IsType(err, errors.TypeConfig))

	err = risk.Weights{Schedule: 1.2, Budget: -0.2, Dependency: 0}.Validate()
	assert.ErrorContains(t, err, "negative budget weight")

	cfg := risk.DefaultConfig()
	cfg.ScheduleCeiling = 0
	_, err = risk.NewScorer(cfg)
	assert.Error(t, err)
}

func TestValuate(t *testing.T) {
	score := types.RiskScore{ProjectID: "p", Risk: d("0.2"), ExpectedReturn: d("400")}
	v := risk.Valuate(score, risk.PolicyMaxRisk)
	assert.True(t, v.Adjusted.Sub(d("333.333333333333")).Abs().LessThan(d("0.000000001")))
	assert.True(t, v.Density(d("0")).IsZero())

	unscored := types.RiskScore{ProjectID: "q", Unscored: true}
	assert.False(t, risk.Valuate(unscored, risk.PolicyMaxRisk).Excluded)
	assert.True(t, risk.Valuate(unscored, risk.PolicyExclude).Excluded)
	assert.True(t, risk.Valuate(unscored, risk.PolicyMaxRisk).Adjusted.IsZero())

	_, err := risk.ParsePolicy("optimistic")
	assert.Error(t, err)
}
