package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/types"
)

// DensityPrecision is the number of decimal places carried by densities
const DensityPrecision int32 = 12

// Policy decides how unscored projects are valued
type Policy string

const (
	// PolicyMaxRisk values an unscored project at risk 1 and zero return
	PolicyMaxRisk Policy = "max_risk"

	// PolicyExclude never allocates to an unscored project
	PolicyExclude Policy = "exclude"
)

// ParsePolicy parses a policy string
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyMaxRisk, PolicyExclude:
		return p, nil
	}
	return "", fmt.Errorf("unknown unscored policy %q", s)
}

// Valuation is the optimizer's view of a score
type Valuation struct {
	Risk   decimal.Decimal
	Return decimal.Decimal

	// Adjusted is Return / (1 + Risk)
	Adjusted decimal.Decimal

	Unscored bool
	Excluded bool
}

// Valuate applies the unscored policy to a score
func Valuate(score types.RiskScore, policy Policy) Valuation {
	if score.Unscored {
		return Valuation{
			Risk:     one,
			Return:   decimal.Zero,
			Adjusted: decimal.Zero,
			Unscored: true,
			Excluded: policy == PolicyExclude,
		}
	}
	return Valuation{
		Risk:     score.Risk,
		Return:   score.ExpectedReturn,
		Adjusted: score.ExpectedReturn.DivRound(one.Add(score.Risk), DensityPrecision),
	}
}

// Density returns risk-adjusted return per unit of demand, zero for no demand
func (v Valuation) Density(demand decimal.Decimal) decimal.Decimal {
	if !demand.IsPositive() {
		return decimal.Zero
	}
	return v.Adjusted.DivRound(demand, DensityPrecision)
}
