package optimizer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

// qualityBound solves the fractional knapsack relaxation that ignores
// groups, precedence and funding levels. Its optimum bounds every feasible
// allocation from above.
func (m *model) qualityBound(a *allocation) types.QualityBound {
	var items []string
	for _, id := range m.graph.Nodes() {
		p := m.projects[id]
		if p.fundable() && p.density.IsPositive() {
			items = append(items, id)
		}
	}

	remaining := m.pool
	bound := decimal.Zero
	for _, id := range m.ranked(items) {
		if !remaining.IsPositive() {
			break
		}
		p := m.projects[id]
		take := determinism.Min(p.demand, remaining)
		bound = bound.Add(p.density.Mul(take))
		remaining = remaining.Sub(take)
	}

	q := types.QualityBound{
		Objective:  determinism.Round(a.objective(m.graph.Nodes())),
		UpperBound: determinism.Round(bound),
		Gap:        decimal.Zero,
	}
	if q.UpperBound.IsPositive() {
		q.Gap = determinism.Round(determinism.Clamp01(q.UpperBound.Sub(q.Objective).Div(q.UpperBound)))
	}
	return q
}

// assertFeasible re-checks every hard constraint on the final allocation
func (m *model) assertFeasible(a *allocation, alloc types.Allocation) error {
	fail := func(format string, args ...interface{}) error {
		return errors.Internal("allocation invariant violated", fmt.Errorf(format, args...))
	}

	total := decimal.Zero
	for _, e := range alloc.Entries {
		if e.Units.IsNegative() || e.Fraction.IsNegative() {
			return fail("negative allocation for %s", e.ProjectID)
		}
		total = total.Add(e.Units)
	}
	if total.GreaterThan(m.pool) {
		return fail("allocated %s exceeds pool %s", total, m.pool)
	}
	if alloc.TotalFraction().GreaterThan(decimal.NewFromInt(1)) {
		return fail("fractions sum to %s", alloc.TotalFraction())
	}

	for tag, capacity := range m.capacity {
		if a.group[tag].GreaterThan(capacity) {
			return fail("group %s holds %s over capacity %s", tag, a.group[tag], capacity)
		}
	}

	for _, id := range m.graph.Nodes() {
		p := m.projects[id]
		x := a.get(id)
		switch {
		case p.mandatory && !a.active(id):
			return fail("mandatory project %s is not funded", id)
		case x.IsZero():
			continue
		case p.blocked:
			return fail("blocked project %s holds %s", id, x)
		case x.GreaterThan(p.demand):
			return fail("project %s holds %s over demand %s", id, x, p.demand)
		case x.LessThan(p.level):
			return fail("project %s holds %s under its level %s", id, x, p.level)
		}
		for _, dep := range p.deps {
			if !a.active(dep) {
				return fail("project %s is funded but prerequisite %s is not", id, dep)
			}
		}
	}
	return nil
}
