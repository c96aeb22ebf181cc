package optimizer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

// stepRef points at one step of one component run
type stepRef struct {
	run  int
	step int
}

// merge replays the component schedules against the pool.
// Reserve steps go first in component order; the remaining steps follow the
// global ranking. The first step that does not fit is granted partially and
// ends the merge.
func (m *model) merge(runs []*componentRun) (*allocation, error) {
	var reserve, regular []stepRef
	for r, run := range runs {
		for s, st := range run.steps {
			if st.Reserve {
				reserve = append(reserve, stepRef{r, s})
			} else {
				regular = append(regular, stepRef{r, s})
			}
		}
	}

	stepAt := func(ref stepRef) *types.Step { return &runs[ref.run].steps[ref.step] }
	determinism.SortSlice(regular, func(x, y stepRef) bool {
		return stepBefore(stepAt(x), stepAt(y))
	})

	a := newAllocation(m)
	for _, ref := range reserve {
		st := stepAt(ref)
		remaining := m.pool.Sub(a.used)
		if units := st.Units(); units.GreaterThan(remaining) {
			return nil, errors.Infeasible(st.Driver, string(types.BindingResourcePool),
				fmt.Sprintf("reservation of %s exceeds remaining pool %s", units, remaining))
		}
		apply(a, st.Grants)
	}

	for _, ref := range regular {
		st := stepAt(ref)
		remaining := m.pool.Sub(a.used)
		if st.Units().LessThanOrEqual(remaining) {
			apply(a, st.Grants)
			continue
		}
		m.grantPartial(a, st, remaining)
		break
	}

	return a, nil
}

// grantPartial funds the seeds of a step in full and gives the driver what
// is left, provided the driver ends at or above its funding level
func (m *model) grantPartial(a *allocation, st *types.Step, remaining decimal.Decimal) {
	var seeds []types.Grant
	seedUnits := decimal.Zero
	for _, g := range st.Grants {
		if g.ProjectID != st.Driver {
			seeds = append(seeds, g)
			seedUnits = seedUnits.Add(g.Units)
		}
	}
	if seedUnits.GreaterThan(remaining) {
		return
	}

	driverUnits := remaining.Sub(seedUnits)
	if !driverUnits.IsPositive() {
		return
	}
	p := m.projects[st.Driver]
	if a.get(st.Driver).Add(driverUnits).LessThan(p.level) {
		return
	}

	apply(a, seeds)
	a.add(st.Driver, driverUnits)
}

// stepBefore orders steps by their driver's ranking key
func stepBefore(a, b *types.Step) bool {
	if c := a.Density.Cmp(b.Density); c != 0 {
		return c > 0
	}
	if c := a.Return.Cmp(b.Return); c != 0 {
		return c > 0
	}
	if c := a.Risk.Cmp(b.Risk); c != 0 {
		return c < 0
	}
	return a.Driver < b.Driver
}
