package optimizer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

// componentSteps builds the greedy funding schedule of one component as if
// the pool were unlimited. Reserve steps for mandatory projects come first;
// every other step funds one candidate together with the seeds of its
// unfunded prerequisites. Only group capacities and demand bound a step.
func (m *model) componentSteps(c graph.Component) ([]types.Step, error) {
	a := newAllocation(m)
	var steps []types.Step

	for _, id := range c.Members {
		p := m.projects[id]
		if !p.mandatory {
			continue
		}
		if err := m.checkMandatory(p); err != nil {
			return nil, err
		}

		grants := m.seeds(a, p)
		if !a.active(id) {
			grants = append(grants, types.Grant{ProjectID: id, Units: p.level})
		}
		if tag, over := m.overflow(a, grants); over {
			return nil, errors.Infeasible(id, "contention_group:"+tag,
				fmt.Sprintf("group %s capacity %s cannot hold the reservation", tag, m.capacity[tag]))
		}
		if len(grants) == 0 {
			continue
		}
		apply(a, grants)
		steps = append(steps, m.step(p, true, grants))
	}

	for _, id := range m.ranked(c.Members) {
		p := m.projects[id]
		if !p.candidate() || !m.prerequisitesFundable(p) {
			continue
		}

		seeds := m.seeds(a, p)
		if _, over := m.overflow(a, seeds); over {
			continue
		}
		trial := a.clone()
		apply(trial, seeds)

		room := p.demand.Sub(trial.get(id))
		if gr, ok := trial.groupRoom(id); ok {
			room = determinism.Min(room, gr)
		}
		if !room.IsPositive() {
			continue
		}
		if !trial.active(id) && room.LessThan(p.level) {
			continue
		}

		grants := append(seeds, types.Grant{ProjectID: id, Units: room})
		trial.add(id, room)
		a = trial
		steps = append(steps, m.step(p, false, grants))
	}

	return steps, nil
}

// checkMandatory rejects mandatory projects that can never hold units
func (m *model) checkMandatory(p *project) error {
	if b, blocked := m.graph.Blocked(p.id); blocked {
		detail := b.Detail
		if b.Blocker != "" {
			detail = fmt.Sprintf("%s: %s", b.Blocker, b.Detail)
		}
		return errors.Infeasible(p.id, string(b.Reason), detail)
	}
	if p.value.Excluded {
		return errors.Infeasible(p.id, string(types.BindingUnscoredExcluded), "unscored projects are excluded by policy")
	}
	if !p.demand.IsPositive() {
		return errors.Infeasible(p.id, string(types.BindingDemandCap), "demand is zero")
	}
	for _, anc := range p.ancestors {
		if !m.projects[anc].fundable() {
			return errors.Infeasible(p.id, string(types.BindingDependencyBlock),
				fmt.Sprintf("prerequisite %s cannot be funded", anc))
		}
	}
	return nil
}

func (m *model) prerequisitesFundable(p *project) bool {
	for _, anc := range p.ancestors {
		if !m.projects[anc].fundable() {
			return false
		}
	}
	return true
}

// seeds returns the grants that bring every unfunded prerequisite of p to
// its funding level, in topological order
func (m *model) seeds(a *allocation, p *project) []types.Grant {
	var grants []types.Grant
	for _, anc := range p.ancestors {
		if !a.active(anc) {
			grants = append(grants, types.Grant{ProjectID: anc, Units: m.projects[anc].level.Sub(a.get(anc))})
		}
	}
	return grants
}

// overflow reports the first group, by tag, that grants would push over capacity
func (m *model) overflow(a *allocation, grants []types.Grant) (string, bool) {
	need := make(map[string]decimal.Decimal)
	for _, g := range grants {
		for _, tag := range m.projects[g.ProjectID].groups {
			need[tag] = need[tag].Add(g.Units)
		}
	}
	for _, tag := range determinism.SortedKeys(need) {
		if a.group[tag].Add(need[tag]).GreaterThan(m.capacity[tag]) {
			return tag, true
		}
	}
	return "", false
}

func (m *model) step(p *project, reserve bool, grants []types.Grant) types.Step {
	return types.Step{
		Driver:  p.id,
		Reserve: reserve,
		Density: p.density,
		Return:  p.value.Return,
		Risk:    p.value.Risk,
		Grants:  grants,
	}
}

func apply(a *allocation, grants []types.Grant) {
	for _, g := range grants {
		a.add(g.ProjectID, g.Units)
	}
}
