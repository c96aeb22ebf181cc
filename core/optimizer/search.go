package optimizer

import (
	"context"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
)

// Local search stop reasons
const (
	StopNoImprovingMove = "no_improving_move"
	StopEpsilon         = "epsilon"
	StopMaxIterations   = "max_iterations"
	StopCancelled       = "cancelled"
)

// search refines one component at a fixed budget with best-improvement
// moves. The allocation is feasible after every iteration, so cancellation
// always leaves a valid result.
func (m *model) search(ctx context.Context, members []string, a *allocation, budget decimal.Decimal) (int, string) {
	allowExchange := len(members) <= m.cfg.ExchangeLimit
	eps := decimal.NewFromFloat(m.cfg.Epsilon)

	for iter := 0; ; iter++ {
		if ctx.Err() != nil {
			return iter, StopCancelled
		}
		if iter >= m.cfg.MaxIterations {
			return iter, StopMaxIterations
		}

		best := m.bestMove(a, members, budget, false)
		if best == nil && allowExchange {
			best = m.bestMove(a, members, budget, true)
		}
		if best == nil {
			return iter, StopNoImprovingMove
		}

		scale := determinism.Max(a.objective(members).Abs(), decimal.NewFromInt(1))
		best.commit(a)

		if best.gain().Div(scale).LessThan(eps) {
			return iter + 1, StopEpsilon
		}
	}
}

// bestMove returns the move with the largest positive gain, or nil.
// Fill and shift moves are tried first; exchange moves only when asked.
func (m *model) bestMove(a *allocation, members []string, budget decimal.Decimal, exchange bool) *overlay {
	var best *overlay
	consider := func(o *overlay) {
		if o == nil || !o.gain().IsPositive() || !o.valid() {
			return
		}
		if best == nil || o.gain().GreaterThan(best.gain()) {
			best = o
		}
	}

	var donors, receivers []string
	for _, id := range members {
		p := m.projects[id]
		if a.get(id).IsPositive() {
			donors = append(donors, id)
		}
		if p.fundable() && a.get(id).LessThan(p.demand) {
			receivers = append(receivers, id)
		}
	}

	if !exchange {
		for _, i := range receivers {
			consider(m.fill(a, budget, i))
		}
		for _, j := range donors {
			for _, i := range receivers {
				if i == j || !m.projects[i].density.GreaterThan(m.projects[j].density) {
					continue
				}
				consider(m.shift(a, budget, j, i, false))
				consider(m.shift(a, budget, j, i, true))
			}
		}
		return best
	}

	ranked := m.ranked(receivers)
	for _, j := range donors {
		for x, i1 := range ranked {
			if i1 == j {
				continue
			}
			for _, i2 := range ranked[x+1:] {
				if i2 == j {
					continue
				}
				consider(m.exchange(a, budget, j, i1, i2, false))
				consider(m.exchange(a, budget, j, i1, i2, true))
			}
		}
	}
	return best
}

// fill moves pool slack into a receiver
func (m *model) fill(a *allocation, budget decimal.Decimal, i string) *overlay {
	if !m.projects[i].density.IsPositive() {
		return nil
	}
	o := newOverlay(a, budget)
	if !o.receive(i) {
		return nil
	}
	return o
}

// shift moves units from donor j to receiver i. A partial shift keeps the
// donor funded; a full shift releases the donor entirely.
func (m *model) shift(a *allocation, budget decimal.Decimal, j, i string, full bool) *overlay {
	o := newOverlay(a, budget)
	release, ok := o.release(j, full)
	if !ok {
		return nil
	}
	if full {
		if !o.receive(i) {
			return nil
		}
		return o
	}

	room := determinism.Min(o.room(i), release)
	if !o.grant(i, room) {
		return nil
	}
	o.add(j, release.Sub(room))
	return o
}

// exchange moves units from donor j, plus slack, into receivers i1 and i2
func (m *model) exchange(a *allocation, budget decimal.Decimal, j, i1, i2 string, full bool) *overlay {
	o := newOverlay(a, budget)
	release, ok := o.release(j, full)
	if !ok {
		return nil
	}
	if !o.receive(i1) || !o.receive(i2) {
		return nil
	}
	if !full {
		back := determinism.Min(release, o.room(j))
		if back.IsPositive() {
			o.add(j, back)
		}
	}
	return o
}

// overlay is a tentative change on top of an allocation
type overlay struct {
	base   *allocation
	budget decimal.Decimal
	delta  map[string]decimal.Decimal
	group  map[string]decimal.Decimal
	used   decimal.Decimal
}

func newOverlay(a *allocation, budget decimal.Decimal) *overlay {
	return &overlay{
		base:   a,
		budget: budget,
		delta:  make(map[string]decimal.Decimal),
		group:  make(map[string]decimal.Decimal),
	}
}

func (o *overlay) x(id string) decimal.Decimal {
	return o.base.get(id).Add(o.delta[id])
}

func (o *overlay) add(id string, d decimal.Decimal) {
	if d.IsZero() {
		return
	}
	o.delta[id] = o.delta[id].Add(d)
	for _, tag := range o.base.m.projects[id].groups {
		o.group[tag] = o.group[tag].Add(d)
	}
	o.used = o.used.Add(d)
}

func (o *overlay) active(id string) bool {
	x := o.x(id)
	return x.IsPositive() && x.GreaterThanOrEqual(o.base.m.projects[id].level)
}

// room is the most a project can still absorb under demand, budget and groups
func (o *overlay) room(id string) decimal.Decimal {
	p := o.base.m.projects[id]
	room := determinism.Min(p.demand.Sub(o.x(id)), o.budget.Sub(o.base.used).Sub(o.used))
	for _, tag := range p.groups {
		room = determinism.Min(room, o.base.m.capacity[tag].Sub(o.base.group[tag]).Sub(o.group[tag]))
	}
	return room
}

// release frees units of a donor: down to its level, or all of them when full
func (o *overlay) release(j string, full bool) (decimal.Decimal, bool) {
	x := o.x(j)
	amount := x
	if !full {
		amount = x.Sub(o.base.m.projects[j].level)
	}
	if !amount.IsPositive() {
		return decimal.Zero, false
	}
	o.add(j, amount.Neg())
	return amount, true
}

// receive grants a project as much as its room allows
func (o *overlay) receive(id string) bool {
	return o.grant(id, o.room(id))
}

// grant adds units to a project if the result is a funded allocation
func (o *overlay) grant(id string, units decimal.Decimal) bool {
	if !units.IsPositive() {
		return false
	}
	if !o.active(id) && o.x(id).Add(units).LessThan(o.base.m.projects[id].level) {
		return false
	}
	o.add(id, units)
	return true
}

// gain is the change in risk-adjusted return
func (o *overlay) gain() decimal.Decimal {
	total := decimal.Zero
	for id, d := range o.delta {
		total = total.Add(o.base.m.projects[id].density.Mul(d))
	}
	return total
}

// valid checks every hard constraint touched by the change
func (o *overlay) valid() bool {
	m := o.base.m
	if o.base.used.Add(o.used).GreaterThan(o.budget) {
		return false
	}
	for tag, d := range o.group {
		if o.base.group[tag].Add(d).GreaterThan(m.capacity[tag]) {
			return false
		}
	}

	for id := range o.delta {
		p := m.projects[id]
		x := o.x(id)
		switch {
		case x.IsNegative(), x.GreaterThan(p.demand):
			return false
		case x.IsPositive():
			if !p.fundable() || x.LessThan(p.level) {
				return false
			}
			for _, dep := range p.deps {
				if !o.active(dep) {
					return false
				}
			}
		default:
			if p.mandatory {
				return false
			}
			for _, dep := range p.dependents {
				if o.x(dep).IsPositive() {
					return false
				}
			}
		}
	}
	return true
}

// commit applies the change to its base allocation
func (o *overlay) commit(a *allocation) {
	for _, id := range determinism.SortedKeys(o.delta) {
		a.add(id, o.delta[id])
	}
}
