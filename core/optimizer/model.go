package optimizer

import (
	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/risk"
	"portfolio-optimizer/core/types"
)

// unit is the smallest representable allocation
var unit = decimal.New(1, -determinism.Precision)

// project is the solver's view of one graph node
type project struct {
	id        string
	demand    decimal.Decimal
	mandatory bool

	// level is the smallest allocation that counts as funded.
	// Allocations are either zero or within [level, demand].
	level decimal.Decimal

	value   risk.Valuation
	density decimal.Decimal

	blocked    bool
	groups     []string
	deps       []string
	dependents []string
	ancestors  []string
}

// fundable reports whether the project may hold any units
func (p *project) fundable() bool {
	return !p.blocked && !p.value.Excluded && p.demand.IsPositive()
}

// candidate reports whether the project may drive a greedy step
func (p *project) candidate() bool {
	return p.fundable() && p.value.Adjusted.IsPositive()
}

// model holds the per-run constants shared by every phase
type model struct {
	cfg      Config
	graph    *graph.ConstraintGraph
	pool     decimal.Decimal
	projects map[string]*project
	capacity map[string]decimal.Decimal
}

func newModel(cfg Config, g *graph.ConstraintGraph, scores types.ScoreSet) *model {
	m := &model{
		cfg:      cfg,
		graph:    g,
		pool:     g.Pool(),
		projects: make(map[string]*project),
		capacity: make(map[string]decimal.Decimal),
	}
	minFrac := decimal.NewFromFloat(cfg.MandatoryMinFraction)

	for _, id := range g.Nodes() {
		sig, _ := g.Signal(id)
		score, ok := scores[id]
		if !ok {
			score = types.RiskScore{ProjectID: id, Unscored: true, UnscoredReason: risk.ReasonMissingProject}
		}
		val := risk.Valuate(score, cfg.UnscoredPolicy)
		_, blocked := g.Blocked(id)

		level := determinism.Max(sig.MinAllocation, determinism.Floor(sig.Demand.Mul(minFrac)))
		if level.IsZero() {
			level = unit
		}
		level = determinism.Min(level, sig.Demand)

		m.projects[id] = &project{
			id:         id,
			demand:     sig.Demand,
			mandatory:  sig.Mandatory,
			level:      level,
			value:      val,
			density:    val.Density(sig.Demand),
			blocked:    blocked,
			groups:     g.GroupsOf(id),
			deps:       g.Dependencies(id),
			dependents: g.Dependents(id),
			ancestors:  g.Ancestors(id),
		}
	}
	for _, grp := range g.Groups() {
		m.capacity[grp.Tag] = grp.Capacity
	}
	return m
}

// before is the deterministic ranking: density desc, expected return desc,
// risk asc, then ID asc
func (m *model) before(a, b string) bool {
	pa, pb := m.projects[a], m.projects[b]
	if c := pa.density.Cmp(pb.density); c != 0 {
		return c > 0
	}
	if c := pa.value.Return.Cmp(pb.value.Return); c != 0 {
		return c > 0
	}
	if c := pa.value.Risk.Cmp(pb.value.Risk); c != 0 {
		return c < 0
	}
	return a < b
}

// ranked returns ids ordered by the ranking
func (m *model) ranked(ids []string) []string {
	out := append([]string(nil), ids...)
	determinism.SortSlice(out, m.before)
	return out
}

// allocation is a mutable assignment of units to projects
type allocation struct {
	m     *model
	units map[string]decimal.Decimal
	group map[string]decimal.Decimal
	used  decimal.Decimal
}

func newAllocation(m *model) *allocation {
	return &allocation{
		m:     m,
		units: make(map[string]decimal.Decimal),
		group: make(map[string]decimal.Decimal),
	}
}

func (a *allocation) clone() *allocation {
	c := newAllocation(a.m)
	for k, v := range a.units {
		c.units[k] = v
	}
	for k, v := range a.group {
		c.group[k] = v
	}
	c.used = a.used
	return c
}

func (a *allocation) get(id string) decimal.Decimal {
	return a.units[id]
}

// add changes a project's units and keeps group and pool totals in step
func (a *allocation) add(id string, delta decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	a.units[id] = a.units[id].Add(delta)
	if a.units[id].IsZero() {
		delete(a.units, id)
	}
	for _, tag := range a.m.projects[id].groups {
		a.group[tag] = a.group[tag].Add(delta)
	}
	a.used = a.used.Add(delta)
}

// active reports whether a project holds at least its funding level
func (a *allocation) active(id string) bool {
	x := a.get(id)
	return x.IsPositive() && x.GreaterThanOrEqual(a.m.projects[id].level)
}

// groupRoom returns the smallest remaining capacity across a project's groups.
// ok is false when the project belongs to no group.
func (a *allocation) groupRoom(id string) (room decimal.Decimal, ok bool) {
	for _, tag := range a.m.projects[id].groups {
		r := a.m.capacity[tag].Sub(a.group[tag])
		if !ok || r.LessThan(room) {
			room, ok = r, true
		}
	}
	return room, ok
}

// grants returns the non-zero units of the given projects in order
func (a *allocation) grants(ids []string) []types.Grant {
	var out []types.Grant
	for _, id := range ids {
		if x := a.get(id); x.IsPositive() {
			out = append(out, types.Grant{ProjectID: id, Units: x})
		}
	}
	return out
}

// objective is the risk-adjusted return realised by the allocation
func (a *allocation) objective(ids []string) decimal.Decimal {
	total := decimal.Zero
	for _, id := range ids {
		total = total.Add(a.m.projects[id].density.Mul(a.get(id)))
	}
	return total
}
