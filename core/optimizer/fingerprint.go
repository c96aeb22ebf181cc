package optimizer

import (
	"strconv"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/types"
)

// fingerprint hashes everything the greedy schedule of a component depends
// on: member signals and valuations, group capacities and solver settings
func (m *model) fingerprint(c graph.Component) string {
	h := determinism.NewHasher("component/v1")
	h.Int(int64(m.cfg.MaxIterations)).
		Strings(strconv.FormatFloat(m.cfg.Epsilon, 'g', -1, 64)).
		Strings(string(m.cfg.UnscoredPolicy)).
		Strings(strconv.FormatFloat(m.cfg.MandatoryMinFraction, 'g', -1, 64)).
		Int(int64(m.cfg.ExchangeLimit))

	h.Int(int64(len(c.Members)))
	for _, id := range c.Members {
		p := m.projects[id]
		h.Strings(id).
			Decimals(p.demand, p.level, p.value.Return, p.value.Risk).
			Strings(p.density.String()).
			Bool(p.mandatory).
			Bool(p.blocked).
			Bool(p.value.Excluded).
			Bool(p.value.Unscored)
		h.Int(int64(len(p.deps))).Strings(p.deps...)
		h.Int(int64(len(p.groups))).Strings(p.groups...)
	}

	h.Int(int64(len(c.Groups)))
	for _, tag := range c.Groups {
		h.Strings(tag).Decimals(m.capacity[tag])
	}
	return h.Sum()
}

// solveKey hashes the inputs of a component's local search
func solveKey(fingerprint string, budget decimal.Decimal, start []types.Grant) string {
	h := determinism.NewHasher("solve/v1")
	h.Strings(fingerprint).Decimals(budget).Int(int64(len(start)))
	for _, g := range start {
		h.Strings(g.ProjectID).Decimals(g.Units)
	}
	return h.Sum()
}
