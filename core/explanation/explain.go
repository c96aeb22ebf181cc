// Package explanation - Recommendation rationale
// Exposes WHY each project holds what it holds, not just the numbers.
// Every function here is pure: the same allocation, graph and scores always
// produce the same rationale text.
package explanation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/risk"
	"portfolio-optimizer/core/types"
)

// Input is everything the explainer reads
type Input struct {
	Allocation types.Allocation
	Graph      *graph.ConstraintGraph
	Scores     types.ScoreSet
	Policy     risk.Policy
	Quality    types.QualityBound
}

// view is the per-project data shared by rationale and summary
type view struct {
	id      string
	units   decimal.Decimal
	demand  decimal.Decimal
	value   decimal.Decimal
	val     risk.Valuation
	density decimal.Decimal
	signal  *types.ProjectSignal
}

func (v *view) fundable(g *graph.ConstraintGraph) bool {
	_, blocked := g.Blocked(v.id)
	return !blocked && !v.val.Excluded && v.demand.IsPositive()
}

type explainer struct {
	in    Input
	views map[string]*view
	ids   []string

	// room is the unused capacity of the pool and of each group
	poolRoom  decimal.Decimal
	groupRoom map[string]decimal.Decimal
}

// Explain builds the rationale for every allocation entry and the
// portfolio summary
func Explain(in Input) ([]types.Rationale, types.Summary) {
	e := newExplainer(in)

	rationale := make([]types.Rationale, 0, len(e.ids))
	for _, id := range e.ids {
		rationale = append(rationale, e.rationale(e.views[id]))
	}
	return rationale, e.summary(rationale)
}

func newExplainer(in Input) *explainer {
	e := &explainer{
		in:        in,
		views:     make(map[string]*view),
		groupRoom: make(map[string]decimal.Decimal),
	}

	for _, entry := range in.Allocation.Entries {
		sig, ok := in.Graph.Signal(entry.ProjectID)
		if !ok {
			continue
		}
		score, ok := in.Scores[entry.ProjectID]
		if !ok {
			score = types.RiskScore{ProjectID: entry.ProjectID, Unscored: true, UnscoredReason: risk.ReasonMissingProject}
		}
		val := risk.Valuate(score, in.Policy)
		e.views[entry.ProjectID] = &view{
			id:      entry.ProjectID,
			units:   entry.Units,
			demand:  sig.Demand,
			value:   sig.Value,
			val:     val,
			density: val.Density(sig.Demand),
			signal:  sig,
		}
		e.ids = append(e.ids, entry.ProjectID)
	}

	e.poolRoom = in.Allocation.Pool.Sub(in.Allocation.TotalUnits())
	for _, grp := range in.Graph.Groups() {
		used := decimal.Zero
		for _, id := range grp.Members {
			used = used.Add(in.Allocation.Units(id))
		}
		e.groupRoom[grp.Tag] = grp.Capacity.Sub(used)
	}
	return e
}

// binding finds the constraint that kept a project from more units
func (e *explainer) binding(v *view) (types.BindingConstraint, string) {
	g := e.in.Graph
	if b, blocked := g.Blocked(v.id); blocked {
		detail := b.Detail
		if b.Blocker != "" {
			detail = fmt.Sprintf("%s: %s", b.Blocker, b.Detail)
		}
		if b.Reason == graph.BlockStatus {
			return types.BindingStatusBlock, detail
		}
		return types.BindingDependencyBlock, detail
	}
	if v.val.Excluded {
		return types.BindingUnscoredExcluded, "policy " + string(e.in.Policy)
	}
	if v.units.GreaterThanOrEqual(v.demand) {
		return types.BindingDemandCap, ""
	}
	if !v.val.Adjusted.IsPositive() {
		return types.BindingNonPositiveReturn, ""
	}

	// The tightest of pool and groups binds when it cannot cover the gap
	gap := v.demand.Sub(v.units)
	binding, detail, room := types.BindingNone, "", gap
	if e.poolRoom.LessThan(room) {
		binding, room = types.BindingResourcePool, e.poolRoom
	}
	for _, tag := range g.GroupsOf(v.id) {
		if r := e.groupRoom[tag]; r.LessThan(room) {
			binding, detail, room = types.BindingContentionGroup, tag, r
		}
	}
	if binding != types.BindingNone {
		return binding, detail
	}

	if v.units.IsZero() {
		for _, dep := range g.Dependencies(v.id) {
			if !e.in.Allocation.Units(dep).IsPositive() {
				return types.BindingDependencyBlock, fmt.Sprintf("prerequisite %s is not funded", dep)
			}
		}
	}
	return types.BindingNone, ""
}

// competitors returns the projects sharing the binding resource
func (e *explainer) competitors(v *view, binding types.BindingConstraint, detail string) []*view {
	scope := e.ids
	if binding == types.BindingContentionGroup {
		if grp, ok := e.in.Graph.Group(detail); ok {
			scope = grp.Members
		}
	}
	var out []*view
	for _, id := range scope {
		w, ok := e.views[id]
		if !ok || id == v.id || !w.fundable(e.in.Graph) || !w.density.IsPositive() {
			continue
		}
		out = append(out, w)
	}
	return out
}

// marginalDensity is the density a project must keep (when funded) or reach
// (when not) to hold its position against its competitors
func (e *explainer) marginalDensity(v *view, binding types.BindingConstraint, detail string) (decimal.Decimal, bool) {
	var tau decimal.Decimal
	found := false
	for _, w := range e.competitors(v, binding, detail) {
		switch {
		case v.units.IsPositive() && w.units.LessThan(w.demand):
			if !found || w.density.GreaterThan(tau) {
				tau, found = w.density, true
			}
		case v.units.IsZero() && w.units.IsPositive():
			if !found || w.density.LessThan(tau) {
				tau, found = w.density, true
			}
		}
	}
	return tau, found
}

// sensitivity solves V(1-r)/((1+r)d) = tau for r, giving the risk at which
// the project's density crosses the marginal density
func (e *explainer) sensitivity(v *view, binding types.BindingConstraint, detail string) (margin, perRisk decimal.Decimal, ok bool) {
	switch binding {
	case types.BindingStatusBlock, types.BindingDependencyBlock,
		types.BindingUnscoredExcluded, types.BindingNonPositiveReturn:
		return decimal.Zero, decimal.Zero, false
	}
	if v.val.Unscored || !v.value.IsPositive() || !v.demand.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	tau, found := e.marginalDensity(v, binding, detail)
	if !found {
		return decimal.Zero, decimal.Zero, false
	}

	one := decimal.NewFromInt(1)
	q := tau.Mul(v.demand).DivRound(v.value, risk.DensityPrecision)
	target := one.Sub(q).DivRound(one.Add(q), risk.DensityPrecision)
	if target.IsNegative() || target.GreaterThan(one) {
		return decimal.Zero, decimal.Zero, false
	}

	margin = determinism.Round(target.Sub(v.val.Risk))
	if margin.IsZero() {
		return margin, decimal.Zero, true
	}
	if v.units.IsPositive() {
		perRisk = v.units.Neg().Div(margin.Abs())
	} else {
		perRisk = v.demand.Sub(v.units).Div(margin.Abs())
	}
	return margin, determinism.Round(perRisk), true
}

func (e *explainer) rationale(v *view) types.Rationale {
	binding, detail := e.binding(v)
	margin, perRisk, hasMargin := e.sensitivity(v, binding, detail)

	r := types.Rationale{
		ProjectID:     v.id,
		Units:         v.units,
		Fraction:      e.in.Allocation.Fraction(v.id),
		Demand:        v.demand,
		Density:       v.density,
		Binding:       binding,
		BindingDetail: detail,
		RiskMargin:    margin,
		HasMargin:     hasMargin,
		UnitsPerRisk:  perRisk,
	}
	for _, a := range v.signal.Anomalies {
		r.Anomalies = append(r.Anomalies, a.String())
	}
	r.Text = narrate(&r, v)
	return r
}

func narrate(r *types.Rationale, v *view) string {
	var sb strings.Builder

	pct := r.Fraction.Mul(decimal.NewFromInt(100)).StringFixed(1)
	if r.Units.IsPositive() {
		sb.WriteString(fmt.Sprintf("%s receives %s of %s requested units (%s%% of pool)", r.ProjectID, r.Units, r.Demand, pct))
	} else {
		sb.WriteString(fmt.Sprintf("%s receives nothing of %s requested units", r.ProjectID, r.Demand))
	}

	switch r.Binding {
	case types.BindingStatusBlock:
		sb.WriteString("; the project is blocked")
	case types.BindingDependencyBlock:
		sb.WriteString("; a prerequisite is unmet (" + r.BindingDetail + ")")
	case types.BindingUnscoredExcluded:
		sb.WriteString("; unscored projects are excluded")
	case types.BindingNonPositiveReturn:
		sb.WriteString(fmt.Sprintf("; risk-adjusted return %s is not positive", v.val.Adjusted.StringFixed(2)))
	case types.BindingDemandCap:
		sb.WriteString("; fully funded")
	case types.BindingContentionGroup:
		sb.WriteString("; limited by group " + r.BindingDetail)
	case types.BindingResourcePool:
		sb.WriteString("; limited by the resource pool")
	}
	if v.val.Unscored {
		sb.WriteString("; unscored, valued at maximum risk")
	}

	if r.HasMargin {
		switch {
		case r.Units.IsPositive() && r.RiskMargin.IsPositive():
			sb.WriteString(fmt.Sprintf(". Risk may rise by %s before it loses rank", r.RiskMargin))
		case r.Units.IsZero() && r.RiskMargin.IsNegative():
			sb.WriteString(fmt.Sprintf(". Risk must fall by %s to gain rank", r.RiskMargin.Abs()))
		}
	}
	if len(r.Anomalies) > 0 {
		sb.WriteString(fmt.Sprintf(" (%d input anomalies)", len(r.Anomalies)))
	}
	return sb.String()
}

func (e *explainer) summary(rationale []types.Rationale) types.Summary {
	s := types.Summary{Quality: e.in.Quality}

	expected, adjusted, weightedRisk, allocated := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	binding := make(map[string]bool)

	for _, r := range rationale {
		v := e.views[r.ProjectID]
		if v.val.Unscored {
			s.Unscored = append(s.Unscored, v.id)
		}
		if r.Binding != types.BindingNone && r.Binding != types.BindingDemandCap {
			key := string(r.Binding)
			if r.Binding == types.BindingContentionGroup {
				key += ":" + r.BindingDetail
			}
			binding[key] = true
		}
		if v.fundable(e.in.Graph) && v.val.Adjusted.IsPositive() && v.units.LessThan(v.demand) {
			s.Trimmed = append(s.Trimmed, v.id)
		}
		if !v.units.IsPositive() {
			continue
		}

		allocated = allocated.Add(v.units)
		adjusted = adjusted.Add(v.density.Mul(v.units))
		weightedRisk = weightedRisk.Add(v.val.Risk.Mul(v.units))
		if v.demand.IsPositive() {
			expected = expected.Add(v.val.Return.Mul(v.units).DivRound(v.demand, risk.DensityPrecision))
		}
	}

	s.TotalExpectedReturn = determinism.Round(expected)
	s.RiskAdjustedReturn = determinism.Round(adjusted)
	s.AllocatedUnits = allocated
	s.UnallocatedUnits = e.in.Allocation.Pool.Sub(allocated)
	if allocated.IsPositive() {
		s.AggregateRisk = determinism.Round(weightedRisk.DivRound(allocated, risk.DensityPrecision))
	}
	s.BindingConstraints = determinism.SortedKeys(binding)
	s.Text = summarize(&s, len(rationale))
	return s
}

func summarize(s *types.Summary, projects int) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Allocated %s units across %d projects, %s left unallocated",
		s.AllocatedUnits, projects, s.UnallocatedUnits))
	parts = append(parts, fmt.Sprintf("expected return %s, risk-adjusted %s, aggregate risk %s",
		s.TotalExpectedReturn.StringFixed(2), s.RiskAdjustedReturn.StringFixed(2), s.AggregateRisk.StringFixed(3)))
	if len(s.BindingConstraints) > 0 {
		parts = append(parts, "binding: "+strings.Join(s.BindingConstraints, ", "))
	}
	if len(s.Trimmed) > 0 {
		parts = append(parts, fmt.Sprintf("%d projects trimmed", len(s.Trimmed)))
	}
	if s.Quality.UpperBound.IsPositive() {
		parts = append(parts, fmt.Sprintf("within %s%% of the relaxation bound",
			s.Quality.Gap.Mul(decimal.NewFromInt(100)).StringFixed(2)))
	}
	return strings.Join(parts, "; ")
}
