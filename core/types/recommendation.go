// Package types - Allocation and recommendation types
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllocationEntry is the share of the pool granted to one project
type AllocationEntry struct {
	ProjectID string          `json:"project_id" msgpack:"project_id"`
	Units     decimal.Decimal `json:"units" msgpack:"units"`
	Fraction  decimal.Decimal `json:"fraction" msgpack:"fraction"`
}

// Allocation maps projects to resource shares.
// Entries are sorted by project ID.
type Allocation struct {
	Pool    decimal.Decimal   `json:"pool" msgpack:"pool"`
	Entries []AllocationEntry `json:"entries" msgpack:"entries"`
}

// Get returns the entry for a project
func (a *Allocation) Get(projectID string) (AllocationEntry, bool) {
	for _, e := range a.Entries {
		if e.ProjectID == projectID {
			return e, true
		}
	}
	return AllocationEntry{}, false
}

// Units returns the units allocated to a project (zero when absent)
func (a *Allocation) Units(projectID string) decimal.Decimal {
	if e, ok := a.Get(projectID); ok {
		return e.Units
	}
	return decimal.Zero
}

// Fraction returns the pool fraction allocated to a project (zero when absent)
func (a *Allocation) Fraction(projectID string) decimal.Decimal {
	if e, ok := a.Get(projectID); ok {
		return e.Fraction
	}
	return decimal.Zero
}

// TotalUnits sums allocated units
func (a *Allocation) TotalUnits() decimal.Decimal {
	total := decimal.Zero
	for _, e := range a.Entries {
		total = total.Add(e.Units)
	}
	return total
}

// TotalFraction sums allocated fractions
func (a *Allocation) TotalFraction() decimal.Decimal {
	total := decimal.Zero
	for _, e := range a.Entries {
		total = total.Add(e.Fraction)
	}
	return total
}

// BindingConstraint names the limit that capped a project's allocation
type BindingConstraint string

const (
	BindingResourcePool      BindingConstraint = "resource_pool"
	BindingContentionGroup   BindingConstraint = "contention_group"
	BindingDependencyBlock   BindingConstraint = "dependency_block"
	BindingStatusBlock       BindingConstraint = "status_block"
	BindingDemandCap         BindingConstraint = "demand_cap"
	BindingNonPositiveReturn BindingConstraint = "non_positive_return"
	BindingUnscoredExcluded  BindingConstraint = "unscored_excluded"
	BindingNone              BindingConstraint = "none"
)

// Rationale explains one allocation entry
type Rationale struct {
	ProjectID string          `json:"project_id" msgpack:"project_id"`
	Units     decimal.Decimal `json:"units" msgpack:"units"`
	Fraction  decimal.Decimal `json:"fraction" msgpack:"fraction"`
	Demand    decimal.Decimal `json:"demand" msgpack:"demand"`

	// Density is risk-adjusted return per unit of demand
	Density decimal.Decimal `json:"density" msgpack:"density"`

	Binding       BindingConstraint `json:"binding" msgpack:"binding"`
	BindingDetail string            `json:"binding_detail,omitempty" msgpack:"binding_detail,omitempty"`

	// RiskMargin is the risk change that would move the project across the
	// marginal density of its binding constraint. Zero with HasMargin false
	// when no such crossing exists.
	RiskMargin decimal.Decimal `json:"risk_margin" msgpack:"risk_margin"`
	HasMargin  bool            `json:"has_margin" msgpack:"has_margin"`

	// UnitsPerRisk is the linearized allocation change per unit of risk
	UnitsPerRisk decimal.Decimal `json:"units_per_risk" msgpack:"units_per_risk"`

	Text      string   `json:"text" msgpack:"text"`
	Anomalies []string `json:"anomalies,omitempty" msgpack:"anomalies,omitempty"`
}

// QualityBound compares the achieved objective with a relaxation bound
type QualityBound struct {
	Objective  decimal.Decimal `json:"objective" msgpack:"objective"`
	UpperBound decimal.Decimal `json:"upper_bound" msgpack:"upper_bound"`

	// Gap is (UpperBound - Objective) / UpperBound, zero when the bound is zero
	Gap decimal.Decimal `json:"gap" msgpack:"gap"`
}

// Summary is the portfolio-level view of a recommendation
type Summary struct {
	TotalExpectedReturn decimal.Decimal `json:"total_expected_return" msgpack:"total_expected_return"`
	RiskAdjustedReturn  decimal.Decimal `json:"risk_adjusted_return" msgpack:"risk_adjusted_return"`

	// AggregateRisk is the allocation-weighted mean risk
	AggregateRisk decimal.Decimal `json:"aggregate_risk" msgpack:"aggregate_risk"`

	AllocatedUnits   decimal.Decimal `json:"allocated_units" msgpack:"allocated_units"`
	UnallocatedUnits decimal.Decimal `json:"unallocated_units" msgpack:"unallocated_units"`

	BindingConstraints []string `json:"binding_constraints" msgpack:"binding_constraints"`
	Trimmed            []string `json:"trimmed,omitempty" msgpack:"trimmed,omitempty"`
	Unscored           []string `json:"unscored,omitempty" msgpack:"unscored,omitempty"`

	Quality QualityBound `json:"quality" msgpack:"quality"`
	Text    string       `json:"text" msgpack:"text"`
}

// Grant is a portion of a solver step assigned to one project
type Grant struct {
	ProjectID string          `json:"project_id" msgpack:"project_id"`
	Units     decimal.Decimal `json:"units" msgpack:"units"`
}

// Step is one greedy funding decision of a component.
// Reserve steps fund mandatory minimums and come before all others.
type Step struct {
	Driver  string          `json:"driver" msgpack:"driver"`
	Reserve bool            `json:"reserve,omitempty" msgpack:"reserve,omitempty"`
	Density decimal.Decimal `json:"density" msgpack:"density"`
	Return  decimal.Decimal `json:"return" msgpack:"return"`
	Risk    decimal.Decimal `json:"risk" msgpack:"risk"`
	Grants  []Grant         `json:"grants" msgpack:"grants"`
}

// Units sums the step's grants
func (s Step) Units() decimal.Decimal {
	total := decimal.Zero
	for _, g := range s.Grants {
		total = total.Add(g.Units)
	}
	return total
}

// ComponentRecord is the solver state of one independent component.
// It is carried on recommendations so a later run can reuse it.
type ComponentRecord struct {
	ID          string          `json:"id" msgpack:"id"`
	Members     []string        `json:"members" msgpack:"members"`
	Fingerprint string          `json:"fingerprint" msgpack:"fingerprint"`
	Steps       []Step          `json:"steps" msgpack:"steps"`
	Budget      decimal.Decimal `json:"budget" msgpack:"budget"`

	// SolveKey hashes the fingerprint, budget and starting grants.
	// Allocations are reusable only when it matches.
	SolveKey    string  `json:"solve_key" msgpack:"solve_key"`
	Allocations []Grant `json:"allocations" msgpack:"allocations"`
	Iterations  int     `json:"iterations" msgpack:"iterations"`
	StopReason  string  `json:"stop_reason" msgpack:"stop_reason"`
}

// RunStatus describes how a solve finished
type RunStatus string

const (
	// RunSolved means local search ran to a stop condition
	RunSolved RunStatus = "solved"

	// RunPartial means the solve was cancelled and holds the best feasible result so far
	RunPartial RunStatus = "partial"
)

// Recommendation is an explained allocation.
// The body is a pure function of the solver inputs; Version and RecordedAt
// are stamped when the record is appended to the history log.
type Recommendation struct {
	ID          string    `json:"id" msgpack:"id"`
	PortfolioID string    `json:"portfolio_id" msgpack:"portfolio_id"`
	Version     int64     `json:"version" msgpack:"version"`
	RecordedAt  time.Time `json:"recorded_at" msgpack:"recorded_at"`

	// Digest is a content hash over the deterministic body
	Digest string `json:"digest" msgpack:"digest"`

	Status     RunStatus         `json:"status" msgpack:"status"`
	Allocation Allocation        `json:"allocation" msgpack:"allocation"`
	Rationale  []Rationale       `json:"rationale" msgpack:"rationale"`
	Summary    Summary           `json:"summary" msgpack:"summary"`
	Components []ComponentRecord `json:"components" msgpack:"components"`
	Anomalies  []Anomaly         `json:"anomalies,omitempty" msgpack:"anomalies,omitempty"`
}

// Clone returns a deep copy so callers can never mutate a stored record
func (r *Recommendation) Clone() *Recommendation {
	if r == nil {
		return nil
	}
	out := *r
	out.Allocation.Entries = append([]AllocationEntry(nil), r.Allocation.Entries...)
	out.Rationale = make([]Rationale, len(r.Rationale))
	for i, rt := range r.Rationale {
		rt.Anomalies = append([]string(nil), rt.Anomalies...)
		out.Rationale[i] = rt
	}
	out.Summary.BindingConstraints = append([]string(nil), r.Summary.BindingConstraints...)
	out.Summary.Trimmed = append([]string(nil), r.Summary.Trimmed...)
	out.Summary.Unscored = append([]string(nil), r.Summary.Unscored...)
	out.Components = make([]ComponentRecord, len(r.Components))
	for i, c := range r.Components {
		c.Members = append([]string(nil), c.Members...)
		c.Allocations = append([]Grant(nil), c.Allocations...)
		steps := make([]Step, len(c.Steps))
		for j, s := range c.Steps {
			s.Grants = append([]Grant(nil), s.Grants...)
			steps[j] = s
		}
		c.Steps = steps
		out.Components[i] = c
	}
	out.Anomalies = append([]Anomaly(nil), r.Anomalies...)
	return &out
}

// Component returns the record for a component ID
func (r *Recommendation) Component(id string) (*ComponentRecord, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Components {
		if r.Components[i].ID == id {
			return &r.Components[i], true
		}
	}
	return nil, false
}
