// Package explanation - Diff narratives
// Explains what changed between two recommendations of one portfolio
package explanation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/types"
)

// Change types of a project between two recommendations
const (
	ChangeFunded    = "funded"
	ChangeDefunded  = "defunded"
	ChangeIncreased = "increased"
	ChangeDecreased = "decreased"
	ChangeUnchanged = "unchanged"
)

// DiffNarrative explains the allocation change of one project
type DiffNarrative struct {
	ProjectID  string          `json:"project_id"`
	OldUnits   decimal.Decimal `json:"old_units"`
	NewUnits   decimal.Decimal `json:"new_units"`
	Delta      decimal.Decimal `json:"delta"`
	ChangeType string          `json:"change_type"`
	Changes    []ChangeItem    `json:"changes,omitempty"`
	Narrative  string          `json:"narrative"`
}

// ChangeItem represents a single attribute change
type ChangeItem struct {
	Attribute string `json:"attribute"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
}

// VersionDiff compares two recommendations of the same portfolio
type VersionDiff struct {
	PortfolioID string `json:"portfolio_id"`
	FromVersion int64  `json:"from_version"`
	ToVersion   int64  `json:"to_version"`

	// ObjectiveDelta is the change in risk-adjusted return
	ObjectiveDelta decimal.Decimal `json:"objective_delta"`
	RiskDelta      decimal.Decimal `json:"risk_delta"`

	Projects []DiffNarrative `json:"projects"`
	Text     string          `json:"text"`
}

// NewDiffNarrative creates a diff narrative
func NewDiffNarrative(projectID string, oldUnits, newUnits decimal.Decimal) *DiffNarrative {
	changeType := ChangeUnchanged
	switch {
	case oldUnits.Equal(newUnits):
	case oldUnits.IsZero():
		changeType = ChangeFunded
	case newUnits.IsZero():
		changeType = ChangeDefunded
	case newUnits.GreaterThan(oldUnits):
		changeType = ChangeIncreased
	default:
		changeType = ChangeDecreased
	}

	return &DiffNarrative{
		ProjectID:  projectID,
		OldUnits:   oldUnits,
		NewUnits:   newUnits,
		Delta:      newUnits.Sub(oldUnits),
		ChangeType: changeType,
	}
}

// AddChange adds an attribute change; equal values are ignored
func (d *DiffNarrative) AddChange(attr, oldVal, newVal string) *DiffNarrative {
	if oldVal == newVal {
		return d
	}
	d.Changes = append(d.Changes, ChangeItem{
		Attribute: attr,
		OldValue:  oldVal,
		NewValue:  newVal,
	})
	return d
}

// Build generates the narrative text
func (d *DiffNarrative) Build() *DiffNarrative {
	var parts []string

	switch d.ChangeType {
	case ChangeFunded:
		parts = append(parts, fmt.Sprintf("%s is now funded with %s units", d.ProjectID, d.NewUnits))
	case ChangeDefunded:
		parts = append(parts, fmt.Sprintf("%s lost its %s units", d.ProjectID, d.OldUnits))
	case ChangeIncreased:
		parts = append(parts, fmt.Sprintf("%s rose by %s units (from %s to %s)", d.ProjectID, d.Delta, d.OldUnits, d.NewUnits))
	case ChangeDecreased:
		parts = append(parts, fmt.Sprintf("%s fell by %s units (from %s to %s)", d.ProjectID, d.Delta.Neg(), d.OldUnits, d.NewUnits))
	default:
		parts = append(parts, fmt.Sprintf("%s unchanged at %s units", d.ProjectID, d.NewUnits))
	}

	if len(d.Changes) > 0 {
		parts = append(parts, "because:")
		for _, change := range d.Changes {
			switch {
			case change.OldValue == "":
				parts = append(parts, fmt.Sprintf("  • %s set to %s", change.Attribute, change.NewValue))
			case change.NewValue == "":
				parts = append(parts, fmt.Sprintf("  • %s removed (was %s)", change.Attribute, change.OldValue))
			default:
				parts = append(parts, fmt.Sprintf("  • %s changed: %s → %s", change.Attribute, change.OldValue, change.NewValue))
			}
		}
	}

	d.Narrative = strings.Join(parts, "\n")
	return d
}

// Diff compares two recommendations project by project. Projects present
// in only one of them count as zero allocation in the other.
func Diff(from, to *types.Recommendation) VersionDiff {
	out := VersionDiff{
		PortfolioID:    to.PortfolioID,
		FromVersion:    from.Version,
		ToVersion:      to.Version,
		ObjectiveDelta: to.Summary.RiskAdjustedReturn.Sub(from.Summary.RiskAdjustedReturn),
		RiskDelta:      to.Summary.AggregateRisk.Sub(from.Summary.AggregateRisk),
	}

	oldRat := rationaleIndex(from)
	newRat := rationaleIndex(to)
	ids := make(map[string]bool, len(oldRat)+len(newRat))
	for id := range oldRat {
		ids[id] = true
	}
	for id := range newRat {
		ids[id] = true
	}

	changed := 0
	for _, id := range determinism.SortedKeys(ids) {
		d := NewDiffNarrative(id, from.Allocation.Units(id), to.Allocation.Units(id))
		o, n := oldRat[id], newRat[id]
		d.AddChange("binding", bindingLabel(o), bindingLabel(n))
		d.AddChange("density", densityLabel(o), densityLabel(n))
		d.Build()
		if d.ChangeType != ChangeUnchanged {
			changed++
		}
		out.Projects = append(out.Projects, *d)
	}

	sign := "+"
	if out.ObjectiveDelta.IsNegative() {
		sign = ""
	}
	out.Text = fmt.Sprintf("version %d → %d: %d of %d projects changed; risk-adjusted return %s%s",
		from.Version, to.Version, changed, len(out.Projects), sign, out.ObjectiveDelta)
	return out
}

func rationaleIndex(rec *types.Recommendation) map[string]*types.Rationale {
	out := make(map[string]*types.Rationale, len(rec.Rationale))
	for i := range rec.Rationale {
		out[rec.Rationale[i].ProjectID] = &rec.Rationale[i]
	}
	return out
}

func bindingLabel(r *types.Rationale) string {
	if r == nil {
		return ""
	}
	if r.BindingDetail != "" {
		return string(r.Binding) + " (" + r.BindingDetail + ")"
	}
	return string(r.Binding)
}

func densityLabel(r *types.Rationale) string {
	if r == nil {
		return ""
	}
	return r.Density.String()
}
