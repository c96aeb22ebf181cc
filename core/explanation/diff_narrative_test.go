package explanation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-optimizer/core/explanation"
	"portfolio-optimizer/core/types"
)

func versioned(version int64, objective float64, units map[string]float64, bindings map[string]types.BindingConstraint) *types.Recommendation {
	rec := &types.Recommendation{
		PortfolioID: "pf",
		Version:     version,
		Allocation:  allocation(100, units, "a", "b", "c"),
		Summary:     types.Summary{RiskAdjustedReturn: d(objective)},
	}
	for _, id := range []string{"a", "b", "c"} {
		if b, ok := bindings[id]; ok {
			rec.Rationale = append(rec.Rationale, types.Rationale{ProjectID: id, Binding: b, Density: d(1)})
		}
	}
	return rec
}

func TestDiffClassifiesChanges(t *testing.T) {
	from := versioned(1, 300,
		map[string]float64{"a": 50, "b": 50},
		map[string]types.BindingConstraint{"a": types.BindingDemandCap, "b": types.BindingResourcePool, "c": types.BindingNonPositiveReturn})
	to := versioned(2, 320,
		map[string]float64{"a": 50, "b": 20, "c": 30},
		map[string]types.BindingConstraint{"a": types.BindingDemandCap, "b": types.BindingResourcePool, "c": types.BindingResourcePool})

	diff := explanation.Diff(from, to)
	require.Len(t, diff.Projects, 3)
	assert.Equal(t, int64(1), diff.FromVersion)
	assert.Equal(t, int64(2), diff.ToVersion)
	assert.True(t, diff.ObjectiveDelta.Equal(d(20)))

	a, b, c := diff.Projects[0], diff.Projects[1], diff.Projects[2]
	assert.Equal(t, explanation.ChangeUnchanged, a.ChangeType)
	assert.Empty(t, a.Changes)

	assert.Equal(t, explanation.ChangeDecreased, b.ChangeType)
	assert.True(t, b.Delta.Equal(d(-30)))
	assert.Contains(t, b.Narrative, "b fell by 30 units (from 50 to 20)")

	assert.Equal(t, explanation.ChangeFunded, c.ChangeType)
	require.Len(t, c.Changes, 1)
	assert.Equal(t, "binding", c.Changes[0].Attribute)
	assert.Contains(t, c.Narrative, "binding changed: non_positive_return → resource_pool")

	assert.Contains(t, diff.Text, "2 of 3 projects changed")
	assert.Contains(t, diff.Text, "+20")
}

func TestDiffHandlesRemovedProjects(t *testing.T) {
	from := versioned(3, 100, map[string]float64{"a": 10}, map[string]types.BindingConstraint{"a": types.BindingResourcePool})
	to := &types.Recommendation{PortfolioID: "pf", Version: 4, Allocation: types.Allocation{Pool: d(100)}}

	diff := explanation.Diff(from, to)
	require.Len(t, diff.Projects, 1)
	assert.Equal(t, explanation.ChangeDefunded, diff.Projects[0].ChangeType)
	assert.Contains(t, diff.Projects[0].Narrative, "binding removed (was resource_pool)")
}
