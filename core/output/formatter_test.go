package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"portfolio-optimizer/core/explanation"
	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/history"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func sampleRecommendation(version int64, alphaUnits float64) *types.Recommendation {
	return &types.Recommendation{
		ID:          "rec-1",
		PortfolioID: "pf",
		Version:     version,
		Status:      types.RunSolved,
		Allocation: types.Allocation{
			Pool: d(100),
			Entries: []types.AllocationEntry{
				{ProjectID: "alpha", Units: d(alphaUnits), Fraction: d(alphaUnits / 100)},
			},
		},
		Rationale: []types.Rationale{
			{ProjectID: "alpha", Units: d(alphaUnits), Fraction: d(alphaUnits / 100), Demand: d(60), Density: d(1.5),
				Binding: types.BindingDemandCap, Text: "alpha is capped by its demand"},
			{ProjectID: "beta", Demand: d(50), Binding: types.BindingDependencyBlock, Text: "beta waits on gamma"},
		},
		Summary: types.Summary{
			AllocatedUnits:     d(alphaUnits),
			RiskAdjustedReturn: d(alphaUnits * 1.5),
			AggregateRisk:      d(0.3),
			Trimmed:            []string{"delta"},
			Text:               "1 of 2 projects funded",
		},
		Anomalies: []types.Anomaly{{ProjectID: "alpha", Field: "team_size", Kind: types.AnomalyDefaulted, Applied: "1"}},
	}
}

func render(t *testing.T, format string, opts TableOptions, report *Report) string {
	t.Helper()
	f, err := NewRegistry(opts).Get(format)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Render(&buf, report))
	return buf.String()
}

func TestRegistryFormats(t *testing.T) {
	r := NewRegistry(TableOptions{})
	assert.Equal(t, []string{"json", "table", "yaml"}, r.Formats())

	_, err := r.Get("xml")
	assert.True(t, errors.IsType(err, errors.TypeValidation))
	assert.Error(t, r.Register(&JSONFormatter{}))
}

func TestTableRendersRecommendation(t *testing.T) {
	out := render(t, "table", TableOptions{ShowRationale: true, NoColor: true}, &Report{
		Recommendation: sampleRecommendation(3, 60),
		Scores: []types.RiskScore{
			{ProjectID: "alpha", Risk: d(0.8), ExpectedReturn: d(90)},
			{ProjectID: "beta", Unscored: true, UnscoredReason: "no delay history"},
		},
		Metadata: Metadata{Duration: "12ms"},
	})

	for _, want := range []string{
		"Recommendation: pf v3",
		"60.00",
		"60.0%",
		"demand_cap",
		"dependency_block",
		"alpha is capped by its demand",
		"● 0.80",
		"unscored",
		"Risk-adjusted return:  90.00",
		"trimmed below minimum allocation: delta",
		"team_size defaulted to 1",
		"completed in 12ms",
	} {
		assert.Contains(t, out, want)
	}
}

func TestTableOmitsRationaleWhenDisabled(t *testing.T) {
	out := render(t, "table", TableOptions{NoColor: true}, &Report{Recommendation: sampleRecommendation(1, 60)})
	assert.NotContains(t, out, "alpha is capped by its demand")
}

func TestTableRendersDiff(t *testing.T) {
	diff := explanation.Diff(sampleRecommendation(1, 60), sampleRecommendation(2, 40))
	out := render(t, "table", TableOptions{NoColor: true}, &Report{Diff: &diff})
	assert.Contains(t, out, "Changes: pf v1 → v2")
	assert.Contains(t, out, "alpha: 60.00 → 40.00 (-20.00)")
	assert.Contains(t, out, "1 of 2 projects changed")
}

func TestTableRendersGraph(t *testing.T) {
	signals := []types.ProjectSignal{
		{ID: "a", Status: types.StatusActive, Demand: d(10), ResourceTags: []string{"gpu"}},
		{ID: "b", Status: types.StatusActive, Demand: d(10), Dependencies: []string{"a"}},
		{ID: "c", Status: types.StatusBlocked, Demand: d(10)},
	}
	g, err := graph.Build(signals, map[string]decimal.Decimal{"gpu": d(5)}, d(100))
	require.NoError(t, err)

	report := DescribeGraph("pf", g)
	assert.Equal(t, []string{"a"}, report.Edges["b"])

	out := render(t, "table", TableOptions{NoColor: true}, &Report{Graph: report})
	assert.Contains(t, out, "Constraint Graph: pf")
	assert.Contains(t, out, "gpu")
	assert.Contains(t, out, "c is blocked")
}

func TestStructuredFormatsShareKeys(t *testing.T) {
	report := &Report{Recommendation: sampleRecommendation(2, 60), Metadata: Metadata{Version: "test"}}

	var fromJSON map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(render(t, "json", TableOptions{}, report)), &fromJSON))

	yamlOut := render(t, "yaml", TableOptions{}, report)
	assert.False(t, strings.HasPrefix(strings.TrimSpace(yamlOut), "{"))
	var fromYAML map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(yamlOut), &fromYAML))

	assert.ElementsMatch(t, keys(fromJSON), keys(fromYAML))
	rec := fromYAML["recommendation"].(map[string]interface{})
	assert.ElementsMatch(t, keys(fromJSON["recommendation"].(map[string]interface{})), keys(rec))
	assert.Equal(t, "pf", rec["portfolio_id"])
	assert.Equal(t, "60", rec["summary"].(map[string]interface{})["allocated_units"])
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestTableRendersVersions(t *testing.T) {
	recorded := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	out := render(t, "table", TableOptions{NoColor: true}, &Report{Versions: []history.Entry{
		{PortfolioID: "pf", Version: 1, Digest: "0123456789abcdef", Status: types.RunSolved, RecordedAt: recorded},
		{PortfolioID: "pf", Version: 2, Digest: "fedcba", Status: types.RunPartial, RecordedAt: recorded},
	}})
	assert.Contains(t, out, "History: pf")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "2026-05-01T09:30:00Z")
	assert.Contains(t, out, "partial")
}
