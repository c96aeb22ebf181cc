package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

func f(v float64) *float64 { return &v }

// expected is the portfolio every fixture below describes
func expected() *types.Portfolio {
	return &types.Portfolio{
		ID:              "growth",
		Pool:            1000,
		Currency:        types.CurrencyUSD,
		GroupCapacities: map[string]float64{"lab": 50},
		Projects: []types.RawProject{
			{
				ID:              "search",
				Status:          "active",
				Value:           f(1200),
				BudgetAllocated: f(300),
				BudgetConsumed:  f(120),
				DelayHistory:    []float64{0.1, 0.25},
				Demand:          f(400),
				Mandatory:       true,
				ResourceTags:    []string{"lab"},
				Dependencies:    []string{"index"},
				ObservedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			},
			{
				ID:     "index",
				Status: "proposed",
				Value:  f(800),
			},
		},
	}
}

const jsonDoc = `{
  "id": "growth",
  "pool": 1000,
  "currency": "USD",
  "group_capacities": {"lab": 50},
  "projects": [
    {"id": "search", "status": "active", "value": 1200, "budget_allocated": 300,
     "budget_consumed": 120, "delay_history": [0.1, 0.25], "demand": 400,
     "mandatory": true, "resource_tags": ["lab"], "dependencies": ["index"],
     "observed_at": "2026-03-01T12:00:00Z"},
    {"id": "index", "status": "proposed", "value": 800}
  ]
}`

const yamlDoc = `
id: growth
pool: 1000
currency: USD
group_capacities:
  lab: 50
projects:
  - id: search
    status: active
    value: 1200
    budget_allocated: 300
    budget_consumed: 120
    delay_history: [0.1, 0.25]
    demand: 400
    mandatory: true
    resource_tags: [lab]
    dependencies: [index]
    observed_at: 2026-03-01T12:00:00Z
  - id: index
    status: proposed
    value: 800
`

const hclDoc = `
id       = "growth"
pool     = 1000
currency = "USD"
group_capacities = { lab = 50 }

project "search" {
  status           = "active"
  value            = 1200
  budget_allocated = 300
  budget_consumed  = 120
  delay_history    = [0.1, 0.25]
  demand           = 400
  mandatory        = true
  resource_tags    = ["lab"]
  dependencies     = ["index"]
  observed_at      = "2026-03-01T12:00:00Z"
}

project "index" {
  status = "proposed"
  value  = 800
}
`

func TestLoadersDecodeSamePortfolio(t *testing.T) {
	tests := []struct {
		loader Loader
		doc    string
	}{
		{JSONLoader{}, jsonDoc},
		{YAMLLoader{}, yamlDoc},
		{HCLLoader{}, hclDoc},
	}
	for _, tt := range tests {
		t.Run(tt.loader.Name(), func(t *testing.T) {
			got, err := tt.loader.Decode([]byte(tt.doc), "growth"+tt.loader.Extensions()[0])
			require.NoError(t, err)
			if diff := cmp.Diff(expected(), got); diff != "" {
				t.Errorf("portfolio mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadersRejectMalformed(t *testing.T) {
	tests := []struct {
		loader Loader
		doc    string
	}{
		{JSONLoader{}, `{"id": "x", "pool": 10, "budget": 4}`},
		{YAMLLoader{}, "id: x\npool: 10\nbudget: 4\n"},
		{HCLLoader{}, `pool = `},
		{HCLLoader{}, "pool = 10\nproject \"a\" {\n  status = \"active\"\n  observed_at = \"yesterday\"\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.loader.Name(), func(t *testing.T) {
			_, err := tt.loader.Decode([]byte(tt.doc), "bad")
			assert.True(t, errors.IsType(err, errors.TypeValidation), "got %v", err)
		})
	}
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	write("b.yaml", "pool: 20\nprojects: []\n")
	write("a.hcl", "id = \"alpha\"\npool = 10\n")
	write("notes.txt", "ignored")

	r := DefaultRegistry()
	got, err := r.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, 20.0, got[1].Pool)

	write("c.json", `{"id": "alpha", "pool": 5, "projects": []}`)
	_, err = r.LoadDir(context.Background(), dir)
	assert.True(t, errors.IsType(err, errors.TypeValidation))
}

func TestRegistryRejectsDuplicateExtension(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(YAMLLoader{}))
	assert.Error(t, r.Register(YAMLLoader{}))

	_, ok := r.ForPath("portfolio.YML")
	assert.True(t, ok)
	_, ok = r.ForPath("portfolio.toml")
	assert.False(t, ok)
}

func TestLoadFileErrors(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.LoadFile(context.Background(), "portfolio.toml")
	assert.True(t, errors.IsType(err, errors.TypeValidation))

	_, err = r.LoadFile(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, errors.IsType(err, errors.TypeNotFound))
}
