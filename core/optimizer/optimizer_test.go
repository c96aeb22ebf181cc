package optimizer_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/optimizer"
	"portfolio-optimizer/core/risk"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

type fixture struct {
	signals    []types.ProjectSignal
	scores     []types.RiskScore
	capacities map[string]decimal.Decimal
	pool       decimal.Decimal
}

func newFixture(pool int64) *fixture {
	return &fixture{pool: decimal.NewFromInt(pool), capacities: make(map[string]decimal.Decimal)}
}

// add registers a project with the given demand, risk and expected return
func (f *fixture) add(id string, demand int64, risk, expected float64, deps []string, tags ...string) *types.ProjectSignal {
	r := decimal.NewFromFloat(risk)
	e := decimal.NewFromFloat(expected)
	value := e
	if r.LessThan(decimal.NewFromInt(1)) {
		value = e.Div(decimal.NewFromInt(1).Sub(r))
	}
	f.signals = append(f.signals, types.ProjectSignal{
		ID:           id,
		Status:       types.StatusActive,
		Value:        value,
		Demand:       decimal.NewFromInt(demand),
		Dependencies: deps,
		ResourceTags: tags,
	})
	f.scores = append(f.scores, types.RiskScore{ProjectID: id, Risk: r, ExpectedReturn: e})
	return &f.signals[len(f.signals)-1]
}

func (f *fixture) capacity(tag string, c int64) {
	f.capacities[tag] = decimal.NewFromInt(c)
}

func (f *fixture) request(t *testing.T) optimizer.Request {
	t.Helper()
	g, err := graph.Build(f.signals, f.capacities, f.pool)
	require.NoError(t, err)
	return optimizer.Request{PortfolioID: "pf", Scores: f.scores, Graph: g}
}

func solve(t *testing.T, cfg optimizer.Config, req optimizer.Request) *optimizer.Result {
	t.Helper()
	o, err := optimizer.New(cfg, zap.NewNop())
	require.NoError(t, err)
	res, err := o.Solve(context.Background(), req)
	require.NoError(t, err)
	return res
}

func units(rec *types.Recommendation, id string) string {
	return rec.Allocation.Units(id).String()
}

// overlapping builds a component where the greedy choice of A saturates two
// groups that B and C could use better together
func overlapping() *fixture {
	f := newFixture(100)
	f.add("A", 50, 0, 150, nil, "g1", "g2")
	f.add("B", 50, 0, 145, nil, "g1")
	f.add("C", 50, 0, 145, nil, "g2")
	f.capacity("g1", 50)
	f.capacity("g2", 50)
	return f
}

func TestOptimizePrefersLowerRisk(t *testing.T) {
	f := newFixture(100)
	f.add("P1", 100, 0.2, 500, nil)
	f.add("P2", 100, 0.8, 500, nil)

	rec := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation

	assert.Equal(t, "100", units(rec, "P1"))
	assert.Equal(t, "0", units(rec, "P2"))
	assert.True(t, rec.Allocation.Units("P1").GreaterThan(rec.Allocation.Units("P2")))
	assert.Equal(t, types.RunSolved, rec.Status)
	assert.Equal(t, "1", rec.Allocation.Fraction("P1").String())
}

func TestOptimizeBlockedDependency(t *testing.T) {
	f := newFixture(100)
	f.add("P3", 40, 0.1, 900, []string{"P4"})
	p4 := f.add("P4", 40, 0.1, 100, nil)
	p4.Status = types.StatusBlocked
	f.add("P5", 40, 0.3, 100, nil)

	rec := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation

	assert.Equal(t, "0", units(rec, "P3"))
	assert.Equal(t, "0", units(rec, "P4"))
	assert.Equal(t, "40", units(rec, "P5"))

	for _, r := range rec.Rationale {
		switch r.ProjectID {
		case "P3":
			assert.Equal(t, types.BindingDependencyBlock, r.Binding)
		case "P4":
			assert.Equal(t, types.BindingStatusBlock, r.Binding)
		}
	}
}

func TestOptimizeZeroPoolWithMandatory(t *testing.T) {
	f := newFixture(0)
	f.add("opt", 10, 0.1, 50, nil)
	f.add("must", 10, 0.1, 50, nil).Mandatory = true

	o, err := optimizer.New(optimizer.DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = o.Optimize(context.Background(), f.request(t))
	require.Error(t, err)

	var inf *errors.InfeasibleError
	require.ErrorAs(t, err, &inf)
	assert.Equal(t, "must", inf.ProjectID)
	assert.Equal(t, string(types.BindingResourcePool), inf.Constraint)
}

func TestOptimizeZeroPoolWithoutMandatory(t *testing.T) {
	f := newFixture(0)
	f.add("a", 10, 0.1, 50, nil)

	rec := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation
	assert.Equal(t, "0", units(rec, "a"))
	assert.True(t, rec.Allocation.TotalFraction().IsZero())
}

func TestOptimizeReservesMandatoryLevel(t *testing.T) {
	f := newFixture(100)
	f.add("M", 50, 0.5, 10, nil).Mandatory = true
	f.add("H", 100, 0.1, 1000, nil)

	rec := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation

	assert.Equal(t, "5", units(rec, "M"))
	assert.Equal(t, "95", units(rec, "H"))
}

func TestOptimizeMandatoryBlockedIsInfeasible(t *testing.T) {
	f := newFixture(100)
	m := f.add("M", 50, 0.5, 10, nil)
	m.Mandatory = true
	m.Status = types.StatusBlocked

	_, err := optimizer.Optimize(context.Background(), optimizer.DefaultConfig(), f.request(t))
	var inf *errors.InfeasibleError
	require.ErrorAs(t, err, &inf)
	assert.Equal(t, "M", inf.ProjectID)
	assert.Equal(t, string(graph.BlockStatus), inf.Constraint)
}

func TestOptimizeMandatoryOverGroupCapacity(t *testing.T) {
	f := newFixture(100)
	f.add("M", 50, 0.1, 10, nil, "lab").MinAllocation = decimal.NewFromInt(30)
	f.signals[0].Mandatory = true
	f.capacity("lab", 20)

	_, err := optimizer.Optimize(context.Background(), optimizer.DefaultConfig(), f.request(t))
	var inf *errors.InfeasibleError
	require.ErrorAs(t, err, &inf)
	assert.Equal(t, "contention_group:lab", inf.Constraint)
}

func TestOptimizeFundsPrerequisites(t *testing.T) {
	f := newFixture(60)
	f.add("X", 50, 0, 500, []string{"Y"})
	f.add("Y", 50, 0, 50, nil)

	rec := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation

	assert.Equal(t, "50", units(rec, "X"))
	assert.Equal(t, "10", units(rec, "Y"))
	assert.True(t, rec.Summary.Quality.Gap.IsZero())
}

func TestOptimizeLocalSearchBeatsGreedy(t *testing.T) {
	greedyOnly := optimizer.DefaultConfig()
	greedyOnly.MaxIterations = 0

	greedy := solve(t, greedyOnly, overlapping().request(t)).Recommendation
	assert.Equal(t, "50", units(greedy, "A"))
	assert.Equal(t, "0", units(greedy, "B"))
	assert.Equal(t, "150", greedy.Summary.Quality.Objective.String())

	res := solve(t, optimizer.DefaultConfig(), overlapping().request(t))
	rec := res.Recommendation
	assert.Equal(t, "0", units(rec, "A"))
	assert.Equal(t, "50", units(rec, "B"))
	assert.Equal(t, "50", units(rec, "C"))
	assert.Equal(t, "290", rec.Summary.Quality.Objective.String())
	assert.Equal(t, "295", rec.Summary.Quality.UpperBound.String())
	assert.Equal(t, "0.016949", rec.Summary.Quality.Gap.String())
	assert.Equal(t, 1, res.Stats.Iterations)
	require.Len(t, rec.Components, 1)
	assert.Equal(t, optimizer.StopNoImprovingMove, rec.Components[0].StopReason)
}

func TestOptimizeInvariants(t *testing.T) {
	f := newFixture(250)
	f.add("a", 80, 0.2, 400, nil, "eng")
	f.add("b", 60, 0.4, 300, []string{"a"}, "eng")
	f.add("c", 90, 0.1, 200, nil, "ops")
	f.add("d", 50, 0.6, 350, []string{"c"})
	f.add("e", 40, 0.3, -20, nil)
	f.add("g", 70, 0.2, 260, []string{"b"}, "ops")
	f.capacity("eng", 100)
	f.capacity("ops", 120)

	rec := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation

	assert.True(t, rec.Allocation.TotalFraction().LessThanOrEqual(decimal.NewFromInt(1)))
	assert.True(t, rec.Allocation.TotalUnits().LessThanOrEqual(f.pool))
	assert.Equal(t, "0", units(rec, "e"))
	for _, e := range rec.Allocation.Entries {
		assert.False(t, e.Units.IsNegative(), e.ProjectID)
	}

	eng := rec.Allocation.Units("a").Add(rec.Allocation.Units("b"))
	assert.True(t, eng.LessThanOrEqual(decimal.NewFromInt(100)))
	ops := rec.Allocation.Units("c").Add(rec.Allocation.Units("g"))
	assert.True(t, ops.LessThanOrEqual(decimal.NewFromInt(120)))

	sigs := types.NewSignalSet(f.signals)
	for _, e := range rec.Allocation.Entries {
		if !e.Units.IsPositive() {
			continue
		}
		for _, dep := range sigs[e.ProjectID].Dependencies {
			assert.True(t, rec.Allocation.Units(dep).IsPositive(), "%s funded without %s", e.ProjectID, dep)
		}
	}

	q := rec.Summary.Quality
	assert.True(t, q.UpperBound.GreaterThanOrEqual(q.Objective))
	assert.Equal(t, q.Objective.String(), rec.Summary.RiskAdjustedReturn.String())
}

func TestOptimizeIsIdempotent(t *testing.T) {
	f := overlapping()
	f.add("D", 30, 0.4, 90, nil)

	first := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation
	second := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation

	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, first.ID, second.ID)
	if diff := cmp.Diff(first, second, decimalEqual); diff != "" {
		t.Errorf("recommendations differ (-first +second):\n%s", diff)
	}
}

func TestOptimizeIncrementalMatchesFullSolve(t *testing.T) {
	f := overlapping()
	f.add("D", 30, 0.4, 90, nil)
	f.add("E", 20, 0.2, 60, nil)
	prev := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation

	// Only E changes; pool slack keeps the other budgets unchanged
	f.scores[len(f.scores)-1].ExpectedReturn = decimal.NewFromInt(70)
	req := f.request(t)

	full := solve(t, optimizer.DefaultConfig(), req)
	req.Previous = prev
	incremental := solve(t, optimizer.DefaultConfig(), req)

	if diff := cmp.Diff(full.Recommendation, incremental.Recommendation, decimalEqual); diff != "" {
		t.Errorf("incremental differs from full solve (-full +incremental):\n%s", diff)
	}
	assert.Equal(t, full.Recommendation.Digest, incremental.Recommendation.Digest)
	assert.Equal(t, 3, incremental.Stats.Components)
	assert.Equal(t, 2, incremental.Stats.ComponentsReused)
	assert.Equal(t, 0, full.Stats.ComponentsReused)
	assert.Positive(t, incremental.Stats.AllocationsReused)
}

func TestOptimizeReusesUnchangedPortfolio(t *testing.T) {
	req := overlapping().request(t)
	prev := solve(t, optimizer.DefaultConfig(), req).Recommendation

	req.Previous = prev
	res := solve(t, optimizer.DefaultConfig(), req)

	assert.Equal(t, prev.Digest, res.Recommendation.Digest)
	assert.Equal(t, 1, res.Stats.ComponentsReused)
	assert.Equal(t, 1, res.Stats.AllocationsReused)
	assert.Equal(t, 0, res.Stats.Iterations)
}

func TestOptimizeCancelledReturnsFeasiblePartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := optimizer.New(optimizer.DefaultConfig(), nil)
	require.NoError(t, err)
	req := overlapping().request(t)
	res, err := o.Solve(ctx, req)
	require.NoError(t, err)

	rec := res.Recommendation
	assert.Equal(t, types.RunPartial, rec.Status)
	assert.Equal(t, "50", units(rec, "A"))
	assert.True(t, rec.Allocation.TotalUnits().LessThanOrEqual(decimal.NewFromInt(100)))
	assert.Equal(t, optimizer.StopCancelled, rec.Components[0].StopReason)

	// A cancelled component is searched again on the next run
	req.Previous = rec
	again := solve(t, optimizer.DefaultConfig(), req).Recommendation
	assert.Equal(t, types.RunSolved, again.Status)
	assert.Equal(t, "50", units(again, "B"))
}

func TestOptimizeUnscoredPolicies(t *testing.T) {
	f := newFixture(100)
	f.add("known", 40, 0.2, 200, nil)
	f.add("mystery", 40, 0, 0, nil)
	f.scores[1] = types.RiskScore{ProjectID: "mystery", Unscored: true, UnscoredReason: risk.ReasonNoHistory}

	rec := solve(t, optimizer.DefaultConfig(), f.request(t)).Recommendation
	assert.Equal(t, []string{"mystery"}, rec.Summary.Unscored)
	assert.Equal(t, "0", units(rec, "mystery"))

	cfg := optimizer.DefaultConfig()
	cfg.UnscoredPolicy = risk.PolicyExclude
	rec = solve(t, cfg, f.request(t)).Recommendation
	for _, r := range rec.Rationale {
		if r.ProjectID == "mystery" {
			assert.Equal(t, types.BindingUnscoredExcluded, r.Binding)
		}
	}
}

func TestOptimizeRequiresGraph(t *testing.T) {
	_, err := optimizer.Optimize(context.Background(), optimizer.DefaultConfig(), optimizer.Request{})
	assert.True(t, errors.IsType(err, errors.TypeValidation))
}

func TestConfigValidate(t *testing.T) {
	cfg := optimizer.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.MandatoryMinFraction = 0
	assert.True(t, errors.IsType(cfg.Validate(), errors.TypeConfig))

	cfg = optimizer.DefaultConfig()
	cfg.UnscoredPolicy = "ignore"
	_, err := optimizer.New(cfg, nil)
	assert.Error(t, err)
}
