// Package optimizer - Portfolio allocation solver
// Allocates a fixed pool across the nodes of a constraint graph to maximize
// risk-adjusted return. Each independent component is scheduled greedily,
// the schedules are merged against the pool, and each component is then
// refined by bounded local search. Component state is recorded on the
// recommendation so later runs can reuse unchanged components.
package optimizer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/explanation"
	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
	"portfolio-optimizer/internal/logging"
)

// Request is one solve
type Request struct {
	PortfolioID string
	Scores      []types.RiskScore
	Graph       *graph.ConstraintGraph

	// Previous is the last recommendation for the portfolio, if any.
	// Unchanged components reuse its recorded state.
	Previous *types.Recommendation
}

// Stats counts the work a solve did and skipped
type Stats struct {
	Components        int `json:"components"`
	ComponentsReused  int `json:"components_reused"`
	StepsReused       int `json:"steps_reused"`
	AllocationsReused int `json:"allocations_reused"`
	Iterations        int `json:"iterations"`
}

// Result is a recommendation plus solve statistics
type Result struct {
	Recommendation *types.Recommendation
	Stats          Stats
	Duration       time.Duration
}

// componentRun is the solver state of one component during a solve
type componentRun struct {
	comp        graph.Component
	fingerprint string
	steps       []types.Step
	stepsReused bool

	start    []types.Grant
	budget   decimal.Decimal
	solveKey string

	final       []types.Grant
	iterations  int
	stop        string
	allocReused bool
}

// Optimizer solves allocation requests
type Optimizer struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an optimizer
func New(cfg Config, logger *zap.Logger) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Optimizer{cfg: cfg, logger: logging.OrNop(logger)}, nil
}

// Config returns the optimizer settings
func (o *Optimizer) Config() Config {
	return o.cfg
}

// Optimize solves a request and returns the recommendation
func Optimize(ctx context.Context, cfg Config, req Request) (*types.Recommendation, error) {
	o, err := New(cfg, nil)
	if err != nil {
		return nil, err
	}
	return o.Optimize(ctx, req)
}

// Optimize solves a request and returns the recommendation
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*types.Recommendation, error) {
	res, err := o.Solve(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Recommendation, nil
}

// Solve runs the full pipeline: greedy schedules, merge, local search,
// verification and explanation. A cancelled context still yields a
// feasible recommendation with status partial.
func (o *Optimizer) Solve(ctx context.Context, req Request) (*Result, error) {
	startedAt := time.Now()
	if req.Graph == nil {
		return nil, errors.Validation("", "graph", "is required")
	}

	m := newModel(o.cfg, req.Graph, types.NewScoreSet(req.Scores))
	if m.pool.IsZero() {
		for _, id := range m.graph.Nodes() {
			if m.projects[id].mandatory {
				return nil, errors.Infeasible(id, string(types.BindingResourcePool), "pool is zero")
			}
		}
	}

	stats := Stats{}
	runs, err := o.schedule(m, req.Previous, &stats)
	if err != nil {
		return nil, err
	}

	a, err := m.merge(runs)
	if err != nil {
		return nil, err
	}

	status := o.refine(ctx, m, a, runs, req.Previous, &stats)

	alloc := m.entries(a)
	if err := m.assertFeasible(a, alloc); err != nil {
		o.logger.Error("allocation failed verification", zap.String("portfolio", req.PortfolioID), zap.Error(err))
		return nil, err
	}
	quality := m.qualityBound(a)

	rationale, summary := explanation.Explain(explanation.Input{
		Allocation: alloc,
		Graph:      m.graph,
		Scores:     types.NewScoreSet(req.Scores),
		Policy:     o.cfg.UnscoredPolicy,
		Quality:    quality,
	})

	rec := &types.Recommendation{
		PortfolioID: req.PortfolioID,
		Status:      status,
		Allocation:  alloc,
		Rationale:   rationale,
		Summary:     summary,
		Components:  records(runs),
		Anomalies:   m.anomalies(),
	}
	if err := seal(rec); err != nil {
		return nil, err
	}

	duration := time.Since(startedAt)
	o.logger.Info("portfolio solved",
		zap.String("portfolio", req.PortfolioID),
		zap.String("recommendation", rec.ID),
		zap.String("status", string(status)),
		zap.Int("components", stats.Components),
		zap.Int("components_reused", stats.ComponentsReused),
		zap.Int("iterations", stats.Iterations),
		zap.String("objective", quality.Objective.String()),
		zap.String("gap", quality.Gap.String()),
		zap.Duration("duration", duration),
	)

	return &Result{Recommendation: rec, Stats: stats, Duration: duration}, nil
}

// schedule builds or reuses the greedy steps of every component
func (o *Optimizer) schedule(m *model, prev *types.Recommendation, stats *Stats) ([]*componentRun, error) {
	comps := m.graph.Components()
	runs := make([]*componentRun, 0, len(comps))
	stats.Components = len(comps)

	for _, c := range comps {
		run := &componentRun{comp: c, fingerprint: m.fingerprint(c)}
		if rec, ok := prev.Component(c.ID); ok && rec.Fingerprint == run.fingerprint {
			run.steps = rec.Steps
			run.stepsReused = true
			stats.ComponentsReused++
			stats.StepsReused += len(rec.Steps)
		} else {
			steps, err := m.componentSteps(c)
			if err != nil {
				return nil, err
			}
			run.steps = steps
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// refine runs local search per component in ID order. Each component may use
// its merged grants plus whatever the pool still holds.
func (o *Optimizer) refine(ctx context.Context, m *model, a *allocation, runs []*componentRun, prev *types.Recommendation, stats *Stats) types.RunStatus {
	status := types.RunSolved

	for _, run := range runs {
		members := run.comp.Members
		run.start = a.grants(members)
		run.budget = m.pool.Sub(a.used).Add(sumGrants(run.start))
		run.solveKey = solveKey(run.fingerprint, run.budget, run.start)

		if rec, ok := prev.Component(run.comp.ID); ok &&
			rec.SolveKey == run.solveKey && rec.StopReason != StopCancelled {
			for _, g := range run.start {
				a.add(g.ProjectID, g.Units.Neg())
			}
			apply(a, rec.Allocations)
			run.final = rec.Allocations
			run.iterations = rec.Iterations
			run.stop = rec.StopReason
			run.allocReused = true
			stats.AllocationsReused++
			continue
		}

		// Search sees only the component's own usage against its budget
		startUnits := sumGrants(run.start)
		others := a.used.Sub(startUnits)
		a.used = startUnits
		iters, stop := m.search(ctx, members, a, run.budget)
		a.used = others.Add(a.used)

		run.final = a.grants(members)
		run.iterations = iters
		run.stop = stop
		stats.Iterations += iters
		if stop == StopCancelled {
			status = types.RunPartial
		}

		o.logger.Debug("component searched",
			zap.String("component", run.comp.ID),
			zap.Int("members", len(members)),
			zap.Int("iterations", iters),
			zap.String("stop", stop),
		)
	}
	return status
}

// entries converts the allocation into sorted entries covering every node
func (m *model) entries(a *allocation) types.Allocation {
	out := types.Allocation{Pool: m.pool}
	for _, id := range m.graph.Nodes() {
		x := a.get(id)
		frac := decimal.Zero
		if m.pool.IsPositive() {
			frac = determinism.Floor(x.Div(m.pool))
		}
		out.Entries = append(out.Entries, types.AllocationEntry{ProjectID: id, Units: x, Fraction: frac})
	}
	return out
}

// anomalies collects the input repairs of every node in ID order
func (m *model) anomalies() []types.Anomaly {
	var out []types.Anomaly
	for _, id := range m.graph.Nodes() {
		sig, _ := m.graph.Signal(id)
		out = append(out, sig.Anomalies...)
	}
	return out
}

func records(runs []*componentRun) []types.ComponentRecord {
	out := make([]types.ComponentRecord, 0, len(runs))
	for _, run := range runs {
		out = append(out, types.ComponentRecord{
			ID:          run.comp.ID,
			Members:     append([]string(nil), run.comp.Members...),
			Fingerprint: run.fingerprint,
			Steps:       run.steps,
			Budget:      run.budget,
			SolveKey:    run.solveKey,
			Allocations: run.final,
			Iterations:  run.iterations,
			StopReason:  run.stop,
		})
	}
	return out
}

// seal stamps the digest and ID. Both derive from the body only.
func seal(rec *types.Recommendation) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return errors.Internal("failed to encode recommendation", err)
	}
	rec.Digest = determinism.ComputeHash(body).Hex()
	rec.ID = string(determinism.NewIDGenerator("recommendation").Generate(rec.PortfolioID, rec.Digest))
	return nil
}

func sumGrants(grants []types.Grant) decimal.Decimal {
	total := decimal.Zero
	for _, g := range grants {
		total = total.Add(g.Units)
	}
	return total
}
