// Package normalize converts raw project records into canonical signals.
// Hard-bound violations are rejected; soft-bound violations are repaired
// and recorded as anomalies for the explainer.
package normalize

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
	"portfolio-optimizer/internal/logging"
)

// Options controls bounds and defaults
type Options struct {
	// OverrunTolerance is the fraction by which consumption may exceed allocation
	OverrunTolerance float64 `json:"overrun_tolerance" mapstructure:"overrun_tolerance"`

	// DefaultDemand applies when demand is missing and no budget remains
	DefaultDemand float64 `json:"default_demand" mapstructure:"default_demand"`
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		OverrunTolerance: 0.10,
		DefaultDemand:    0,
	}
}

// Normalizer converts raw project records to signals
type Normalizer struct {
	opts   Options
	logger *zap.Logger
}

// New creates a normalizer. A nil logger disables anomaly logging.
func New(opts Options, logger *zap.Logger) *Normalizer {
	return &Normalizer{opts: opts, logger: logging.OrNop(logger)}
}

// Normalize converts raw records using default options
func Normalize(raws []types.RawProject) ([]types.ProjectSignal, error) {
	return New(DefaultOptions(), nil).Normalize(raws)
}

// Normalize converts raw records into signals sorted by project ID.
// The first hard-bound violation aborts with a *errors.ValidationError.
func (n *Normalizer) Normalize(raws []types.RawProject) ([]types.ProjectSignal, error) {
	signals := make([]types.ProjectSignal, 0, len(raws))
	seen := make(map[string]bool, len(raws))

	for i := range raws {
		sig, err := n.normalizeOne(i, &raws[i])
		if err != nil {
			return nil, err
		}
		if seen[sig.ID] {
			return nil, errors.Validation(sig.ID, "id", "duplicate project id")
		}
		seen[sig.ID] = true
		signals = append(signals, sig)
	}

	determinism.SortSlice(signals, func(a, b types.ProjectSignal) bool {
		return a.ID < b.ID
	})

	depths := DependencyDepths(signals)
	for i := range signals {
		signals[i].DependencyDepth = depths[signals[i].ID]
	}

	return signals, nil
}

func (n *Normalizer) normalizeOne(index int, raw *types.RawProject) (types.ProjectSignal, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return types.ProjectSignal{}, errors.Validation(fmt.Sprintf("#%d", index), "id", "required")
	}

	r := &record{id: id, logger: n.logger}

	if raw.Status == "" {
		return types.ProjectSignal{}, errors.Validation(id, "status", "required")
	}
	status, ok := types.ParseStatus(strings.ToLower(strings.TrimSpace(raw.Status)))
	if !ok {
		return types.ProjectSignal{}, errors.Validation(id, "status", fmt.Sprintf("unknown status %q", raw.Status))
	}

	value, err := r.required("value", raw.Value, true)
	if err != nil {
		return types.ProjectSignal{}, err
	}
	allocated, err := r.required("budget_allocated", raw.BudgetAllocated, false)
	if err != nil {
		return types.ProjectSignal{}, err
	}
	estimated, err := r.required("estimated_days", raw.EstimatedDays, false)
	if err != nil {
		return types.ProjectSignal{}, err
	}

	consumed := decimal.Zero
	if raw.BudgetConsumed == nil {
		r.anomaly("budget_consumed", types.AnomalyDefaulted, "", decimal.Zero)
	} else {
		if err := finite(id, "budget_consumed", *raw.BudgetConsumed); err != nil {
			return types.ProjectSignal{}, err
		}
		if *raw.BudgetConsumed < 0 {
			return types.ProjectSignal{}, errors.Validation(id, "budget_consumed", "must be non-negative")
		}
		consumed = determinism.FromFloat(*raw.BudgetConsumed)
	}

	ceiling := allocated.Mul(decimal.NewFromFloat(1 + n.opts.OverrunTolerance))
	if consumed.GreaterThan(ceiling) {
		return types.ProjectSignal{}, errors.Validation(id, "budget_consumed",
			fmt.Sprintf("consumed %s exceeds allocated %s beyond overrun tolerance", consumed, allocated))
	}

	progress, err := r.soft("progress_percent", raw.ProgressPercent, decimal.Zero, decimal.NewFromInt(100), decimal.Zero)
	if err != nil {
		return types.ProjectSignal{}, err
	}
	elapsed, err := r.soft("elapsed_days", raw.ElapsedDays, decimal.Zero, decimal.Decimal{}, decimal.Zero)
	if err != nil {
		return types.ProjectSignal{}, err
	}
	team, err := r.soft("team_size", raw.TeamSize, decimal.Zero, decimal.Decimal{}, decimal.Zero)
	if err != nil {
		return types.ProjectSignal{}, err
	}

	fallback := allocated.Sub(consumed)
	if !fallback.IsPositive() {
		fallback = determinism.FromFloat(n.opts.DefaultDemand)
	}
	demand, err := r.soft("demand", raw.Demand, decimal.Zero, decimal.Decimal{}, fallback)
	if err != nil {
		return types.ProjectSignal{}, err
	}

	minimum := decimal.Zero
	if raw.MinAllocation != nil {
		if minimum, err = r.soft("min_allocation", raw.MinAllocation, decimal.Zero, decimal.Decimal{}, decimal.Zero); err != nil {
			return types.ProjectSignal{}, err
		}
		if minimum.GreaterThan(demand) {
			r.anomaly("min_allocation", types.AnomalyClamped, minimum.String(), demand)
			minimum = demand
		}
	}

	variance, samples, err := delayVariance(id, raw.DelayHistory)
	if err != nil {
		return types.ProjectSignal{}, err
	}

	deps := make([]string, 0, len(raw.Dependencies))
	for _, d := range raw.Dependencies {
		d = strings.TrimSpace(d)
		if d == "" {
			return types.ProjectSignal{}, errors.Validation(id, "dependencies", "empty dependency id")
		}
		if d == id {
			return types.ProjectSignal{}, errors.Validation(id, "dependencies", "project depends on itself")
		}
		deps = append(deps, d)
	}

	observed := raw.ObservedAt
	if observed.IsZero() {
		r.anomalies = append(r.anomalies, types.Anomaly{
			ProjectID: id,
			Field:     "observed_at",
			Kind:      types.AnomalyDefaulted,
			Applied:   time.Time{}.Format(time.RFC3339),
		})
		r.log("observed_at", types.AnomalyDefaulted, "", "zero time")
	}

	return types.ProjectSignal{
		ID:              id,
		Status:          status,
		Value:           value,
		BudgetAllocated: allocated,
		BudgetConsumed:  consumed,
		Progress:        determinism.Round(progress.Div(decimal.NewFromInt(100))),
		ElapsedDays:     elapsed,
		EstimatedDays:   estimated,
		DelayVariance:   variance,
		HistorySamples:  samples,
		TeamSize:        int(team.IntPart()),
		Dependencies:    determinism.SortedUnique(deps),
		Demand:          demand,
		MinAllocation:   minimum,
		Mandatory:       raw.Mandatory,
		ResourceTags:    determinism.SortedUnique(raw.ResourceTags),
		ObservedAt:      observed.UTC(),
		Anomalies:       r.anomalies,
	}, nil
}

// record collects anomalies while one project is normalized
type record struct {
	id        string
	logger    *zap.Logger
	anomalies []types.Anomaly
}

// required reads a mandatory numeric field
func (r *record) required(field string, v *float64, allowNegative bool) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, errors.Validation(r.id, field, "required")
	}
	if err := finite(r.id, field, *v); err != nil {
		return decimal.Zero, err
	}
	if !allowNegative && *v < 0 {
		return decimal.Zero, errors.Validation(r.id, field, "must be non-negative")
	}
	return determinism.FromFloat(*v), nil
}

// soft reads an optional field, defaulting when missing and clamping to [lo, hi].
// A zero-value hi means unbounded above.
func (r *record) soft(field string, v *float64, lo, hi, def decimal.Decimal) (decimal.Decimal, error) {
	if v == nil {
		r.anomaly(field, types.AnomalyDefaulted, "", def)
		return def, nil
	}
	if err := finite(r.id, field, *v); err != nil {
		return decimal.Zero, err
	}
	d := determinism.FromFloat(*v)
	bounded := d
	if bounded.LessThan(lo) {
		bounded = lo
	}
	if !hi.IsZero() && bounded.GreaterThan(hi) {
		bounded = hi
	}
	if !bounded.Equal(d) {
		r.anomaly(field, types.AnomalyClamped, d.String(), bounded)
	}
	return bounded, nil
}

func (r *record) anomaly(field string, kind types.AnomalyKind, original string, applied decimal.Decimal) {
	r.anomalies = append(r.anomalies, types.Anomaly{
		ProjectID: r.id,
		Field:     field,
		Kind:      kind,
		Original:  original,
		Applied:   applied.String(),
	})
	r.log(field, kind, original, applied.String())
}

func (r *record) log(field string, kind types.AnomalyKind, original, applied string) {
	r.logger.Warn("signal anomaly",
		zap.String("project", r.id),
		zap.String("field", field),
		zap.String("kind", string(kind)),
		zap.String("original", original),
		zap.String("applied", applied),
	)
}

func finite(id, field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Validation(id, field, "not a finite number")
	}
	return nil
}

// delayVariance returns the sample variance of the delay history and its size
func delayVariance(id string, history []float64) (decimal.Decimal, int, error) {
	for _, h := range history {
		if err := finite(id, "delay_history", h); err != nil {
			return decimal.Zero, 0, err
		}
	}
	if len(history) < 2 {
		return decimal.Zero, len(history), nil
	}
	return determinism.FromFloat(stat.Variance(history, nil)), len(history), nil
}
