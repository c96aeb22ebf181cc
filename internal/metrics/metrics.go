// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portfolio-optimizer/core/engine"
	"portfolio-optimizer/core/optimizer"
)

const namespace = "portfolio"

// Registry holds all optimizer metrics. It implements engine.Observer.
type Registry struct {
	reg *prometheus.Registry

	// Solve metrics
	SolveDuration    *prometheus.HistogramVec
	SolveIterations  prometheus.Histogram
	Solves           *prometheus.CounterVec
	ComponentsReused prometheus.Counter
	ComponentsSolved prometheus.Counter
	Superseded       prometheus.Counter

	// Scoring cache metrics
	ScoresComputed prometheus.Counter
	ScoresReused   prometheus.Counter

	// Queue metrics
	Queue *prometheus.GaugeVec

	// HTTP metrics
	Requests *prometheus.CounterVec
}

var _ engine.Observer = (*Registry)(nil)

// New creates a registry with every metric registered on a private
// prometheus registry
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		SolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "solve_duration_seconds",
				Help:      "Duration of portfolio solves in seconds by outcome",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"outcome"},
		),

		SolveIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "solve_iterations",
				Help:      "Local search moves applied per solve",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		Solves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solves_total",
				Help:      "Total number of solves by portfolio and outcome",
			},
			[]string{"portfolio", "outcome"},
		),

		ComponentsReused: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "components_reused_total",
				Help:      "Components whose greedy steps were reused from the previous recommendation",
			},
		),

		ComponentsSolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "components_total",
				Help:      "Components processed by the optimizer",
			},
		),

		Superseded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "superseded_total",
				Help:      "Solves dropped in favour of a newer request",
			},
		),

		ScoresComputed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scores_computed_total",
				Help:      "Risk scores computed from fresh inputs",
			},
		),

		ScoresReused: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scores_reused_total",
				Help:      "Risk scores reused because inputs barely moved",
			},
		),

		Queue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Solve requests waiting or running per portfolio",
			},
			[]string{"portfolio"},
		),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	r.reg.MustRegister(
		r.SolveDuration,
		r.SolveIterations,
		r.Solves,
		r.ComponentsReused,
		r.ComponentsSolved,
		r.Superseded,
		r.ScoresComputed,
		r.ScoresReused,
		r.Queue,
		r.Requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// SolveFinished records one finished solve
func (r *Registry) SolveFinished(portfolioID, outcome string, duration time.Duration, stats optimizer.Stats) {
	r.SolveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	r.Solves.WithLabelValues(portfolioID, outcome).Inc()
	if outcome == engine.OutcomeSuperseded {
		r.Superseded.Inc()
	}
	if stats.Components == 0 {
		return
	}
	r.SolveIterations.Observe(float64(stats.Iterations))
	r.ComponentsSolved.Add(float64(stats.Components))
	r.ComponentsReused.Add(float64(stats.ComponentsReused))
}

// Scored records the scoring cache outcome of one solve
func (r *Registry) Scored(_ string, rescored, reused int) {
	r.ScoresComputed.Add(float64(rescored))
	r.ScoresReused.Add(float64(reused))
}

// QueueDepth sets the queue gauge of a portfolio
func (r *Registry) QueueDepth(portfolioID string, depth int) {
	r.Queue.WithLabelValues(portfolioID).Set(float64(depth))
}

// RecordRequest counts an HTTP request
func (r *Registry) RecordRequest(route string, code int) {
	r.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Gatherer returns the underlying prometheus registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the metrics in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
