// Package engine - Per-portfolio optimization sessions
// A session owns the live inputs of one portfolio and serializes its solves.
// Ingestion may run concurrently with a solve; every solve works on a
// snapshot taken under lock.
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/guards"
	"portfolio-optimizer/core/history"
	"portfolio-optimizer/core/normalize"
	"portfolio-optimizer/core/optimizer"
	"portfolio-optimizer/core/risk"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

// Components are the shared pipeline stages a session runs
type Components struct {
	Normalizer *normalize.Normalizer
	Scorer     *risk.Scorer
	Optimizer  *optimizer.Optimizer
	History    *history.Log
	Observer   Observer
	Logger     *zap.Logger
}

// Snapshot is a consistent copy of a session's inputs
type Snapshot struct {
	PortfolioID string
	Pool        decimal.Decimal
	Capacities  map[string]decimal.Decimal
	Signals     []types.ProjectSignal
}

// Session is the optimization state of one portfolio
type Session struct {
	id     string
	cfg    Config
	comps  Components
	logger *zap.Logger

	// mu guards the inputs and the score cache
	mu         sync.Mutex
	pool       decimal.Decimal
	capacities map[string]decimal.Decimal
	signals    map[string]types.ProjectSignal

	scored map[string]scoredSignal

	// solved holds the scores behind the latest recorded recommendation
	solved []types.RiskScore

	// generation counts supersede-policy requests; cancel stops the running solve
	generation uint64
	cancel     context.CancelFunc

	queue   ticketQueue
	updates *Broadcaster[*types.Recommendation]
	alerts  *alertLog
}

type scoredSignal struct {
	signal types.ProjectSignal
	score  types.RiskScore
}

func newSession(id string, cfg Config, comps Components, alerts *alertLog) *Session {
	return &Session{
		id:         id,
		cfg:        cfg,
		comps:      comps,
		logger:     comps.Logger.With(zap.String("portfolio", id)),
		capacities: make(map[string]decimal.Decimal),
		signals:    make(map[string]types.ProjectSignal),
		scored:     make(map[string]scoredSignal),
		updates:    NewBroadcaster[*types.Recommendation](8),
		alerts:     alerts,
	}
}

// ID returns the portfolio ID
func (s *Session) ID() string {
	return s.id
}

// Ingest normalizes raw records and upserts them. A validation error
// rejects the whole batch and leaves the session unchanged.
func (s *Session) Ingest(raws []types.RawProject) ([]types.ProjectSignal, error) {
	signals, err := s.comps.Normalizer.Normalize(raws)
	if err != nil {
		s.logger.Warn("ingest rejected", zap.Int("records", len(raws)), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range signals {
		s.signals[sig.ID] = sig
	}
	s.logger.Debug("signals ingested", zap.Int("records", len(signals)), zap.Int("total", len(s.signals)))
	return signals, nil
}

// Remove drops projects from the session
func (s *Session) Remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.signals, id)
		delete(s.scored, id)
	}
}

func (s *Session) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals)
}

// SetPool sets the resource pool
func (s *Session) SetPool(pool float64) error {
	if math.IsNaN(pool) || math.IsInf(pool, 0) || pool < 0 {
		return errors.Validation("", "pool", "must be a finite non-negative number")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = determinism.FromFloat(pool)
	return nil
}

// SetCapacities replaces the contention group capacities
func (s *Session) SetCapacities(capacities map[string]float64) error {
	out := make(map[string]decimal.Decimal, len(capacities))
	for tag, c := range capacities {
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			return errors.Validation("", "group_capacities."+tag, "must be a finite non-negative number")
		}
		out[tag] = determinism.FromFloat(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacities = out
	return nil
}

// Load replaces pool and capacities and ingests the portfolio's projects
func (s *Session) Load(p *types.Portfolio) error {
	if err := s.SetPool(p.Pool); err != nil {
		return err
	}
	if err := s.SetCapacities(p.GroupCapacities); err != nil {
		return err
	}
	_, err := s.Ingest(p.Projects)
	return err
}

// Snapshot copies the current inputs with dependency depths refreshed
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		PortfolioID: s.id,
		Pool:        s.pool,
		Capacities:  make(map[string]decimal.Decimal, len(s.capacities)),
		Signals:     make([]types.ProjectSignal, 0, len(s.signals)),
	}
	for tag, c := range s.capacities {
		snap.Capacities[tag] = c
	}
	for _, id := range determinism.SortedKeys(s.signals) {
		snap.Signals = append(snap.Signals, s.signals[id])
	}

	depths := normalize.DependencyDepths(snap.Signals)
	for i := range snap.Signals {
		snap.Signals[i].DependencyDepth = depths[snap.Signals[i].ID]
	}
	return snap
}

// Score scores a snapshot, reusing cached scores whose inputs barely moved
func (s *Session) Score(snap Snapshot) []types.RiskScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	scores := make([]types.RiskScore, len(snap.Signals))
	rescored, reused := 0, 0
	for i := range snap.Signals {
		sig := &snap.Signals[i]
		var prevScore *types.RiskScore
		var prevSig *types.ProjectSignal
		if c, ok := s.scored[sig.ID]; ok {
			prevScore, prevSig = &c.score, &c.signal
		}
		score, fresh := s.comps.Scorer.Rescore(prevScore, prevSig, sig)
		if fresh {
			rescored++
			s.scored[sig.ID] = scoredSignal{signal: *sig, score: score}
		} else {
			reused++
		}
		scores[i] = score
	}
	s.comps.Observer.Scored(s.id, rescored, reused)
	return scores
}

// Optimize runs one solve under the session's queue policy and records the
// result. Under supersede, a newer request makes this one return
// errors.ErrSuperseded without recording anything.
func (s *Session) Optimize(ctx context.Context) (*types.Recommendation, error) {
	startedAt := time.Now()
	logger := s.logger.With(zap.String("run", uuid.NewString()))

	gen := s.enter()
	s.comps.Observer.QueueDepth(s.id, s.queue.depth()+1)
	if err := s.queue.acquire(ctx); err != nil {
		if errors.IsType(err, errors.TypeSuperseded) {
			s.finish(OutcomeSuperseded, startedAt, optimizer.Stats{})
		}
		return nil, err
	}
	defer func() {
		s.queue.release()
		s.comps.Observer.QueueDepth(s.id, s.queue.depth())
	}()

	solveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.claim(gen, cancel) {
		s.finish(OutcomeSuperseded, startedAt, optimizer.Stats{})
		return nil, errors.ErrSuperseded
	}

	guard := guards.NewRunGuard()
	guard.MarkBuilding()
	snap := s.Snapshot()
	g, err := graph.Build(snap.Signals, snap.Capacities, snap.Pool)
	if err != nil {
		guard.MarkFailed()
		s.finish(OutcomeFailed, startedAt, optimizer.Stats{})
		logger.Warn("constraint graph rejected", zap.Error(err))
		return nil, err
	}

	guard.MarkScoring()
	scores := s.Score(snap)

	guard.MarkSolving()
	prev, err := s.comps.History.Latest(s.id)
	if err != nil && !errors.IsType(err, errors.TypeNotFound) {
		guard.MarkFailed()
		s.finish(OutcomeFailed, startedAt, optimizer.Stats{})
		return nil, err
	}

	res, err := s.comps.Optimizer.Solve(solveCtx, optimizer.Request{
		PortfolioID: s.id,
		Scores:      scores,
		Graph:       g,
		Previous:    prev,
	})
	if err != nil {
		outcome := OutcomeFailed
		if errors.IsType(err, errors.TypeInfeasible) {
			guard.MarkInfeasible()
			outcome = OutcomeInfeasible
		} else {
			guard.MarkFailed()
		}
		s.finish(outcome, startedAt, optimizer.Stats{})
		logger.Warn("solve failed", zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}

	if !s.current(gen) {
		guard.MarkFailed()
		s.finish(OutcomeSuperseded, startedAt, res.Stats)
		logger.Info("solve superseded")
		return nil, errors.ErrSuperseded
	}
	guard.MarkSolved()

	// A timed-out solve still yields its best feasible result; the sink
	// applies its own query timeout
	stored, err := s.comps.History.Append(context.WithoutCancel(ctx), res.Recommendation)
	if err != nil {
		s.finish(OutcomeFailed, startedAt, res.Stats)
		return nil, err
	}

	outcome := OutcomeSolved
	if stored.Status == types.RunPartial {
		outcome = OutcomePartial
	}
	s.finish(outcome, startedAt, res.Stats)
	s.mu.Lock()
	s.solved = scores
	s.mu.Unlock()
	s.publish(stored, types.NewScoreSet(scores))

	logger.Info("recommendation recorded",
		zap.Int64("version", stored.Version),
		zap.String("digest", stored.Digest),
		zap.String("status", string(stored.Status)),
	)
	return stored, nil
}

// enter registers a request. Under supersede it cancels the running solve
// and drops every queued one.
func (s *Session) enter() uint64 {
	if s.cfg.QueuePolicy != QueueSupersede {
		return 0
	}
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if n := s.queue.supersedeWaiters(); n > 0 {
		s.logger.Debug("queued solves superseded", zap.Int("count", n))
	}
	return gen
}

// claim installs the cancel function of the solve about to run
func (s *Session) claim(gen uint64, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.QueuePolicy == QueueSupersede && gen != s.generation {
		return false
	}
	s.cancel = cancel
	return true
}

func (s *Session) current(gen uint64) bool {
	if s.cfg.QueuePolicy != QueueSupersede {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

func (s *Session) finish(outcome string, startedAt time.Time, stats optimizer.Stats) {
	s.comps.Observer.SolveFinished(s.id, outcome, time.Since(startedAt), stats)
}

func (s *Session) publish(rec *types.Recommendation, scores types.ScoreSet) {
	s.updates.Publish(rec.Clone())
	for _, a := range alertsFor(rec, scores, s.cfg.HighRiskThreshold, rec.RecordedAt) {
		s.alerts.add(a)
	}
}

// Subscribe streams every recorded recommendation of this portfolio
func (s *Session) Subscribe() (<-chan *types.Recommendation, func()) {
	return s.updates.Subscribe()
}

// Latest returns the newest recorded recommendation
func (s *Session) Latest() (*types.Recommendation, error) {
	return s.comps.History.Latest(s.id)
}

// SolvedScores returns the risk scores the latest recorded recommendation
// of this session was solved with, in project ID order
func (s *Session) SolvedScores() []types.RiskScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.RiskScore(nil), s.solved...)
}

// Alerts returns the retained alerts of this portfolio, oldest first
func (s *Session) Alerts() []Alert {
	return s.alerts.recent(s.id)
}
