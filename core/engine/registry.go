package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/history"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
	"portfolio-optimizer/internal/logging"
)

// Registry holds one session per portfolio. Sessions share pipeline
// components but no mutable state.
type Registry struct {
	cfg   Config
	comps Components

	mu       sync.RWMutex
	sessions map[string]*Session

	alerts *alertLog
}

// Outcome is the result of one portfolio in OptimizeAll
type Outcome struct {
	PortfolioID    string
	Recommendation *types.Recommendation
	Err            error
}

// NewRegistry creates a registry. Normalizer, Scorer and Optimizer are required.
func NewRegistry(cfg Config, comps Components) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if comps.Normalizer == nil || comps.Scorer == nil || comps.Optimizer == nil {
		return nil, errors.Config("normalizer, scorer and optimizer are required", nil)
	}
	if comps.History == nil {
		comps.History = history.NewLog()
	}
	if comps.Observer == nil {
		comps.Observer = NopObserver{}
	}
	comps.Logger = logging.Named(logging.OrNop(comps.Logger), "engine")

	return &Registry{
		cfg:      cfg,
		comps:    comps,
		sessions: make(map[string]*Session),
		alerts:   newAlertLog(cfg.AlertRetention),
	}, nil
}

// Open returns the session of a portfolio, creating it when missing
func (r *Registry) Open(portfolioID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[portfolioID]; ok {
		return s
	}
	s := newSession(portfolioID, r.cfg, r.comps, r.alerts)
	r.sessions[portfolioID] = s
	return s
}

// Session returns an existing session
func (r *Registry) Session(portfolioID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[portfolioID]
	return s, ok
}

// Load opens the session of a portfolio and loads its inputs
func (r *Registry) Load(p *types.Portfolio) (*Session, error) {
	if p.ID == "" {
		return nil, errors.Validation("", "id", "portfolio id is required")
	}
	s := r.Open(p.ID)
	if err := s.Load(p); err != nil {
		r.Discard(p.ID)
		return nil, err
	}
	return s, nil
}

// Discard removes a session that holds no projects. It reports whether the
// session was removed.
func (r *Registry) Discard(portfolioID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[portfolioID]
	if !ok || s.size() > 0 {
		return false
	}
	delete(r.sessions, portfolioID)
	return true
}

// IDs returns every portfolio ID in ascending order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return determinism.SortedKeys(r.sessions)
}

// History returns the shared recommendation log
func (r *Registry) History() *history.Log {
	return r.comps.History
}

// Alerts streams high-risk alerts from every portfolio
func (r *Registry) Alerts() (<-chan Alert, func()) {
	return r.alerts.feed.Subscribe()
}

// OptimizeAll solves every portfolio with bounded concurrency. A failing
// portfolio does not affect the others; its error is carried on its outcome.
func (r *Registry) OptimizeAll(ctx context.Context) ([]Outcome, error) {
	ids := r.IDs()
	outcomes := make([]Outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrentPortfolios)
	for i, id := range ids {
		i, id := i, id
		s, _ := r.Session(id)
		g.Go(func() error {
			rec, err := s.Optimize(gctx)
			outcomes[i] = Outcome{PortfolioID: id, Recommendation: rec, Err: err}
			if err != nil {
				r.comps.Logger.Warn("portfolio solve failed", zap.String("portfolio", id), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

// alertLog keeps recent alerts per portfolio and streams new ones
type alertLog struct {
	mu        sync.Mutex
	retention int
	recentBy  map[string][]Alert
	feed      *Broadcaster[Alert]
}

func newAlertLog(retention int) *alertLog {
	return &alertLog{
		retention: retention,
		recentBy:  make(map[string][]Alert),
		feed:      NewBroadcaster[Alert](64),
	}
}

func (l *alertLog) add(a Alert) {
	l.mu.Lock()
	list := append(l.recentBy[a.PortfolioID], a)
	if over := len(list) - l.retention; over > 0 {
		list = append([]Alert(nil), list[over:]...)
	}
	l.recentBy[a.PortfolioID] = list
	l.mu.Unlock()

	l.feed.Publish(a)
}

func (l *alertLog) recent(portfolioID string) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Alert(nil), l.recentBy[portfolioID]...)
}
