package engine

import (
	"sync"
	"time"

	"portfolio-optimizer/core/optimizer"
	"portfolio-optimizer/core/types"
)

// Solve outcomes reported to observers
const (
	OutcomeSolved     = "solved"
	OutcomePartial    = "partial"
	OutcomeInfeasible = "infeasible"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
)

// Observer receives engine events. Implementations must be safe for
// concurrent use.
type Observer interface {
	SolveFinished(portfolioID, outcome string, duration time.Duration, stats optimizer.Stats)
	Scored(portfolioID string, rescored, reused int)
	QueueDepth(portfolioID string, depth int)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) SolveFinished(string, string, time.Duration, optimizer.Stats) {}
func (NopObserver) Scored(string, int, int)                                      {}
func (NopObserver) QueueDepth(string, int)                                       {}

// Alert flags a funded project whose risk reached the alert threshold
type Alert struct {
	PortfolioID string    `json:"portfolio_id"`
	ProjectID   string    `json:"project_id"`
	Version     int64     `json:"version"`
	Risk        string    `json:"risk"`
	Threshold   float64   `json:"threshold"`
	Units       string    `json:"units"`
	RaisedAt    time.Time `json:"raised_at"`
}

// Broadcaster fans values out to subscribers. Slow subscribers miss values
// rather than block publishers.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
	buffer int
}

// NewBroadcaster creates a broadcaster with per-subscriber buffering
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Subscribe returns a receive channel and a cancel function
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers v to every subscriber with buffer room
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// alertsFor lists funded projects at or above the threshold
func alertsFor(rec *types.Recommendation, scores types.ScoreSet, threshold float64, now time.Time) []Alert {
	var out []Alert
	for _, e := range rec.Allocation.Entries {
		if !e.Units.IsPositive() {
			continue
		}
		s, ok := scores[e.ProjectID]
		if !ok || s.Unscored || s.Risk.InexactFloat64() < threshold {
			continue
		}
		out = append(out, Alert{
			PortfolioID: rec.PortfolioID,
			ProjectID:   e.ProjectID,
			Version:     rec.Version,
			Risk:        s.Risk.String(),
			Threshold:   threshold,
			Units:       e.Units.String(),
			RaisedAt:    now,
		})
	}
	return out
}
