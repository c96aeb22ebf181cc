// Package guards - Runtime assertion guards
// These assertions PANIC if violated - there is no recovery.
package guards

import (
	"fmt"
	"sync"
)

// Phase is a stage of an optimization run
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseBuilding   Phase = "building"
	PhaseScoring    Phase = "scoring"
	PhaseSolving    Phase = "solving"
	PhaseSolved     Phase = "solved"
	PhaseInfeasible Phase = "infeasible"
	PhaseFailed     Phase = "failed"
)

// IsFinal reports whether no further transition is allowed
func (p Phase) IsFinal() bool {
	return p == PhaseSolved || p == PhaseInfeasible || p == PhaseFailed
}

// transitions lists the legal successors of each phase
var transitions = map[Phase][]Phase{
	PhaseIdle:     {PhaseBuilding},
	PhaseBuilding: {PhaseScoring, PhaseFailed},
	PhaseScoring:  {PhaseSolving, PhaseFailed},
	PhaseSolving:  {PhaseSolved, PhaseInfeasible, PhaseFailed},
}

// RunGuard enforces the phase order of a single optimization run
type RunGuard struct {
	mu      sync.Mutex
	phase   Phase
	history []Phase
}

// NewRunGuard creates a guard in the idle phase
func NewRunGuard() *RunGuard {
	return &RunGuard{phase: PhaseIdle, history: []Phase{PhaseIdle}}
}

// Phase returns the current phase
func (g *RunGuard) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// History returns every phase entered so far, in order
func (g *RunGuard) History() []Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Phase(nil), g.history...)
}

// MarkBuilding marks the input snapshot and graph build as started
func (g *RunGuard) MarkBuilding() { g.advance(PhaseBuilding) }

// MarkScoring marks the graph as built
func (g *RunGuard) MarkScoring() { g.advance(PhaseScoring) }

// MarkSolving marks scoring as complete
func (g *RunGuard) MarkSolving() { g.advance(PhaseSolving) }

// MarkSolved marks the run as finished with an allocation
func (g *RunGuard) MarkSolved() { g.advance(PhaseSolved) }

// MarkInfeasible marks the run as finished without a valid allocation
func (g *RunGuard) MarkInfeasible() { g.advance(PhaseInfeasible) }

// MarkFailed marks the run as aborted by an input error
func (g *RunGuard) MarkFailed() { g.advance(PhaseFailed) }

// AssertPhase asserts the run is in the given phase
func (g *RunGuard) AssertPhase(p Phase) {
	if cur := g.Phase(); cur != p {
		panic(fmt.Sprintf("ASSERTION FAILED: run is %s, expected %s", cur, p))
	}
}

func (g *RunGuard) advance(next Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, allowed := range transitions[g.phase] {
		if allowed == next {
			g.phase = next
			g.history = append(g.history, next)
			return
		}
	}
	panic(fmt.Sprintf("INVARIANT VIOLATED: run cannot move from %s to %s", g.phase, next))
}
