// Package guards_test - Phase ordering tests
// These tests INTENTIONALLY try to skip phases to ensure enforcement works.
package guards_test

import (
	"strings"
	"testing"

	"portfolio-optimizer/core/guards"
)

func TestRunGuardHappyPath(t *testing.T) {
	g := guards.NewRunGuard()
	g.MarkBuilding()
	g.MarkScoring()
	g.MarkSolving()
	g.MarkSolved()

	g.AssertPhase(guards.PhaseSolved)
	if !g.Phase().IsFinal() {
		t.Errorf("solved should be final")
	}

	want := []guards.Phase{
		guards.PhaseIdle, guards.PhaseBuilding, guards.PhaseScoring,
		guards.PhaseSolving, guards.PhaseSolved,
	}
	got := g.History()
	if len(got) != len(want) {
		t.Fatalf("history length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunGuardIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		fn   func(g *guards.RunGuard)
	}{
		{
			name: "SolveWithoutBuild",
			fn:   func(g *guards.RunGuard) { g.MarkSolving() },
		},
		{
			name: "ScoreTwice",
			fn: func(g *guards.RunGuard) {
				g.MarkBuilding()
				g.MarkScoring()
				g.MarkScoring()
			},
		},
		{
			name: "InfeasibleBeforeSolving",
			fn: func(g *guards.RunGuard) {
				g.MarkBuilding()
				g.MarkInfeasible()
			},
		},
		{
			name: "LeaveFinalPhase",
			fn: func(g *guards.RunGuard) {
				g.MarkBuilding()
				g.MarkFailed()
				g.MarkScoring()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if r == nil {
					t.Errorf("%s did not panic", tt.name)
					return
				}
				msg, ok := r.(string)
				if !ok || !strings.HasPrefix(msg, "INVARIANT VIOLATED") {
					t.Errorf("%s panicked with wrong message: %v", tt.name, r)
				}
			}()
			tt.fn(guards.NewRunGuard())
		})
	}
}

func TestAssertPhasePanics(t *testing.T) {
	g := guards.NewRunGuard()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	g.AssertPhase(guards.PhaseSolving)
}
