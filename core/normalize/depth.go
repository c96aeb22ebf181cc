package normalize

import (
	"portfolio-optimizer/core/types"
)

// DependencyDepths returns the longest dependency chain below each project.
// Dependencies outside the set count as one level. Cycles are cut where they
// close so the traversal always terminates; the graph builder reports them.
func DependencyDepths(signals []types.ProjectSignal) map[string]int {
	index := make(map[string]*types.ProjectSignal, len(signals))
	for i := range signals {
		index[signals[i].ID] = &signals[i]
	}

	depths := make(map[string]int, len(signals))
	inProgress := make(map[string]bool)

	var visit func(id string) int
	visit = func(id string) int {
		if d, ok := depths[id]; ok {
			return d
		}
		sig, ok := index[id]
		if !ok {
			return 0
		}
		if inProgress[id] {
			return 0
		}
		inProgress[id] = true

		depth := 0
		for _, dep := range sig.Dependencies {
			if d := 1 + visit(dep); d > depth {
				depth = d
			}
		}

		delete(inProgress, id)
		depths[id] = depth
		return depth
	}

	for i := range signals {
		visit(signals[i].ID)
	}
	return depths
}
