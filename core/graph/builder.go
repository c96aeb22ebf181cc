package graph

import (
	"fmt"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/determinism"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

// Build creates a sealed constraint graph.
// Every declared dependency is checked for cycles, including those between
// projects that are no longer allocatable.
func Build(signals []types.ProjectSignal, capacities map[string]decimal.Decimal, pool decimal.Decimal) (*ConstraintGraph, error) {
	if pool.IsNegative() {
		return nil, errors.Validation("", "pool", "must be non-negative")
	}

	owned := append([]types.ProjectSignal(nil), signals...)
	all := make(map[string]*types.ProjectSignal, len(owned))
	for i := range owned {
		all[owned[i].ID] = &owned[i]
	}

	if cycle := findCycle(all); cycle != nil {
		return nil, &errors.CyclicDependencyError{Cycle: cycle}
	}

	g := &ConstraintGraph{
		pool:          pool,
		signals:       make(map[string]*types.ProjectSignal),
		edges:         make(map[string][]string),
		reverseEdges:  make(map[string][]string),
		groups:        make(map[string]*ContentionGroup),
		projectGroups: make(map[string][]string),
		blocked:       make(map[string]Block),
		componentOf:   make(map[string]int),
	}

	for _, id := range determinism.SortedKeys(all) {
		sig := all[id]
		if sig.Status.IsTerminal() {
			continue
		}
		g.nodes = append(g.nodes, id)
		g.signals[id] = sig
	}

	for _, id := range g.nodes {
		for _, dep := range g.signals[id].Dependencies {
			if g.HasNode(dep) {
				g.edges[id] = append(g.edges[id], dep)
				g.reverseEdges[dep] = append(g.reverseEdges[dep], id)
			}
		}
	}

	g.topoOrder = g.topologicalSort()
	g.markBlocked(all)
	g.buildGroups(capacities)
	g.buildComponents()

	return g, nil
}

// findCycle runs a depth-first traversal with visited and in-progress marks.
// The returned cycle starts at its smallest ID.
func findCycle(all map[string]*types.ProjectSignal) []string {
	visited := make(map[string]bool)
	inProgress := make(map[string]bool)
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		if inProgress[id] {
			for i, p := range path {
				if p == id {
					cycle = append([]string(nil), path[i:]...)
					break
				}
			}
			return true
		}
		if visited[id] {
			return false
		}
		sig, ok := all[id]
		if !ok {
			return false
		}

		inProgress[id] = true
		path = append(path, id)
		for _, dep := range sig.Dependencies {
			if visit(dep) {
				return true
			}
		}
		path = path[:len(path)-1]
		inProgress[id] = false
		visited[id] = true
		return false
	}

	for _, id := range determinism.SortedKeys(all) {
		if visit(id) {
			return rotateToSmallest(cycle)
		}
	}
	return nil
}

func rotateToSmallest(cycle []string) []string {
	start := 0
	for i, id := range cycle {
		if id < cycle[start] {
			start = i
		}
	}
	return append(append([]string(nil), cycle[start:]...), cycle[:start]...)
}

// topologicalSort orders nodes so dependencies come first
func (g *ConstraintGraph) topologicalSort() []string {
	visited := make(map[string]bool)
	order := make([]string, 0, len(g.nodes))

	var visit func(n string)
	visit = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, dep := range g.edges[n] {
			visit(dep)
		}
		order = append(order, n)
	}

	for _, n := range g.nodes {
		visit(n)
	}
	return order
}

// markBlocked records status blocks and propagates dependency blocks
// along precedence edges
func (g *ConstraintGraph) markBlocked(all map[string]*types.ProjectSignal) {
	for _, id := range g.topoOrder {
		sig := g.signals[id]
		if sig.Status == types.StatusBlocked {
			g.blocked[id] = Block{ProjectID: id, Reason: BlockStatus, Detail: "project is blocked"}
			continue
		}
		for _, dep := range sig.Dependencies {
			if b, ok := g.unmet(dep, all); ok {
				b.ProjectID = id
				g.blocked[id] = b
				break
			}
		}
	}
}

// unmet reports whether a dependency blocks its dependent.
// Completed dependencies are satisfied.
func (g *ConstraintGraph) unmet(dep string, all map[string]*types.ProjectSignal) (Block, bool) {
	depSig, known := all[dep]
	switch {
	case !known:
		return Block{Reason: BlockDependency, Blocker: dep, Detail: "dependency is unknown"}, true
	case depSig.Status == types.StatusCompleted:
		return Block{}, false
	case depSig.Status == types.StatusCancelled:
		return Block{Reason: BlockDependency, Blocker: dep, Detail: "dependency is cancelled"}, true
	}
	if upstream, ok := g.blocked[dep]; ok {
		detail := "dependency is blocked"
		if upstream.Reason == BlockDependency {
			detail = fmt.Sprintf("dependency is blocked by %s", upstream.Blocker)
		}
		return Block{Reason: BlockDependency, Blocker: dep, Detail: detail}, true
	}
	return Block{}, false
}

// buildGroups creates contention groups from resource tags.
// Capacity is clamped to the pool; a missing capacity means the whole pool.
func (g *ConstraintGraph) buildGroups(capacities map[string]decimal.Decimal) {
	for _, id := range g.nodes {
		for _, tag := range g.signals[id].ResourceTags {
			grp, ok := g.groups[tag]
			if !ok {
				capacity := g.pool
				if c, set := capacities[tag]; set {
					capacity = determinism.Round(determinism.Clamp(c, decimal.Zero, g.pool))
				}
				grp = &ContentionGroup{Tag: tag, Capacity: capacity}
				g.groups[tag] = grp
			}
			grp.Members = append(grp.Members, id)
			g.projectGroups[id] = append(g.projectGroups[id], tag)
		}
	}
}

// buildComponents joins nodes linked by precedence or shared groups
func (g *ConstraintGraph) buildComponents() {
	parent := make(map[string]string, len(g.nodes))
	for _, n := range g.nodes {
		parent[n] = n
	}
	var find func(string) string
	find = func(n string) string {
		if parent[n] != n {
			parent[n] = find(parent[n])
		}
		return parent[n]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	for _, n := range g.nodes {
		for _, dep := range g.edges[n] {
			union(n, dep)
		}
	}
	for _, tag := range sortedTags(g.groups) {
		members := g.groups[tag].Members
		for _, m := range members[1:] {
			union(members[0], m)
		}
	}

	byRoot := make(map[string]int)
	for _, n := range g.nodes {
		root := find(n)
		i, ok := byRoot[root]
		if !ok {
			i = len(g.components)
			byRoot[root] = i
			g.components = append(g.components, Component{ID: n})
		}
		c := &g.components[i]
		c.Members = append(c.Members, n)
		c.Groups = append(c.Groups, g.projectGroups[n]...)
		g.componentOf[n] = i
	}
	for i := range g.components {
		g.components[i].Groups = determinism.SortedUnique(g.components[i].Groups)
	}
}

func sortedTags(groups map[string]*ContentionGroup) []string {
	return determinism.SortedKeys(groups)
}
