// Package graph - Constraint graph over allocatable projects
// Precedence edges must form a DAG; contention groups bound shared sub-pools.
// A graph is sealed at build time and never mutated afterwards.
package graph

import (
	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/types"
)

// BlockReason explains why a node can never be allocated
type BlockReason string

const (
	// BlockStatus means the project itself is blocked
	BlockStatus BlockReason = "status_block"

	// BlockDependency means a hard precedence dependency is unmet
	BlockDependency BlockReason = "dependency_block"
)

// Block records a hard block on a node
type Block struct {
	ProjectID string      `json:"project_id"`
	Reason    BlockReason `json:"reason"`

	// Blocker is the dependency that caused the block, empty for status blocks
	Blocker string `json:"blocker,omitempty"`

	// Detail describes the blocker's state (blocked, cancelled, unknown)
	Detail string `json:"detail,omitempty"`
}

// ContentionGroup is a set of projects competing for one sub-pool
type ContentionGroup struct {
	Tag      string          `json:"tag"`
	Members  []string        `json:"members"`
	Capacity decimal.Decimal `json:"capacity"`
}

// Component is a maximal set of nodes linked by precedence or shared groups.
// Components never share a constraint other than the global pool.
type Component struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
	Groups  []string `json:"groups,omitempty"`
}

// ConstraintGraph is the sealed precedence and contention structure
type ConstraintGraph struct {
	pool decimal.Decimal

	// nodes are allocatable project IDs, sorted
	nodes   []string
	signals map[string]*types.ProjectSignal

	// edges map a node to the nodes it depends on
	edges map[string][]string

	// reverseEdges map a node to the nodes depending on it
	reverseEdges map[string][]string

	groups        map[string]*ContentionGroup
	projectGroups map[string][]string
	blocked       map[string]Block

	topoOrder   []string
	components  []Component
	componentOf map[string]int
}

// Pool returns the total resource pool
func (g *ConstraintGraph) Pool() decimal.Decimal {
	return g.pool
}

// Nodes returns the allocatable project IDs in ascending order
func (g *ConstraintGraph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// HasNode reports whether id is an allocatable node
func (g *ConstraintGraph) HasNode(id string) bool {
	_, ok := g.signals[id]
	return ok
}

// Signal returns the signal behind a node
func (g *ConstraintGraph) Signal(id string) (*types.ProjectSignal, bool) {
	s, ok := g.signals[id]
	return s, ok
}

// Dependencies returns the nodes a node depends on
func (g *ConstraintGraph) Dependencies(id string) []string {
	return append([]string(nil), g.edges[id]...)
}

// Dependents returns the nodes that depend directly on a node
func (g *ConstraintGraph) Dependents(id string) []string {
	return append([]string(nil), g.reverseEdges[id]...)
}

// Ancestors returns every node a node transitively depends on,
// in topological order (dependencies first)
func (g *ConstraintGraph) Ancestors(id string) []string {
	seen := make(map[string]bool)
	g.collect(id, g.edges, seen)
	return g.inTopoOrder(seen)
}

// TransitiveDependents returns every node transitively depending on a node,
// in topological order
func (g *ConstraintGraph) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	g.collect(id, g.reverseEdges, seen)
	return g.inTopoOrder(seen)
}

func (g *ConstraintGraph) collect(id string, adj map[string][]string, seen map[string]bool) {
	for _, next := range adj[id] {
		if !seen[next] {
			seen[next] = true
			g.collect(next, adj, seen)
		}
	}
}

func (g *ConstraintGraph) inTopoOrder(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for _, n := range g.topoOrder {
		if set[n] {
			out = append(out, n)
		}
	}
	return out
}

// TopologicalOrder returns nodes with every dependency before its dependents.
// Ties are broken by ID.
func (g *ConstraintGraph) TopologicalOrder() []string {
	return append([]string(nil), g.topoOrder...)
}

// Groups returns contention groups sorted by tag
func (g *ConstraintGraph) Groups() []ContentionGroup {
	out := make([]ContentionGroup, 0, len(g.groups))
	for _, tag := range sortedTags(g.groups) {
		out = append(out, *g.groups[tag])
	}
	return out
}

// Group returns a contention group by tag
func (g *ConstraintGraph) Group(tag string) (ContentionGroup, bool) {
	grp, ok := g.groups[tag]
	if !ok {
		return ContentionGroup{}, false
	}
	return *grp, true
}

// GroupsOf returns the tags of the groups a node belongs to
func (g *ConstraintGraph) GroupsOf(id string) []string {
	return append([]string(nil), g.projectGroups[id]...)
}

// Blocked returns the hard block on a node
func (g *ConstraintGraph) Blocked(id string) (Block, bool) {
	b, ok := g.blocked[id]
	return b, ok
}

// BlockedSet returns every blocked node in ascending order
func (g *ConstraintGraph) BlockedSet() []Block {
	out := make([]Block, 0, len(g.blocked))
	for _, n := range g.nodes {
		if b, ok := g.blocked[n]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Components returns the independent components ordered by ID
func (g *ConstraintGraph) Components() []Component {
	out := make([]Component, len(g.components))
	for i, c := range g.components {
		out[i] = Component{
			ID:      c.ID,
			Members: append([]string(nil), c.Members...),
			Groups:  append([]string(nil), c.Groups...),
		}
	}
	return out
}

// ComponentOf returns the component containing a node
func (g *ConstraintGraph) ComponentOf(id string) (Component, bool) {
	i, ok := g.componentOf[id]
	if !ok {
		return Component{}, false
	}
	return g.components[i], true
}
