// Package output provides output formatting for recommendations.
// This package produces human and machine-readable outputs.
package output

import (
	"io"
	"sort"
	"sync"

	"portfolio-optimizer/core/explanation"
	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/history"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

// Format represents output format type
type Format string

const (
	// FormatTable is a human-readable CLI table
	FormatTable Format = "table"

	// FormatJSON is machine-readable JSON
	FormatJSON Format = "json"

	// FormatYAML is machine-readable YAML
	FormatYAML Format = "yaml"
)

// Formatter produces output in a specific format
type Formatter interface {
	// Format returns the format type
	Format() Format

	// Render produces output for the given report
	Render(w io.Writer, report *Report) error
}

// Report is everything a command may print. Sections left nil are skipped.
type Report struct {
	// Recommendation is the explained allocation
	Recommendation *types.Recommendation `json:"recommendation,omitempty"`

	// Scores are per-project risk scores, sorted by project ID
	Scores []types.RiskScore `json:"scores,omitempty"`

	// Graph describes the constraint structure
	Graph *GraphReport `json:"graph,omitempty"`

	// Diff compares two recommendation versions
	Diff *explanation.VersionDiff `json:"diff,omitempty"`

	// Versions lists recorded history entries
	Versions []history.Entry `json:"versions,omitempty"`

	// Metadata contains execution context
	Metadata Metadata `json:"metadata"`
}

// Metadata contains execution context
type Metadata struct {
	// Timestamp is when the report was produced
	Timestamp string `json:"timestamp"`

	// Duration is how long the run took
	Duration string `json:"duration,omitempty"`

	// Version is the tool version
	Version string `json:"version"`

	// Source is the input file or store the report was built from
	Source string `json:"source,omitempty"`
}

// GraphReport is the printable form of a constraint graph
type GraphReport struct {
	PortfolioID string                  `json:"portfolio_id"`
	Order       []string                `json:"order"`
	Components  []graph.Component       `json:"components"`
	Groups      []graph.ContentionGroup `json:"groups,omitempty"`
	Blocked     []graph.Block           `json:"blocked,omitempty"`
	Edges       map[string][]string     `json:"edges,omitempty"`
}

// DescribeGraph converts a constraint graph for output
func DescribeGraph(portfolioID string, g *graph.ConstraintGraph) *GraphReport {
	r := &GraphReport{
		PortfolioID: portfolioID,
		Order:       g.TopologicalOrder(),
		Components:  g.Components(),
		Groups:      g.Groups(),
		Blocked:     g.BlockedSet(),
		Edges:       make(map[string][]string),
	}
	for _, id := range g.Nodes() {
		if deps := g.Dependencies(id); len(deps) > 0 {
			r.Edges[id] = deps
		}
	}
	return r
}

// Registry manages formatter registration
type Registry struct {
	mu         sync.RWMutex
	formatters map[Format]Formatter
}

// NewRegistry creates a registry with the table, json and yaml formatters
func NewRegistry(opts TableOptions) *Registry {
	r := &Registry{formatters: make(map[Format]Formatter)}
	_ = r.Register(NewTableFormatter(opts))
	_ = r.Register(&JSONFormatter{Indent: "  "})
	_ = r.Register(&YAMLFormatter{})
	return r
}

// Register adds a formatter to the registry
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.formatters[f.Format()]; exists {
		return errors.Newf(errors.TypeConfig, "formatter %s already registered", f.Format())
	}
	r.formatters[f.Format()] = f
	return nil
}

// Get returns the formatter for a format name
func (r *Registry) Get(format string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formatters[Format(format)]
	if !ok {
		return nil, errors.Validation("", "format", "unknown output format "+format)
	}
	return f, nil
}

// Formats returns the registered format names, sorted
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.formatters))
	for f := range r.formatters {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}
