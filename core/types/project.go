// Package types - Project input types
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is the set of projects sharing one resource pool
type Portfolio struct {
	// ID uniquely identifies the portfolio
	ID string `json:"id" yaml:"id"`

	// Pool is the total resource pool in absolute units
	Pool float64 `json:"pool" yaml:"pool"`

	// Currency of declared project values
	Currency Currency `json:"currency,omitempty" yaml:"currency,omitempty"`

	// GroupCapacities maps a resource tag to its sub-pool capacity
	GroupCapacities map[string]float64 `json:"group_capacities,omitempty" yaml:"group_capacities,omitempty"`

	// Projects are the raw project records
	Projects []RawProject `json:"projects" yaml:"projects"`
}

// RawProject is a heterogeneous project record as delivered by the ingestion feed.
// Optional numeric fields are pointers so missing data can be told apart from zero.
type RawProject struct {
	// ID uniquely identifies the project
	ID string `json:"id" yaml:"id"`

	// Status is one of proposed, active, blocked, completed, cancelled
	Status string `json:"status" yaml:"status"`

	// Value is the declared project value in currency units
	Value *float64 `json:"value,omitempty" yaml:"value,omitempty"`

	// BudgetAllocated is the budget assigned to the project
	BudgetAllocated *float64 `json:"budget_allocated,omitempty" yaml:"budget_allocated,omitempty"`

	// BudgetConsumed is the budget spent so far
	BudgetConsumed *float64 `json:"budget_consumed,omitempty" yaml:"budget_consumed,omitempty"`

	// ProgressPercent is reported completion in percent
	ProgressPercent *float64 `json:"progress_percent,omitempty" yaml:"progress_percent,omitempty"`

	// ElapsedDays is the elapsed duration
	ElapsedDays *float64 `json:"elapsed_days,omitempty" yaml:"elapsed_days,omitempty"`

	// EstimatedDays is the estimated total duration
	EstimatedDays *float64 `json:"estimated_days,omitempty" yaml:"estimated_days,omitempty"`

	// DelayHistory holds past delays as a fraction of planned duration
	DelayHistory []float64 `json:"delay_history,omitempty" yaml:"delay_history,omitempty"`

	// TeamSize is the number of people assigned
	TeamSize *float64 `json:"team_size,omitempty" yaml:"team_size,omitempty"`

	// Demand is the most resource units the project can absorb
	Demand *float64 `json:"demand,omitempty" yaml:"demand,omitempty"`

	// MinAllocation is the smallest useful allocation in units
	MinAllocation *float64 `json:"min_allocation,omitempty" yaml:"min_allocation,omitempty"`

	// Mandatory projects must receive a positive allocation
	Mandatory bool `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`

	// ResourceTags name exclusive shared resources (contention groups)
	ResourceTags []string `json:"resource_tags,omitempty" yaml:"resource_tags,omitempty"`

	// Dependencies are IDs of projects that must be allocated before or with this one
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// ObservedAt is the ingestion tick that produced the record
	ObservedAt time.Time `json:"observed_at,omitempty" yaml:"observed_at,omitempty"`
}

// ProjectSignal is the canonical, bounded form of a project record
type ProjectSignal struct {
	ID     string          `json:"id" msgpack:"id"`
	Status Status          `json:"status" msgpack:"status"`
	Value  decimal.Decimal `json:"value" msgpack:"value"`

	BudgetAllocated decimal.Decimal `json:"budget_allocated" msgpack:"budget_allocated"`
	BudgetConsumed  decimal.Decimal `json:"budget_consumed" msgpack:"budget_consumed"`

	// Progress is completion in [0,1]
	Progress decimal.Decimal `json:"progress" msgpack:"progress"`

	ElapsedDays   decimal.Decimal `json:"elapsed_days" msgpack:"elapsed_days"`
	EstimatedDays decimal.Decimal `json:"estimated_days" msgpack:"estimated_days"`

	// DelayVariance is the sample variance of the delay history
	DelayVariance decimal.Decimal `json:"delay_variance" msgpack:"delay_variance"`

	// HistorySamples is the number of historical delay observations
	HistorySamples int `json:"history_samples" msgpack:"history_samples"`

	TeamSize int `json:"team_size" msgpack:"team_size"`

	// Dependencies is sorted and free of duplicates and self references
	Dependencies []string `json:"dependencies,omitempty" msgpack:"dependencies,omitempty"`

	// DependencyDepth is the longest precedence chain below this project
	DependencyDepth int `json:"dependency_depth" msgpack:"dependency_depth"`

	Demand        decimal.Decimal `json:"demand" msgpack:"demand"`
	MinAllocation decimal.Decimal `json:"min_allocation" msgpack:"min_allocation"`
	Mandatory     bool            `json:"mandatory,omitempty" msgpack:"mandatory,omitempty"`

	// ResourceTags is sorted and free of duplicates
	ResourceTags []string `json:"resource_tags,omitempty" msgpack:"resource_tags,omitempty"`

	ObservedAt time.Time `json:"observed_at" msgpack:"observed_at"`

	Anomalies []Anomaly `json:"anomalies,omitempty" msgpack:"anomalies,omitempty"`
}

// HasDependency reports whether id is a declared dependency
func (s *ProjectSignal) HasDependency(id string) bool {
	for _, d := range s.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// SignalSet indexes signals by project ID
type SignalSet map[string]*ProjectSignal

// NewSignalSet indexes a slice of signals
func NewSignalSet(signals []ProjectSignal) SignalSet {
	set := make(SignalSet, len(signals))
	for i := range signals {
		set[signals[i].ID] = &signals[i]
	}
	return set
}
