// Package types defines core domain types shared across all layers.
// This package contains NO business logic - only type definitions.
package types

// Status is the lifecycle status of a project
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusActive    Status = "active"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusProposed, StatusActive, StatusBlocked, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the project no longer takes part in allocation
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsAllocatable reports whether the project may receive resources
func (s Status) IsAllocatable() bool {
	return s == StatusProposed || s == StatusActive
}

// ParseStatus parses a status string
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.IsValid()
}

// Currency represents a currency code
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

// String returns the string representation
func (c Currency) String() string {
	return string(c)
}

// AnomalyKind classifies how a soft-bound field was repaired
type AnomalyKind string

const (
	// AnomalyClamped means a value was outside its soft bounds and clamped
	AnomalyClamped AnomalyKind = "clamped"

	// AnomalyDefaulted means a missing optional value was defaulted
	AnomalyDefaulted AnomalyKind = "defaulted"
)

// Anomaly records a repaired input field
type Anomaly struct {
	ProjectID string      `json:"project_id" msgpack:"project_id"`
	Field     string      `json:"field" msgpack:"field"`
	Kind      AnomalyKind `json:"kind" msgpack:"kind"`
	Original  string      `json:"original,omitempty" msgpack:"original,omitempty"`
	Applied   string      `json:"applied" msgpack:"applied"`
}

// String returns a short human-readable description
func (a Anomaly) String() string {
	if a.Original == "" {
		return a.Field + " " + string(a.Kind) + " to " + a.Applied
	}
	return a.Field + " " + string(a.Kind) + " from " + a.Original + " to " + a.Applied
}
