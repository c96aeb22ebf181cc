package engine

import (
	"fmt"

	"portfolio-optimizer/internal/errors"
)

// QueuePolicy decides what happens to a solve request while another runs
type QueuePolicy string

const (
	// QueueFIFO serves requests one at a time in arrival order
	QueueFIFO QueuePolicy = "fifo"

	// QueueSupersede cancels the running and queued requests in favour of the newest
	QueueSupersede QueuePolicy = "supersede"
)

// ParseQueuePolicy parses a policy string
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch p := QueuePolicy(s); p {
	case QueueFIFO, QueueSupersede:
		return p, nil
	}
	return "", fmt.Errorf("unknown queue policy %q", s)
}

// Config contains session and registry settings
type Config struct {
	QueuePolicy QueuePolicy `json:"queue_policy" mapstructure:"queue_policy"`

	// MaxConcurrentPortfolios bounds OptimizeAll fan-out
	MaxConcurrentPortfolios int `json:"max_concurrent_portfolios" mapstructure:"max_concurrent_portfolios"`

	// HighRiskThreshold raises an alert for funded projects at or above it
	HighRiskThreshold float64 `json:"high_risk_threshold" mapstructure:"high_risk_threshold"`

	// AlertRetention is the number of recent alerts kept per portfolio
	AlertRetention int `json:"alert_retention" mapstructure:"alert_retention"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		QueuePolicy:             QueueFIFO,
		MaxConcurrentPortfolios: 4,
		HighRiskThreshold:       0.7,
		AlertRetention:          100,
	}
}

// Validate checks engine settings
func (c Config) Validate() error {
	if _, err := ParseQueuePolicy(string(c.QueuePolicy)); err != nil {
		return errors.Config("invalid queue_policy", err)
	}
	if c.MaxConcurrentPortfolios < 1 {
		return errors.Config("max_concurrent_portfolios must be at least 1", nil)
	}
	if c.HighRiskThreshold < 0 || c.HighRiskThreshold > 1 {
		return errors.Config("high_risk_threshold must be in [0, 1]", nil)
	}
	if c.AlertRetention < 0 {
		return errors.Config("alert_retention must be non-negative", nil)
	}
	return nil
}
