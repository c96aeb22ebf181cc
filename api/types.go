// Package api - Request and response types
package api

import (
	"portfolio-optimizer/core/engine"
	"portfolio-optimizer/core/explanation"
	"portfolio-optimizer/core/history"
	"portfolio-optimizer/core/types"
)

// SignalsRequest is the request for POST /portfolios/{id}/signals.
// Pool and capacities are optional; when set they replace the current ones.
type SignalsRequest struct {
	Pool            *float64           `json:"pool,omitempty"`
	GroupCapacities map[string]float64 `json:"group_capacities,omitempty"`
	Projects        []types.RawProject `json:"projects"`
	Remove          []string           `json:"remove,omitempty"`
}

// SignalsResponse reports an accepted ingestion batch
type SignalsResponse struct {
	PortfolioID string          `json:"portfolio_id"`
	Ingested    int             `json:"ingested"`
	Removed     int             `json:"removed"`
	Total       int             `json:"total"`
	Anomalies   []types.Anomaly `json:"anomalies,omitempty"`
}

// RecommendationResponse wraps a recommendation with request metadata
type RecommendationResponse struct {
	Recommendation *types.Recommendation `json:"recommendation"`
	Metadata       *ResponseMetadata     `json:"metadata,omitempty"`
}

// ResponseMetadata contains audit/reproducibility metadata
type ResponseMetadata struct {
	RequestID     string `json:"request_id"`
	EngineVersion string `json:"engine_version"`
	DurationMs    int64  `json:"duration_ms"`
}

// HistoryResponse lists the recorded versions of a portfolio
type HistoryResponse struct {
	PortfolioID string          `json:"portfolio_id"`
	Versions    []history.Entry `json:"versions"`
}

// DiffResponse compares two versions
type DiffResponse struct {
	Diff explanation.VersionDiff `json:"diff"`
}

// AlertsResponse lists retained alerts
type AlertsResponse struct {
	PortfolioID string         `json:"portfolio_id"`
	Alerts      []engine.Alert `json:"alerts"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one error
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Stream message types
const (
	MessageRecommendation = "recommendation"
	MessageAlert          = "alert"
)

// StreamMessage is one websocket frame
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
