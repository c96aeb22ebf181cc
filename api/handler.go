// Package api - Request handlers
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"portfolio-optimizer/core/engine"
	"portfolio-optimizer/core/explanation"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 8 << 20

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":     "healthy",
		"version":    s.version,
		"portfolios": len(s.registry.IDs()),
		"time":       time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// handleVersion handles GET /version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"version":     s.version,
		"engine":      "portfolio-optimizer",
		"api_version": "v1",
	}, http.StatusOK)
}

// handleSignals handles POST /portfolios/{id}/signals
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	var req SignalsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, errors.Wrap(errors.TypeValidation, "invalid request body", err))
		return
	}

	id := chi.URLParam(r, "id")
	_, existed := s.registry.Session(id)
	session := s.registry.Open(id)
	fail := func(err error) {
		if !existed {
			s.registry.Discard(id)
		}
		s.writeError(w, r, err)
	}
	if req.Pool != nil {
		if err := session.SetPool(*req.Pool); err != nil {
			fail(err)
			return
		}
	}
	if req.GroupCapacities != nil {
		if err := session.SetCapacities(req.GroupCapacities); err != nil {
			fail(err)
			return
		}
	}

	signals, err := session.Ingest(req.Projects)
	if err != nil {
		fail(err)
		return
	}
	session.Remove(req.Remove...)

	resp := SignalsResponse{
		PortfolioID: session.ID(),
		Ingested:    len(signals),
		Removed:     len(req.Remove),
		Total:       len(session.Snapshot().Signals),
	}
	for _, sig := range signals {
		resp.Anomalies = append(resp.Anomalies, sig.Anomalies...)
	}
	s.writeJSON(w, resp, http.StatusAccepted)
}

// handleOptimize handles POST /portfolios/{id}/optimize
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rec, err := session.Optimize(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, RecommendationResponse{
		Recommendation: rec,
		Metadata: &ResponseMetadata{
			RequestID:     RequestIDFrom(r.Context()),
			EngineVersion: s.version,
			DurationMs:    time.Since(start).Milliseconds(),
		},
	}, http.StatusOK)
}

// handleHistory handles GET /portfolios/{id}/recommendations
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.writeJSON(w, HistoryResponse{
		PortfolioID: id,
		Versions:    s.registry.History().List(id),
	}, http.StatusOK)
}

// handleLatest handles GET /portfolios/{id}/recommendations/latest
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.History().Latest(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, RecommendationResponse{Recommendation: rec}, http.StatusOK)
}

// handleVersionGet handles GET /portfolios/{id}/recommendations/{version}
func (s *Server) handleVersionGet(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(chi.URLParam(r, "version"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.registry.History().Get(chi.URLParam(r, "id"), version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, RecommendationResponse{Recommendation: rec}, http.StatusOK)
}

// handleDiff handles GET /portfolios/{id}/recommendations/{version}/diff?from=N.
// from defaults to the preceding version.
func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, err := parseVersion(chi.URLParam(r, "version"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from := version - 1
	if q := r.URL.Query().Get("from"); q != "" {
		if from, err = parseVersion(q); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	log := s.registry.History()
	to, err := log.Get(id, version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	base, err := log.Get(id, from)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, DiffResponse{Diff: explanation.Diff(base, to)}, http.StatusOK)
}

// handleAlerts handles GET /portfolios/{id}/alerts
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	alerts := session.Alerts()
	if alerts == nil {
		alerts = []engine.Alert{}
	}
	s.writeJSON(w, AlertsResponse{PortfolioID: session.ID(), Alerts: alerts}, http.StatusOK)
}

// session resolves the {id} parameter to an existing session
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	id := chi.URLParam(r, "id")
	session, ok := s.registry.Session(id)
	if !ok {
		s.writeError(w, r, errors.NotFound("portfolio", id))
		return nil, false
	}
	return session, true
}

func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 1 {
		return 0, errors.Validation("", "version", "must be a positive integer")
	}
	return v, nil
}

// latestOf returns the latest recommendation or nil when none exists
func (s *Server) latestOf(id string) *types.Recommendation {
	rec, err := s.registry.History().Latest(id)
	if err != nil {
		return nil
	}
	return rec
}
