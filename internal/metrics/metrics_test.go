package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-optimizer/core/engine"
	"portfolio-optimizer/core/optimizer"
)

func TestSolveFinishedRecordsStats(t *testing.T) {
	r := New()
	r.SolveFinished("pf", engine.OutcomeSolved, 20*time.Millisecond, optimizer.Stats{
		Components:       3,
		ComponentsReused: 2,
		Iterations:       5,
	})
	r.SolveFinished("pf", engine.OutcomeSuperseded, time.Millisecond, optimizer.Stats{})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Solves.WithLabelValues("pf", engine.OutcomeSolved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Superseded))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.ComponentsSolved))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ComponentsReused))
	assert.Equal(t, 2, testutil.CollectAndCount(r.SolveDuration))
}

func TestScoredAndQueueDepth(t *testing.T) {
	r := New()
	r.Scored("pf", 4, 6)
	r.QueueDepth("pf", 2)
	r.QueueDepth("pf", 1)

	assert.Equal(t, 4.0, testutil.ToFloat64(r.ScoresComputed))
	assert.Equal(t, 6.0, testutil.ToFloat64(r.ScoresReused))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Queue.WithLabelValues("pf")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.RecordRequest("/health", http.StatusOK)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `portfolio_http_requests_total{code="200",route="/health"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
