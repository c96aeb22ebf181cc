package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-optimizer/internal/config"
	"portfolio-optimizer/internal/errors"
)

const portfolioJSON = `{
  "id": "growth",
  "pool": 100,
  "projects": [
    {"id": "a", "status": "active", "value": 500, "budget_allocated": 100, "budget_consumed": 20,
     "progress_percent": 30, "elapsed_days": 20, "estimated_days": 60, "delay_history": [0.1, 0.2],
     "team_size": 3, "demand": 60},
    {"id": "b", "status": "proposed", "value": 300, "budget_allocated": 80, "budget_consumed": 0,
     "progress_percent": 0, "elapsed_days": 0, "estimated_days": 30, "delay_history": [0.05, 0.1],
     "team_size": 2, "demand": 50, "dependencies": ["a"]}
  ]
}`

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func writePortfolio(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "growth.json"), []byte(portfolioJSON), 0o644))
	return dir
}

func TestPersistedHistorySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	dir := writePortfolio(t)

	first, err := New(ctx, cfg, Options{Persist: true, Metrics: true})
	require.NoError(t, err)
	ids, err := first.Load(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"growth"}, ids)

	outcomes, err := first.Registry.OptimizeAll(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.NotNil(t, first.Metrics)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg, Options{Persist: true})
	require.NoError(t, err)
	defer second.Close()

	latest, err := second.History.Latest("growth")
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Version)
	assert.Equal(t, outcomes[0].Recommendation.Digest, latest.Digest)
	assert.Empty(t, second.History.VerifyIntegrity())
}

func TestWithoutPersistenceNothingIsStored(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	assert.Nil(t, a.Store)
	assert.Nil(t, a.Metrics)
	assert.NoError(t, a.Close())

	_, err = os.Stat(cfg.Storage.DSN)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadRejectsMissingPath(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), Options{})
	require.NoError(t, err)

	_, err = a.Load(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	assert.True(t, errors.IsType(err, errors.TypeNotFound))
}
