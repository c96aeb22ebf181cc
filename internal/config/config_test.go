package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-optimizer/core/engine"
	"portfolio-optimizer/internal/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 1.0, cfg.Scoring.Weights.Sum(), 1e-12)
	assert.Equal(t, engine.QueueFIFO, cfg.Engine.QueuePolicy)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, Default().Scoring, cfg.Scoring)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optimizer.yaml")
	body := `
scoring:
  weights:
    schedule: 0.5
    budget: 0.3
    dependency: 0.2
engine:
  queue_policy: supersede
server:
  read_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Scoring.Weights.Schedule)
	assert.Equal(t, engine.QueueSupersede, cfg.Engine.QueuePolicy)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)

	// Untouched keys keep their defaults
	assert.Equal(t, Default().Server.WriteTimeout, cfg.Server.WriteTimeout)
	assert.Equal(t, Default().Optimizer, cfg.Optimizer)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("PORTFOLIO_OPTIMIZER_MAX_ITERATIONS", "7")
	t.Setenv("PORTFOLIO_SERVER_ADDRESS", ":9191")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Optimizer.MaxIterations)
	assert.Equal(t, ":9191", cfg.Server.Address)
}

func TestLoadRejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optimizer.json")
	body := `{"scoring": {"weights": {"schedule": 0.9, "budget": 0.9, "dependency": 0.2}}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	_, err := Load(path)
	assert.True(t, errors.IsType(err, errors.TypeConfig))
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "optimizer.yaml")
	cfg := Default()
	cfg.Engine.HighRiskThreshold = 0.55
	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = "postgres://localhost/portfolio"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.55, loaded.Engine.HighRiskThreshold)
	assert.Equal(t, cfg.Storage, loaded.Storage)
	assert.Equal(t, cfg.Server, loaded.Server)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"driver":   func(c *Config) { c.Storage.Driver = "mongo" },
		"schedule": func(c *Config) { c.Server.Schedule = "every so often" },
		"format":   func(c *Config) { c.Output.DefaultFormat = "xml" },
		"demand":   func(c *Config) { c.Normalize.DefaultDemand = -1 },
		"engine":   func(c *Config) { c.Engine.MaxConcurrentPortfolios = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNormalizeOptionsShareTolerance(t *testing.T) {
	cfg := Default()
	cfg.Scoring.OverrunTolerance = 0.25
	cfg.Normalize.DefaultDemand = 40
	opts := cfg.NormalizeOptions()
	assert.Equal(t, 0.25, opts.OverrunTolerance)
	assert.Equal(t, 40.0, opts.DefaultDemand)
}

func TestGlobalConfig(t *testing.T) {
	orig := Get()
	defer Set(orig)

	cfg := Default()
	cfg.Version = "test"
	Set(cfg)
	assert.Equal(t, "test", Get().Version)
}
