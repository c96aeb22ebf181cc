package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-optimizer/core/output"
)

const growth = `id: growth
pool: 100
projects:
  - id: a
    status: active
    value: 500
    budget_allocated: 100
    budget_consumed: 20
    progress_percent: 30
    elapsed_days: 20
    estimated_days: 60
    delay_history: [0.1, 0.2]
    team_size: 3
    demand: 60
  - id: b
    status: proposed
    value: 300
    budget_allocated: 80
    estimated_days: 30
    delay_history: [0.05, 0.1]
    team_size: 2
    demand: 50
    dependencies: [a]
`

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PORTFOLIO_STORAGE_DSN", filepath.Join(dir, "history.db"))
	t.Setenv("PORTFOLIO_LOGGING_LEVEL", "error")
	path := filepath.Join(dir, "growth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(growth), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeWithStderr(t, args...)
	return out, err
}

func executeWithStderr(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cfgFile, verbose, outputFormat, noColor = "", false, "", true
	persist, withScores, withDiff, timeout, forceInit = false, false, false, 0, false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestOptimizeJSON(t *testing.T) {
	path := setup(t)

	out, err := execute(t, "optimize", "--scores", "--format", "json", path)
	require.NoError(t, err)

	var report output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotNil(t, report.Recommendation)
	assert.Equal(t, "growth", report.Recommendation.PortfolioID)
	assert.Len(t, report.Scores, 2)
	assert.Equal(t, Version, report.Metadata.Version)
	assert.NotEmpty(t, report.Metadata.Duration)
}

func TestOptimizeReportsProgress(t *testing.T) {
	path := setup(t)

	_, stderr, err := executeWithStderr(t, "optimize", "--format", "json", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "✓ optimizing growth")
	assert.NotContains(t, stderr, "growth: version 1")

	_, stderr, err = executeWithStderr(t, "optimize", "-v", "--format", "json", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "growth: version 1 solved")
}

func TestOptimizeScoresMatchSolve(t *testing.T) {
	path := setup(t)

	out, err := execute(t, "optimize", "--scores", "--format", "json", path)
	require.NoError(t, err)
	var report output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Scores, 2)
	assert.Equal(t, "a", report.Scores[0].ProjectID)
	assert.Equal(t, "b", report.Scores[1].ProjectID)
}

func TestOptimizeTable(t *testing.T) {
	path := setup(t)

	out, err := execute(t, "optimize", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Recommendation: growth v1")
	assert.Contains(t, out, "Summary")
}

func TestPersistedHistoryCommands(t *testing.T) {
	path := setup(t)

	_, err := execute(t, "optimize", "--persist", path)
	require.NoError(t, err)
	out, err := execute(t, "optimize", "--persist", "--diff", "--format", "json", path)
	require.NoError(t, err)
	var second output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &second))
	assert.Equal(t, int64(2), second.Recommendation.Version)
	require.NotNil(t, second.Diff)
	assert.Equal(t, int64(1), second.Diff.FromVersion)

	out, err = execute(t, "history", "list")
	require.NoError(t, err)
	assert.Equal(t, "growth\n", out)

	out, err = execute(t, "history", "list", "--format", "json", "growth")
	require.NoError(t, err)
	var listed output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed.Versions, 2)

	out, err = execute(t, "history", "show", "--format", "json", "growth", "1")
	require.NoError(t, err)
	var shown output.Report
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, int64(1), shown.Recommendation.Version)

	out, err = execute(t, "history", "diff", "growth", "1", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1 → 2")

	out, err = execute(t, "history", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ history verified")

	_, err = execute(t, "history", "show", "growth", "zero")
	assert.Error(t, err)
}

func TestGraphAndScore(t *testing.T) {
	path := setup(t)

	out, err := execute(t, "graph", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Constraint Graph: growth")
	assert.Contains(t, out, "a → b")

	out, err = execute(t, "score", "--format", "yaml", path)
	require.NoError(t, err)
	assert.Contains(t, out, "scores:")
	assert.Contains(t, out, "project_id: a")
}

func TestConfigInit(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ wrote "+path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err)
	_, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "portfolio-optimizer version "+Version+"\n", out)
}
