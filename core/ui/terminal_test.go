package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableRendersHeadersAndRows(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	tbl := w.NewTable("Project", "Units").AlignRight(1)
	tbl.AddRow("alpha", "120")
	tbl.AddRow("beta")
	tbl.Render()

	out := buf.String()
	assert.Equal(t, 2, tbl.Len())
	assert.Contains(t, out, "Project")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "120")
	assert.Contains(t, out, "beta")
}

func TestVerbosityFiltersMessages(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	w.Debug("hidden")
	w.Info("shown")
	w.SetVerbosity(0)
	w.Info("quiet")
	w.Warning("still %s", "warned")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "ℹ shown")
	assert.Contains(t, out, "⚠ still warned")
}

func TestRiskLevelMarkers(t *testing.T) {
	w := NewWriter(&bytes.Buffer{}, true)
	assert.Equal(t, "● 0.90", w.RiskLevel(0.9))
	assert.Equal(t, "◐ 0.50", w.RiskLevel(0.5))
	assert.Equal(t, "○ 0.10", w.RiskLevel(0.1))
}

func TestProgressBarCompletes(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	bar := w.NewProgressBar(2, "solving")
	bar.Increment()
	bar.Increment()
	bar.Increment()
	bar.Done()

	out := buf.String()
	assert.Contains(t, out, "50% (1/2)")
	assert.Contains(t, out, "100% (2/2)")
	assert.NotContains(t, out, "(3/2)")
}

func TestAllocationDiffSections(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	d := w.NewAllocationDiff("Allocation Changes")
	d.Funded = []DiffItem{{ProjectID: "a", NewUnits: "40"}}
	d.Changed = []DiffItem{{ProjectID: "b", OldUnits: "10", NewUnits: "5", Change: "-5", Reasons: []string{"binding changed"}}}
	d.Total = "version 1 → 2"
	d.Render()

	out := buf.String()
	assert.Contains(t, out, "Funded (1)")
	assert.Contains(t, out, "+ a: 40")
	assert.Contains(t, out, "b: 10 → 5 (-5)")
	assert.Contains(t, out, "• binding changed")
	assert.NotContains(t, out, "Defunded")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "version 1 → 2"))
}

func TestEmptyDiff(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, true).NewAllocationDiff("Changes").Render()
	assert.Contains(t, buf.String(), "no allocation changes")
}

func TestSpinnerReportsOutcome(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	ok := w.NewSpinner("optimizing growth")
	ok.Start()
	ok.Stop(true)

	failed := w.NewSpinner("optimizing risky")
	failed.Start()
	failed.Stop(false)

	out := buf.String()
	assert.Contains(t, out, "\r✓ optimizing growth\n")
	assert.Contains(t, out, "\r✗ optimizing risky\n")
}

func TestSuccessAndDebugAtHighVerbosity(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)
	w.SetVerbosity(2)

	w.Success("wrote %s", "config.yaml")
	w.Debug("growth: version %d", 3)

	out := buf.String()
	assert.Contains(t, out, "✓ wrote config.yaml")
	assert.Contains(t, out, "  growth: version 3")
}
