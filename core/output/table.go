package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-optimizer/core/explanation"
	"portfolio-optimizer/core/history"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/core/ui"
)

// TableOptions control human-readable output
type TableOptions struct {
	ShowRationale bool
	NoColor       bool
}

// TableFormatter renders reports for a terminal
type TableFormatter struct {
	opts TableOptions
}

// NewTableFormatter creates a table formatter
func NewTableFormatter(opts TableOptions) *TableFormatter {
	return &TableFormatter{opts: opts}
}

// Format implements Formatter
func (f *TableFormatter) Format() Format { return FormatTable }

// Render implements Formatter
func (f *TableFormatter) Render(w io.Writer, report *Report) error {
	out := ui.NewWriter(w, f.opts.NoColor)

	if len(report.Scores) > 0 {
		f.renderScores(out, report.Scores)
	}
	if report.Graph != nil {
		f.renderGraph(out, report.Graph)
	}
	if rec := report.Recommendation; rec != nil {
		f.renderRecommendation(out, rec, report.Scores)
	}
	if report.Diff != nil {
		f.renderDiff(out, report.Diff)
	}
	if len(report.Versions) > 0 {
		f.renderVersions(out, report.Versions)
	}

	if report.Metadata.Duration != "" {
		out.Line("")
		out.Line(out.Styles().Muted.Render("completed in " + report.Metadata.Duration))
	}
	return nil
}

func (f *TableFormatter) renderScores(out *ui.Writer, scores []types.RiskScore) {
	out.Header("Risk Scores")
	tbl := out.NewTable("Project", "Risk", "Interval", "Expected Return", "Schedule", "Budget", "Dependency").
		AlignRight(3, 4, 5, 6)
	for _, s := range scores {
		if s.Unscored {
			tbl.AddRow(s.ProjectID, "unscored", s.UnscoredReason)
			continue
		}
		tbl.AddRow(
			s.ProjectID,
			out.RiskLevel(s.Risk.InexactFloat64()),
			fmt.Sprintf("[%s, %s]", s.Confidence.Low.StringFixed(2), s.Confidence.High.StringFixed(2)),
			s.ExpectedReturn.StringFixed(2),
			s.Components.Schedule.StringFixed(2),
			s.Components.Budget.StringFixed(2),
			s.Components.Dependency.StringFixed(2),
		)
	}
	tbl.Render()
}

func (f *TableFormatter) renderGraph(out *ui.Writer, g *GraphReport) {
	out.Header("Constraint Graph: " + g.PortfolioID)
	out.Info("order: %s", strings.Join(g.Order, " → "))
	out.Line("")

	comps := out.NewTable("Component", "Members", "Groups")
	for _, c := range g.Components {
		comps.AddRow(c.ID, strings.Join(c.Members, ", "), strings.Join(c.Groups, ", "))
	}
	comps.Render()

	if len(g.Groups) > 0 {
		out.SubHeader("Contention groups")
		groups := out.NewTable("Tag", "Capacity", "Members").AlignRight(1)
		for _, grp := range g.Groups {
			groups.AddRow(grp.Tag, grp.Capacity.String(), strings.Join(grp.Members, ", "))
		}
		groups.Render()
	}

	for _, b := range g.Blocked {
		if b.Blocker == "" {
			out.Warning("%s is blocked (%s)", b.ProjectID, b.Reason)
			continue
		}
		out.Warning("%s is blocked by %s (%s, %s)", b.ProjectID, b.Blocker, b.Reason, b.Detail)
	}
}

func (f *TableFormatter) renderRecommendation(out *ui.Writer, rec *types.Recommendation, scores []types.RiskScore) {
	title := "Recommendation: " + rec.PortfolioID
	if rec.Version > 0 {
		title += fmt.Sprintf(" v%d", rec.Version)
	}
	out.Header(title)

	risk := types.NewScoreSet(scores)
	tbl := out.NewTable("Project", "Units", "Share", "Demand", "Density", "Binding").AlignRight(1, 2, 3, 4)
	if len(risk) > 0 {
		tbl = out.NewTable("Project", "Units", "Share", "Demand", "Density", "Risk", "Binding").AlignRight(1, 2, 3, 4)
	}
	for _, r := range rec.Rationale {
		row := []string{
			r.ProjectID,
			r.Units.StringFixed(2),
			percent(r.Fraction),
			r.Demand.StringFixed(2),
			r.Density.StringFixed(4),
		}
		if len(risk) > 0 {
			if s, ok := risk[r.ProjectID]; ok && !s.Unscored {
				row = append(row, out.RiskLevel(s.Risk.InexactFloat64()))
			} else {
				row = append(row, "-")
			}
		}
		tbl.AddRow(append(row, string(r.Binding))...)
	}
	tbl.Render()

	if f.opts.ShowRationale {
		out.Line("")
		out.SubHeader("Rationale")
		for _, r := range rec.Rationale {
			out.Line(fmt.Sprintf("  %s: %s", out.Styles().Bold.Render(r.ProjectID), r.Text))
		}
	}

	s := rec.Summary
	out.Line("")
	out.Box(
		out.Styles().Title.Render("Summary"),
		fmt.Sprintf("Status:                %s", rec.Status),
		fmt.Sprintf("Allocated:             %s of %s", s.AllocatedUnits.StringFixed(2), rec.Allocation.Pool.StringFixed(2)),
		fmt.Sprintf("Expected return:       %s", s.TotalExpectedReturn.StringFixed(2)),
		fmt.Sprintf("Risk-adjusted return:  %s", s.RiskAdjustedReturn.StringFixed(2)),
		fmt.Sprintf("Aggregate risk:        %s", out.RiskLevel(s.AggregateRisk.InexactFloat64())),
		fmt.Sprintf("Quality gap:           %s", percent(s.Quality.Gap)),
	)
	if s.Text != "" {
		out.Line(s.Text)
	}

	if len(s.Trimmed) > 0 {
		out.Warning("trimmed below minimum allocation: %s", strings.Join(s.Trimmed, ", "))
	}
	if len(s.Unscored) > 0 {
		out.Warning("excluded for insufficient data: %s", strings.Join(s.Unscored, ", "))
	}
	for _, a := range rec.Anomalies {
		out.Warning("%s: %s", a.ProjectID, a.String())
	}
	if rec.Status == types.RunPartial {
		out.Warning("solve was interrupted; this is the best feasible allocation found")
	}
}

func (f *TableFormatter) renderDiff(out *ui.Writer, d *explanation.VersionDiff) {
	view := out.NewAllocationDiff(fmt.Sprintf("Changes: %s v%d → v%d", d.PortfolioID, d.FromVersion, d.ToVersion))
	for _, p := range d.Projects {
		item := ui.DiffItem{
			ProjectID:  p.ProjectID,
			OldUnits:   p.OldUnits.StringFixed(2),
			NewUnits:   p.NewUnits.StringFixed(2),
			Change:     p.Delta.Abs().StringFixed(2),
			IsIncrease: p.Delta.IsPositive(),
		}
		if !item.IsIncrease {
			item.Change = "-" + item.Change
		}
		for _, c := range p.Changes {
			item.Reasons = append(item.Reasons, fmt.Sprintf("%s: %s → %s", c.Attribute, c.OldValue, c.NewValue))
		}
		switch p.ChangeType {
		case explanation.ChangeFunded:
			view.Funded = append(view.Funded, item)
		case explanation.ChangeDefunded:
			view.Defunded = append(view.Defunded, item)
		case explanation.ChangeIncreased, explanation.ChangeDecreased:
			view.Changed = append(view.Changed, item)
		}
	}
	view.Total = d.Text
	view.Render()
}

func (f *TableFormatter) renderVersions(out *ui.Writer, versions []history.Entry) {
	out.Header("History: " + versions[0].PortfolioID)
	tbl := out.NewTable("Version", "Recorded", "Status", "Digest").AlignRight(0)
	for _, v := range versions {
		digest := v.Digest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		tbl.AddRow(fmt.Sprintf("%d", v.Version), v.RecordedAt.Format(time.RFC3339), string(v.Status), digest)
	}
	tbl.Render()
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}
