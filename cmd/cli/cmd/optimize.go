// Package cmd - optimize command
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"portfolio-optimizer/core/explanation"
	"portfolio-optimizer/core/output"
	"portfolio-optimizer/core/ui"
	"portfolio-optimizer/internal/config"
	"portfolio-optimizer/internal/logging"
)

var (
	persist    bool
	withScores bool
	withDiff   bool
	timeout    time.Duration
)

// optimizeCmd represents the optimize command
var optimizeCmd = &cobra.Command{
	Use:   "optimize <path>...",
	Short: "Recommend an allocation for one or more portfolios",
	Long: `Load portfolios from files or directories, score every project and
recommend how to split each resource pool.

Files may be json, yaml or hcl. A directory loads every recognized file in it.

Examples:
  portfolio-optimizer optimize portfolio.yaml
  portfolio-optimizer optimize --scores --format json growth.json
  portfolio-optimizer optimize --persist --diff ./portfolios`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOptimize,
}

func init() {
	optimizeCmd.Flags().BoolVar(&persist, "persist", false, "record recommendations in the configured store")
	optimizeCmd.Flags().BoolVar(&withScores, "scores", false, "include per-project risk scores")
	optimizeCmd.Flags().BoolVar(&withDiff, "diff", false, "compare with the previous recorded version")
	optimizeCmd.Flags().DurationVar(&timeout, "timeout", 0, "solve time limit per portfolio (default from config)")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()

	a, err := newApp(ctx, persist)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.Load(ctx, args...)
	if err != nil {
		return err
	}

	limit := timeout
	if limit == 0 {
		limit = config.Get().Server.SolveTimeout
	}

	status := newWriter(cmd.ErrOrStderr())
	var progress *ui.ProgressBar
	var spinner *ui.Spinner
	if len(ids) > 1 {
		progress = status.NewProgressBar(len(ids), "optimizing")
	} else {
		spinner = status.NewSpinner("optimizing " + ids[0])
		spinner.Start()
	}

	reports := make([]*output.Report, 0, len(ids))
	var firstErr error
	for _, id := range ids {
		session, _ := a.Registry.Session(id)

		solveCtx, cancel := context.WithTimeout(ctx, limit)
		rec, err := session.Optimize(solveCtx)
		cancel()
		if progress != nil {
			progress.Increment()
		}
		if spinner != nil {
			spinner.Stop(err == nil)
		}
		if err != nil {
			logging.Error("optimization failed", zap.String("portfolio", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		status.Debug("%s: version %d %s, %d components", id, rec.Version, rec.Status, len(rec.Components))

		report := &output.Report{Recommendation: rec, Metadata: output.Metadata{Source: id}}
		if withScores {
			report.Scores = session.SolvedScores()
		}
		if withDiff && rec.Version > 1 {
			if prev, err := a.History.Get(id, rec.Version-1); err == nil {
				diff := explanation.Diff(prev, rec)
				report.Diff = &diff
			}
		}
		reports = append(reports, report)
	}
	if progress != nil {
		progress.Done()
	}

	for i, report := range reports {
		mark := time.Time{}
		if i == len(reports)-1 {
			mark = started
		}
		if err := render(cmd, report, mark); err != nil {
			return err
		}
	}
	return firstErr
}
