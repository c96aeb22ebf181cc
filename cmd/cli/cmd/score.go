// Package cmd - score and graph commands
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"portfolio-optimizer/core/engine"
	"portfolio-optimizer/core/graph"
	"portfolio-optimizer/core/output"
	"portfolio-optimizer/internal/app"
	"portfolio-optimizer/internal/errors"
)

// scoreCmd scores projects without allocating
var scoreCmd = &cobra.Command{
	Use:   "score <file>",
	Short: "Score the delivery risk of every project in a portfolio",
	Long: `Normalize a portfolio and print the risk score, confidence interval,
expected return and risk breakdown of every project.

Examples:
  portfolio-optimizer score portfolio.yaml
  portfolio-optimizer score --format json portfolio.hcl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		started := time.Now()
		a, session, err := loadOne(cmd, args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		return render(cmd, &output.Report{
			Scores:   session.Score(session.Snapshot()),
			Metadata: output.Metadata{Source: args[0]},
		}, started)
	},
}

// graphCmd prints the constraint graph
var graphCmd = &cobra.Command{
	Use:   "graph <file>",
	Short: "Show the dependency and contention structure of a portfolio",
	Long: `Build the constraint graph of a portfolio and print its topological
order, independent components, contention groups and blocked projects.

A dependency cycle is reported as an error naming the cycle.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		started := time.Now()
		a, session, err := loadOne(cmd, args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		snap := session.Snapshot()
		g, err := graph.Build(snap.Signals, snap.Capacities, snap.Pool)
		if err != nil {
			return err
		}
		return render(cmd, &output.Report{
			Graph:    output.DescribeGraph(snap.PortfolioID, g),
			Metadata: output.Metadata{Source: args[0]},
		}, started)
	},
}

// loadOne loads a single portfolio file into a fresh, unpersisted pipeline
func loadOne(cmd *cobra.Command, path string) (*app.App, *engine.Session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	ids, err := a.Load(ctx, path)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	if len(ids) == 0 {
		a.Close()
		return nil, nil, errors.Newf(errors.TypeNotFound, "no portfolio found in %s", path)
	}
	session, _ := a.Registry.Session(ids[0])
	return a, session, nil
}
