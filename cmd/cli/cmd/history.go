// Package cmd - history commands
package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"portfolio-optimizer/core/explanation"
	"portfolio-optimizer/core/output"
	"portfolio-optimizer/internal/app"
	"portfolio-optimizer/internal/errors"
)

// historyCmd groups commands over the recorded recommendation history
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded recommendations",
	Long: `Read the recommendation history from the configured store.

Examples:
  portfolio-optimizer history list
  portfolio-optimizer history list growth
  portfolio-optimizer history show growth 3
  portfolio-optimizer history diff growth 2 3
  portfolio-optimizer history verify`,
}

var historyListCmd = &cobra.Command{
	Use:   "list [portfolio]",
	Short: "List portfolios, or the versions of one portfolio",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 {
			for _, id := range a.History.Portfolios() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}
		versions := a.History.List(args[0])
		if len(versions) == 0 {
			return errors.NotFound("portfolio", args[0])
		}
		return render(cmd, &output.Report{Versions: versions}, time.Time{})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <portfolio> [version]",
	Short: "Show a recorded recommendation (latest by default)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.History.Latest(args[0])
		if len(args) == 2 {
			var v int64
			if v, err = parseVersion(args[1]); err != nil {
				return err
			}
			rec, err = a.History.Get(args[0], v)
		}
		if err != nil {
			return err
		}
		return render(cmd, &output.Report{Recommendation: rec}, time.Time{})
	},
}

var historyDiffCmd = &cobra.Command{
	Use:   "diff <portfolio> <from> <to>",
	Short: "Explain what changed between two versions",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseVersion(args[1])
		if err != nil {
			return err
		}
		to, err := parseVersion(args[2])
		if err != nil {
			return err
		}

		a, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		base, err := a.History.Get(args[0], from)
		if err != nil {
			return err
		}
		next, err := a.History.Get(args[0], to)
		if err != nil {
			return err
		}
		diff := explanation.Diff(base, next)
		return render(cmd, &output.Report{Diff: &diff}, time.Time{})
	},
}

var historyVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that no recorded recommendation was altered",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if bad := a.History.VerifyIntegrity(); len(bad) > 0 {
			for _, b := range bad {
				fmt.Fprintln(cmd.ErrOrStderr(), b)
			}
			return errors.Newf(errors.TypeStorage, "%d records failed verification", len(bad))
		}
		newWriter(cmd.OutOrStdout()).Success("history verified")
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDiffCmd)
	historyCmd.AddCommand(historyVerifyCmd)
}

// openHistory opens the configured store and restores its history
func openHistory(cmd *cobra.Command) (*app.App, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, true)
	if err != nil {
		return nil, err
	}
	if a.Store == nil {
		a.Close()
		return nil, errors.Config("no storage driver configured", nil)
	}
	return a, nil
}

func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 1 {
		return 0, errors.Validation("", "version", "must be a positive integer")
	}
	return v, nil
}
