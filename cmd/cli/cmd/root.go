// Package cmd provides the CLI commands for portfolio-optimizer.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"portfolio-optimizer/core/output"
	"portfolio-optimizer/core/ui"
	"portfolio-optimizer/internal/app"
	"portfolio-optimizer/internal/config"
	"portfolio-optimizer/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile      string
	verbose      bool
	outputFormat string
	noColor      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "portfolio-optimizer",
	Short: "Score project risk and recommend resource allocations",
	Long: `portfolio-optimizer scores the delivery risk of every project in a
portfolio and recommends how to split a shared resource pool across them.

Every recommendation comes with a per-project rationale naming the
constraint that bound it, and is recorded in a versioned history.

Examples:
  portfolio-optimizer optimize portfolio.yaml
  portfolio-optimizer optimize --persist --format json ./portfolios
  portfolio-optimizer score portfolio.hcl
  portfolio-optimizer history diff growth 3 4`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (json, yaml or toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	config.Set(cfg)

	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// newApp builds the pipeline from the loaded configuration
func newApp(ctx context.Context, persist bool) (*app.App, error) {
	return app.New(ctx, config.Get(), app.Options{Persist: persist, Logger: logging.Logger})
}

// newWriter returns a terminal writer honoring --no-color and --verbose
func newWriter(out io.Writer) *ui.Writer {
	w := ui.NewWriter(out, noColor)
	if verbose {
		w.SetVerbosity(2)
	}
	return w
}

// render prints a report in the selected format
func render(cmd *cobra.Command, report *output.Report, started time.Time) error {
	cfg := config.Get()
	format := outputFormat
	if format == "" {
		format = cfg.Output.DefaultFormat
	}
	f, err := output.NewRegistry(output.TableOptions{
		ShowRationale: cfg.Output.ShowRationale,
		NoColor:       noColor,
	}).Get(format)
	if err != nil {
		return err
	}

	report.Metadata.Timestamp = time.Now().UTC().Format(time.RFC3339)
	report.Metadata.Version = Version
	if !started.IsZero() {
		report.Metadata.Duration = time.Since(started).Round(time.Millisecond).String()
	}
	return f.Render(cmd.OutOrStdout(), report)
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "portfolio-optimizer version %s\n", Version)
	},
}
