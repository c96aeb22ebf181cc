// Package main is the entry point for the portfolio-optimizer CLI.
package main

import (
	"os"

	"portfolio-optimizer/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
