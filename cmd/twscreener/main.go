// Package main is the twscreener command line entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the twscreener CLI
var rootCmd = &cobra.Command{
	Use:   "twscreener",
	Short: "Taiwan stock market screener and back-tester",
	Long: `twscreener ingests Taiwan stock market data (prices, valuation multiples,
monthly revenue, quarterly financials, institutional flows) from TWSE with a
FinMind fallback, stores normalized time series in local SQLite databases,
scores the universe across five factors, and back-tests top-N portfolios
under a realistic cost model.

Typical workflow:
  twscreener update-stock-list        # refresh the listed/OTC catalog
  twscreener update                   # pull all factors for the universe
  twscreener rank --limit=20          # current composite ranking
  twscreener backtest --start=2022-01-01 --top=10`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
