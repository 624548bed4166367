package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/twscreener/internal/batch"
	"github.com/aristath/twscreener/internal/pipeline"
)

var (
	updateForce   bool
	updateFactors string
	updateStocks  string
	updateDays    int
	updateClean   bool
	updateStatus  bool

	fetchStocks    string
	fetchDays      int
	fetchPriceType string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update all factor data for the stock universe",
	Long: `Run the full fetch pipeline over the stock list: prices, valuation
multiples, monthly revenue growth, quarterly quality metrics, institutional
fund flow and momentum indicators. Interrupted runs resume from the progress
ledger; a provider quota stop is not an error.

Examples:
  twscreener update
  twscreener update --factors=price,valuation --stocks=2330,2317
  twscreener update --status`,
	RunE: runUpdate,
}

var updateStockListCmd = &cobra.Command{
	Use:   "update-stock-list",
	Short: "Refresh the listed/OTC ticker catalog",
	RunE:  runUpdateStockList,
}

var fetchPriceCmd = &cobra.Command{
	Use:   "fetch-price",
	Short: "Fetch daily price bars (and optionally valuation multiples)",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch fetchPriceType {
		case "price":
			return runFetch([]string{"price"})
		case "valuation":
			return runFetch([]string{"valuation"})
		case "both":
			return runFetch([]string{"price", "valuation"})
		}
		return fmt.Errorf("unknown fetch type %q (price|valuation|both)", fetchPriceType)
	},
}

var fetchGrowthCmd = &cobra.Command{
	Use:   "fetch-growth",
	Short: "Fetch monthly revenue growth metrics",
	RunE:  func(cmd *cobra.Command, args []string) error { return runFetch([]string{"growth"}) },
}

var fetchQualityCmd = &cobra.Command{
	Use:   "fetch-quality",
	Short: "Fetch quarterly financial quality metrics",
	RunE:  func(cmd *cobra.Command, args []string) error { return runFetch([]string{"quality"}) },
}

var fetchFundFlowCmd = &cobra.Command{
	Use:   "fetch-fund-flow",
	Short: "Fetch three-legged institutional trading flows",
	RunE:  func(cmd *cobra.Command, args []string) error { return runFetch([]string{"fundflow"}) },
}

var fetchMomentumCmd = &cobra.Command{
	Use:   "fetch-momentum",
	Short: "Compute technical momentum indicators from stored bars",
	RunE:  func(cmd *cobra.Command, args []string) error { return runFetch([]string{"momentum"}) },
}

func init() {
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(updateStockListCmd)
	rootCmd.AddCommand(fetchPriceCmd)
	rootCmd.AddCommand(fetchGrowthCmd)
	rootCmd.AddCommand(fetchQualityCmd)
	rootCmd.AddCommand(fetchFundFlowCmd)
	rootCmd.AddCommand(fetchMomentumCmd)

	updateCmd.Flags().BoolVar(&updateForce, "force", false, "Refetch even when fresh rows exist")
	updateCmd.Flags().StringVar(&updateFactors, "factors", "", "Comma-separated factors (default: all)")
	updateCmd.Flags().StringVar(&updateStocks, "stocks", "", "Comma-separated tickers (default: full stock list)")
	updateCmd.Flags().IntVar(&updateDays, "days", 0, "Lookback window in days (default: per-factor)")
	updateCmd.Flags().BoolVar(&updateClean, "clean", false, "Discard progress ledgers before running")
	updateCmd.Flags().BoolVar(&updateStatus, "status", false, "Show progress ledgers and exit")

	updateStockListCmd.Flags().BoolVar(&updateForce, "force", false, "Refresh even when the catalog is fresh")

	for _, c := range []*cobra.Command{fetchPriceCmd, fetchGrowthCmd, fetchQualityCmd, fetchFundFlowCmd, fetchMomentumCmd} {
		c.Flags().StringVar(&fetchStocks, "stocks", "", "Comma-separated tickers (default: full stock list)")
		c.Flags().IntVar(&fetchDays, "days", 0, "Lookback window in days (default: per-factor)")
	}
	fetchPriceCmd.Flags().StringVar(&fetchPriceType, "type", "both", "What to fetch: price|valuation|both")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	a.shutdown.Listen()

	updater, err := a.updater()
	if err != nil {
		return err
	}

	if updateStatus {
		printStatus(updater.Status())
		return nil
	}

	opts := pipeline.Options{
		Factors: splitCSV(updateFactors),
		Tickers: splitCSV(updateStocks),
		Days:    updateDays,
		Force:   updateForce,
		Clean:   updateClean,
	}
	results, err := updater.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func runUpdateStockList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	a.shutdown.Listen()

	svc, err := a.universe()
	if err != nil {
		return err
	}

	n, err := svc.Refresh(updateForce)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("Stock list is fresh, nothing to do (use --force to refresh anyway)")
		return nil
	}
	fmt.Printf("Stock list refreshed: %d tickers\n", n)
	return nil
}

// runFetch runs the update pipeline for a fixed factor subset. Shared by the
// per-factor fetch verbs.
func runFetch(factors []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	a.shutdown.Listen()

	updater, err := a.updater()
	if err != nil {
		return err
	}

	results, err := updater.Run(context.Background(), pipeline.Options{
		Factors: factors,
		Tickers: splitCSV(fetchStocks),
		Days:    fetchDays,
	})
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func printResults(results map[string]batch.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FACTOR\tOK\tFAILED\tSKIPPED\tDURATION")
	for _, factor := range pipeline.Factors {
		r, ok := results[factor]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
			factor, len(r.Successful), len(r.Failed), len(r.Skipped), r.Duration.Round(10*time.Millisecond))
		if r.QuotaExceeded {
			fmt.Fprintf(w, "%s\t(provider quota exhausted, remaining factors skipped)\n", factor)
		}
	}
	w.Flush()
}

func printStatus(status map[string]*batch.TaskProgress) {
	if len(status) == 0 {
		fmt.Println("No pending progress ledgers")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FACTOR\tPROCESSED\tFAILED\tQUOTA\tLAST UPDATE")
	for _, factor := range pipeline.Factors {
		p, ok := status[factor]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d/%d\t%d\t%v\t%s\n",
			factor, len(p.Processed), p.Total, len(p.Failed), p.QuotaExceeded,
			p.LastUpdated.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
