package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/twscreener/internal/backtest"
)

var (
	btStart     string
	btEnd       string
	btRebalance int
	btTop       int
	btMode      string
	btADTV      bool
	btOut       string

	optRebalances string
	optTops       string

	wfWindow int
	wfStep   int

	bootIn         string
	bootIterations int
	bootOut        string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Simulate a top-N momentum portfolio over stored price history",
	Long: `Run the back-test kernel over the local price store: at each rebalance the
cross-section is ranked by trailing 20-bar return, the top-N tickers are
weighted (equal or cap) and repriced under the Taiwan cost model, and the
book is marked to market daily.

Examples:
  twscreener backtest --start=2022-01-01 --top=10
  twscreener backtest --start=2022-01-01 --end=2023-12-31 --rebalance=20 --adtv
  twscreener backtest --start=2022-01-01 --out=equity.json`,
	RunE: runBacktest,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Grid-sweep (top, rebalance) pairs and compare results",
	RunE:  runOptimize,
}

var walkForwardCmd = &cobra.Command{
	Use:   "walk-forward",
	Short: "Evaluate the strategy over rolling windows",
	RunE:  runWalkForward,
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-pnl",
	Short: "Bootstrap a max-drawdown confidence interval from an equity curve",
	Long: `Resample the daily returns of a saved equity curve (the --out artifact of
the backtest verb) with replacement, rebuild equity paths and report the
2.5th/97.5th percentiles of the max-drawdown distribution.`,
	RunE: runBootstrap,
}

func init() {
	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(walkForwardCmd)
	rootCmd.AddCommand(bootstrapCmd)

	for _, c := range []*cobra.Command{backtestCmd, optimizeCmd, walkForwardCmd} {
		c.Flags().StringVar(&btStart, "start", "", "Window start (YYYY-MM-DD)")
		c.Flags().StringVar(&btEnd, "end", "", "Window end (YYYY-MM-DD, default: last bar)")
		c.Flags().StringVar(&btMode, "mode", "equal", "Weighting mode: equal|cap")
		c.Flags().BoolVar(&btADTV, "adtv", false, "Apply the average-daily-turnover liquidity clip")
		c.MarkFlagRequired("start")
	}

	backtestCmd.Flags().IntVar(&btRebalance, "rebalance", 5, "Trading days between rebalances")
	backtestCmd.Flags().IntVar(&btTop, "top", 10, "Portfolio size")
	backtestCmd.Flags().StringVar(&btOut, "out", "", "Write the full result JSON to this path")

	optimizeCmd.Flags().StringVar(&optRebalances, "rebalance", "5,10,20", "Comma-separated rebalance candidates")
	optimizeCmd.Flags().StringVar(&optTops, "top", "5,10,20", "Comma-separated portfolio size candidates")
	optimizeCmd.Flags().StringVar(&btOut, "out", "", "Write the sweep rows JSON to this path")

	walkForwardCmd.Flags().IntVar(&btRebalance, "rebalance", 5, "Trading days between rebalances")
	walkForwardCmd.Flags().IntVar(&btTop, "top", 10, "Portfolio size")
	walkForwardCmd.Flags().IntVar(&wfWindow, "window", 3, "Window length in years")
	walkForwardCmd.Flags().IntVar(&wfStep, "step", 12, "Step in months")
	walkForwardCmd.Flags().StringVar(&btOut, "out", "", "Write the window rows JSON to this path")
	walkForwardCmd.MarkFlagRequired("end")

	bootstrapCmd.Flags().StringVar(&bootIn, "in", "equity.json", "Equity curve file (backtest --out artifact)")
	bootstrapCmd.Flags().IntVar(&bootIterations, "iterations", backtest.DefaultBootstrapIterations, "Resampling iterations")
	bootstrapCmd.Flags().StringVar(&bootOut, "out", "", "Write the CI JSON to this path (default: stdout)")
}

// baseParams builds kernel parameters from the shared flags; the ADTV clip
// needs the loader's turnover lookup.
func baseParams(loader *backtest.Loader) (backtest.Params, error) {
	mode, err := backtest.ParseMode(btMode)
	if err != nil {
		return backtest.Params{}, err
	}

	p := backtest.Params{
		Start:     btStart,
		End:       btEnd,
		Rebalance: btRebalance,
		Top:       btTop,
		Mode:      mode,
		Costs:     backtest.DefaultCostModel(),
	}
	if btADTV {
		p.Clip = &backtest.ADTVClip{Turnover: loader.TurnoverFunc()}
	}
	return p, nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	loader := a.loader()
	p, err := baseParams(loader)
	if err != nil {
		return err
	}

	ranks, prices, err := loader.Load(p)
	if err != nil {
		return err
	}

	res, err := backtest.Run(ranks, prices, p)
	if err != nil {
		return err
	}

	fmt.Printf("Period      %s .. %s (%d trading days)\n", res.Dates[0], res.Dates[len(res.Dates)-1], len(res.Dates))
	fmt.Printf("Final equity %.4f\n", res.Equity[len(res.Equity)-1])
	fmt.Printf("CAGR        %7.2f%%\n", res.CAGR*100)
	fmt.Printf("Sharpe      %7.2f\n", res.Sharpe)
	fmt.Printf("Max drawdown %6.2f%%\n", res.MDD*100)

	if btOut != "" {
		if err := writeJSONFile(btOut, res); err != nil {
			return err
		}
		fmt.Printf("Result written to %s\n", btOut)
	}
	return nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	tops, err := parseIntCSV(optTops)
	if err != nil {
		return fmt.Errorf("invalid --top: %w", err)
	}
	rebals, err := parseIntCSV(optRebalances)
	if err != nil {
		return fmt.Errorf("invalid --rebalance: %w", err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	loader := a.loader()
	base, err := baseParams(loader)
	if err != nil {
		return err
	}
	ranks, prices, err := loader.Load(base)
	if err != nil {
		return err
	}

	rows, err := backtest.Sweep(ranks, prices, base, tops, rebals, a.log)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOP\tREBALANCE\tCAGR\tSHARPE\tMDD")
	for _, row := range rows {
		fmt.Fprintf(w, "%d\t%d\t%.2f%%\t%.2f\t%.2f%%\n",
			row.Top, row.Rebalance, row.CAGR*100, row.Sharpe, row.MDD*100)
	}
	w.Flush()

	if btOut != "" {
		return writeJSONFile(btOut, rows)
	}
	return nil
}

func runWalkForward(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	loader := a.loader()
	base, err := baseParams(loader)
	if err != nil {
		return err
	}

	ranks, prices, err := loader.Load(base)
	if err != nil {
		return err
	}

	rows, err := backtest.WalkForward(ranks, prices, base, wfWindow, wfStep, a.log)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no full %d-year window fits in [%s, %s]", wfWindow, btStart, btEnd)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WINDOW\tCAGR\tSHARPE\tMDD")
	for _, row := range rows {
		fmt.Fprintf(w, "%s .. %s\t%.2f%%\t%.2f\t%.2f%%\n",
			row.Start, row.End, row.CAGR*100, row.Sharpe, row.MDD*100)
	}
	w.Flush()

	if btOut != "" {
		return writeJSONFile(btOut, rows)
	}
	return nil
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(bootIn)
	if err != nil {
		return fmt.Errorf("failed to read equity file: %w", err)
	}

	// Accept either the backtest result artifact or a bare equity array.
	var res backtest.Result
	if err := json.Unmarshal(raw, &res); err != nil || len(res.Equity) == 0 {
		if err := json.Unmarshal(raw, &res.Equity); err != nil {
			return fmt.Errorf("equity file %s is neither a backtest result nor an equity array", bootIn)
		}
	}

	ci, err := backtest.BootstrapMDD(res.Equity, bootIterations, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Max drawdown 95%% CI over %d resamples: [%.2f%%, %.2f%%]\n",
		ci.Iterations, ci.MDDLow*100, ci.MDDHigh*100)
	if bootOut != "" {
		return writeJSONFile(bootOut, ci)
	}
	return nil
}

func writeJSONFile(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func parseIntCSV(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", part)
		}
		if n < 1 {
			return nil, fmt.Errorf("%d is out of range", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return out, nil
}
