package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/twscreener/internal/scoring"
	"github.com/aristath/twscreener/internal/screener"
)

var (
	rankLimit    int
	rankMinScore float64
	rankWeights  string
	rankMethod   string

	listMarket     string
	listIndustry   string
	listLimit      int
	listMinScore   float64
	listShowScores bool
	listExport     string
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank the universe by composite factor score",
	Long: `Score every ticker with data across the five factors (valuation, growth,
quality, chips, momentum), compose the weighted total and print the ranking.

Examples:
  twscreener rank --limit=20
  twscreener rank --weights=1,0,0,0,0             # valuation only
  twscreener rank --method=percentile --minScore=60`,
	RunE: runRank,
}

var explainCmd = &cobra.Command{
	Use:   "explain <ticker>",
	Short: "Explain one ticker's score and rank position",
	Args:  cobra.ExactArgs(1),
	RunE:  runExplain,
}

var listStocksCmd = &cobra.Command{
	Use:   "list-stocks",
	Short: "List the stock catalog, optionally with scores",
	RunE:  runListStocks,
}

func init() {
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(listStocksCmd)

	rankCmd.Flags().IntVar(&rankLimit, "limit", 0, "Maximum rows (0 = all)")
	rankCmd.Flags().Float64Var(&rankMinScore, "minScore", 0, "Minimum total score")
	rankCmd.Flags().StringVar(&rankWeights, "weights", "", "Factor weights: valuation,growth,quality,chips,momentum")
	rankCmd.Flags().StringVar(&rankMethod, "method", "", "Ranking method: zscore|percentile|rolling")

	explainCmd.Flags().StringVar(&rankWeights, "weights", "", "Factor weights: valuation,growth,quality,chips,momentum")
	explainCmd.Flags().StringVar(&rankMethod, "method", "", "Ranking method: zscore|percentile|rolling")

	listStocksCmd.Flags().StringVar(&listMarket, "market", "", "Filter by market (上市|上櫃|興櫃)")
	listStocksCmd.Flags().StringVar(&listIndustry, "industry", "", "Filter by industry")
	listStocksCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum rows (0 = all)")
	listStocksCmd.Flags().Float64Var(&listMinScore, "min-score", 0, "Minimum total score (implies scoring)")
	listStocksCmd.Flags().BoolVar(&listShowScores, "show-scores", false, "Join each row with its current score")
	listStocksCmd.Flags().StringVar(&listExport, "export", "", "Write to stdout as csv|json instead of a table")
}

// scoringFlags parses the shared --weights/--method pair.
func scoringFlags() (scoring.Config, error) {
	cfg := scoring.DefaultConfig()

	weights, err := scoring.ParseWeights(rankWeights)
	if err != nil {
		return cfg, err
	}
	cfg.Weights = weights

	method, err := scoring.ParseMethod(rankMethod)
	if err != nil {
		return cfg, err
	}
	cfg.Method = method
	return cfg, nil
}

func runRank(cmd *cobra.Command, args []string) error {
	cfg, err := scoringFlags()
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	scores, err := a.screener().Rank(cfg, screener.RankOptions{
		Limit:    rankLimit,
		MinScore: rankMinScore,
	})
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		fmt.Println("No scored tickers; run update first")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTICKER\tTOTAL\tVALUE\tGROWTH\tQUALITY\tCHIPS\tMOMENTUM\tMISSING")
	for i, s := range scores {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			i+1, s.Ticker, s.Total, s.Valuation, s.Growth, s.Quality, s.Chips, s.Momentum,
			strings.Join(s.Missing, ","))
	}
	return w.Flush()
}

func runExplain(cmd *cobra.Command, args []string) error {
	cfg, err := scoringFlags()
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	exp, err := a.screener().Explain(args[0], cfg)
	if err != nil {
		return err
	}

	if exp.Stock != nil {
		fmt.Printf("%s %s (%s, %s)\n", exp.Stock.Ticker, exp.Stock.Name, exp.Stock.Market, exp.Stock.Industry)
	}
	if exp.Rank > 0 {
		fmt.Printf("Rank %d of %d\n\n", exp.Rank, exp.Of)
	} else {
		fmt.Printf("Unranked (no factor data); %d tickers scored\n\n", exp.Of)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "total\t%.2f\n", exp.Score.Total)
	fmt.Fprintf(w, "valuation\t%.2f\n", exp.Score.Valuation)
	fmt.Fprintf(w, "growth\t%.2f\n", exp.Score.Growth)
	fmt.Fprintf(w, "quality\t%.2f\n", exp.Score.Quality)
	fmt.Fprintf(w, "chips\t%.2f\n", exp.Score.Chips)
	fmt.Fprintf(w, "momentum\t%.2f\n", exp.Score.Momentum)
	if len(exp.Score.Missing) > 0 {
		fmt.Fprintf(w, "missing\t%s\n", strings.Join(exp.Score.Missing, ", "))
	}
	return w.Flush()
}

func runListStocks(cmd *cobra.Command, args []string) error {
	cfg := scoring.DefaultConfig()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.screener().ListStocks(cfg, screener.ListOptions{
		Market:     listMarket,
		Industry:   listIndustry,
		Limit:      listLimit,
		MinScore:   listMinScore,
		ShowScores: listShowScores,
	})
	if err != nil {
		return err
	}

	switch listExport {
	case "csv":
		return screener.ExportCSV(os.Stdout, rows)
	case "json":
		return screener.ExportJSON(os.Stdout, rows)
	case "":
	default:
		return fmt.Errorf("unknown export format %q (csv|json)", listExport)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tNAME\tINDUSTRY\tMARKET\tTOTAL")
	for _, row := range rows {
		total := "-"
		if row.Score != nil {
			total = fmt.Sprintf("%.2f", row.Score.Total)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.Ticker, row.Name, row.Industry, row.Market, total)
	}
	return w.Flush()
}
