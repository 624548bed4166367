// Package pipeline orchestrates the per-factor fetch pipelines: it drains a
// ticker set through the batch executor for each requested factor, keeps the
// progress ledgers current so interrupted runs resume, and stops every
// remaining factor once the fallback quota is gone.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/batch"
	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/fetchers"
)

// Factor names in pipeline order. Price runs first so momentum finds bars.
var Factors = []string{"price", "valuation", "growth", "quality", "fundflow", "momentum"}

// windowDays is each factor's default lookback.
var windowDays = map[string]int{
	"price":     365,
	"valuation": 30,
	"growth":    420, // 13 months of revenue plus slack for YoY baselines
	"quality":   420,
	"fundflow":  60,
	"momentum":  365,
}

// Fetchers bundles the six per-factor pipelines.
type Fetchers struct {
	Price     *fetchers.PriceFetcher
	Valuation *fetchers.ValuationFetcher
	Growth    *fetchers.GrowthFetcher
	Quality   *fetchers.QualityFetcher
	FundFlow  *fetchers.FundFlowFetcher
	Momentum  *fetchers.MomentumFetcher
}

// Updater runs factor updates over the stock universe.
type Updater struct {
	fetchers Fetchers
	stocks   *repositories.StockListRepository
	executor *batch.Executor
	tracker  *batch.Tracker
	log      zerolog.Logger
}

// NewUpdater creates a new updater
func NewUpdater(f Fetchers, stocks *repositories.StockListRepository, executor *batch.Executor, tracker *batch.Tracker, log zerolog.Logger) *Updater {
	return &Updater{
		fetchers: f,
		stocks:   stocks,
		executor: executor,
		tracker:  tracker,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// Options configures one update run.
type Options struct {
	Factors []string // empty = all, in pipeline order
	Tickers []string // empty = full stock list
	Days    int      // 0 = per-factor default lookback
	Force   bool     // refetch even when fresh rows exist
	Clean   bool     // discard progress ledgers before running
}

// Run updates the requested factors for the requested tickers. It returns
// per-factor results; a quota stop aborts the remaining factors but is not
// an error, since the progress ledgers make the next run resume.
func (u *Updater) Run(ctx context.Context, opts Options) (map[string]batch.Result, error) {
	factors := opts.Factors
	if len(factors) == 0 {
		factors = Factors
	}

	tickers := opts.Tickers
	if len(tickers) == 0 {
		stocks, err := u.stocks.List("", "")
		if err != nil {
			return nil, fmt.Errorf("failed to load stock list: %w", err)
		}
		for _, s := range stocks {
			tickers = append(tickers, s.Ticker)
		}
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers to update; refresh the stock list first")
	}

	results := make(map[string]batch.Result, len(factors))
	for _, factor := range factors {
		worker, err := u.worker(factor, opts)
		if err != nil {
			return results, err
		}

		task := "fetch-" + factor
		if opts.Clean {
			if err := u.tracker.Clear(task); err != nil {
				return results, err
			}
		}

		remaining, err := u.tracker.Start(task, tickers)
		if err != nil {
			return results, err
		}
		if len(remaining) == 0 {
			u.log.Info().Str("factor", factor).Msg("All tickers already processed")
			results[factor] = batch.Result{}
			_ = u.tracker.Clear(task)
			continue
		}

		result := u.executor.Run(ctx, remaining, u.tracked(task, worker))
		results[factor] = result

		for _, f := range result.Failed {
			if merr := u.tracker.MarkFailed(task, f.Item, f.Err); merr != nil {
				u.log.Warn().Err(merr).Str("task", task).Msg("Failed to record failure")
			}
		}

		if result.QuotaExceeded {
			_ = u.tracker.SetQuotaExceeded(task)
			u.log.Warn().Str("factor", factor).Msg("Quota exhausted, aborting remaining factors")
			break
		}
		if ctx.Err() != nil {
			break
		}
		if len(result.Failed) == 0 && len(result.Skipped) == 0 {
			if err := u.tracker.Clear(task); err != nil {
				u.log.Warn().Err(err).Str("factor", factor).Msg("Failed to clear progress ledger")
			}
		}
	}
	return results, nil
}

// Status returns the progress ledger for each factor task, keyed by factor.
// Factors without a ledger are omitted.
func (u *Updater) Status() map[string]*batch.TaskProgress {
	out := make(map[string]*batch.TaskProgress)
	for _, factor := range Factors {
		if p := u.tracker.Status("fetch-" + factor); p != nil {
			out[factor] = p
		}
	}
	return out
}

// tracked wraps a worker with ledger bookkeeping.
func (u *Updater) tracked(task string, worker func(ctx context.Context, ticker string) error) func(ctx context.Context, ticker string) error {
	return func(ctx context.Context, ticker string) error {
		err := worker(ctx, ticker)
		if err == nil {
			if merr := u.tracker.MarkProcessed(task, ticker); merr != nil {
				u.log.Warn().Err(merr).Str("task", task).Msg("Failed to record progress")
			}
		}
		return err
	}
}

// worker builds the per-ticker fetch closure for one factor.
func (u *Updater) worker(factor string, opts Options) (func(ctx context.Context, ticker string) error, error) {
	days := opts.Days
	if days <= 0 {
		days = windowDays[factor]
	}
	window := fetchers.WindowDays(days)

	switch factor {
	case "price":
		return func(ctx context.Context, ticker string) error {
			_, err := u.fetchers.Price.Fetch(ctx, ticker, window, opts.Force)
			return err
		}, nil
	case "valuation":
		return func(ctx context.Context, ticker string) error {
			_, err := u.fetchers.Valuation.Fetch(ctx, ticker, window, opts.Force)
			return err
		}, nil
	case "growth":
		return func(ctx context.Context, ticker string) error {
			_, err := u.fetchers.Growth.Fetch(ctx, ticker, window, opts.Force)
			return err
		}, nil
	case "quality":
		return func(ctx context.Context, ticker string) error {
			_, err := u.fetchers.Quality.Fetch(ctx, ticker, window, opts.Force)
			return err
		}, nil
	case "fundflow":
		return func(ctx context.Context, ticker string) error {
			_, err := u.fetchers.FundFlow.Fetch(ctx, ticker, window, opts.Force)
			return err
		}, nil
	case "momentum":
		return func(ctx context.Context, ticker string) error {
			_, err := u.fetchers.Momentum.Fetch(ctx, ticker, window, opts.Force)
			return err
		}, nil
	default:
		return nil, fmt.Errorf("unknown factor %q", factor)
	}
}
