package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
)

// momentumLookback is the trailing-return horizon used to score the
// cross-section at each rebalance date, in trading bars.
const momentumLookback = 20

// lookbackSlackDays is how far before the window start bars are loaded so the
// first rebalance already has a full lookback.
const lookbackSlackDays = 60

// Loader assembles kernel inputs from the local price store: per-ticker bar
// series over the window plus trailing-momentum ranks at each rebalance step.
type Loader struct {
	stocks *repositories.StockListRepository
	prices *repositories.PriceRepository
	log    zerolog.Logger
}

// NewLoader creates a backtest input loader.
func NewLoader(stocks *repositories.StockListRepository, prices *repositories.PriceRepository, log zerolog.Logger) *Loader {
	return &Loader{
		stocks: stocks,
		prices: prices,
		log:    log.With().Str("component", "backtest-loader").Logger(),
	}
}

// Load pulls every catalog ticker's bars over [start - slack, end] and builds
// a cross-section of ranks for every in-window trading day: a ticker's score
// is its trailing 20-bar return. Ranks cover every day, not just one
// rebalance grid, so sweep cells and walk-forward windows with different
// offsets all find their cross-sections. Tickers without enough history on a
// given date sit that cross-section out; dates where nobody qualifies carry
// no rank entry, so the kernel holds rather than liquidates.
func (l *Loader) Load(p Params) (map[string][]Rank, map[string][]domain.PriceBar, error) {
	stocks, err := l.stocks.List("", "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load stock list: %w", err)
	}
	if len(stocks) == 0 {
		return nil, nil, fmt.Errorf("stock list is empty; run update-stock-list first")
	}

	start, err := time.Parse("2006-01-02", p.Start)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid start date %q: %w", p.Start, err)
	}
	from := start.AddDate(0, 0, -lookbackSlackDays).Format("2006-01-02")
	to := p.End
	if to == "" {
		to = "9999-12-31"
	}

	prices := make(map[string][]domain.PriceBar, len(stocks))
	for _, stock := range stocks {
		bars, err := l.prices.GetRange(stock.Ticker, from, to)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load prices for %s: %w", stock.Ticker, err)
		}
		if len(bars) > 0 {
			prices[stock.Ticker] = bars
		}
	}
	if len(prices) == 0 {
		return nil, nil, fmt.Errorf("no price history in [%s, %s]; run update first", p.Start, to)
	}

	ranks := l.buildRanks(prices, p)
	l.log.Info().
		Int("tickers", len(prices)).
		Int("cross_sections", len(ranks)).
		Msg("Backtest inputs assembled")
	return ranks, prices, nil
}

// TurnoverFunc returns a 20-day average turnover lookup for the ADTV clip.
// Lookup failures count as zero turnover, which excludes the ticker.
func (l *Loader) TurnoverFunc() func(ticker string) float64 {
	return func(ticker string) float64 {
		adtv, err := l.prices.AvgTurnover(ticker, momentumLookback)
		if err != nil {
			return 0
		}
		return adtv
	}
}

// buildRanks walks the in-window calendar and scores each ticker by trailing
// return.
func (l *Loader) buildRanks(prices map[string][]domain.PriceBar, p Params) map[string][]Rank {
	dateSet := make(map[string]bool)
	for _, bars := range prices {
		for _, bar := range bars {
			if bar.Date >= p.Start && (p.End == "" || bar.Date <= p.End) {
				dateSet[bar.Date] = true
			}
		}
	}
	calendar := make([]string, 0, len(dateSet))
	for date := range dateSet {
		calendar = append(calendar, date)
	}
	sort.Strings(calendar)

	// Per-ticker date index for binary search.
	dates := make(map[string][]string, len(prices))
	for ticker, bars := range prices {
		ds := make([]string, len(bars))
		for i, bar := range bars {
			ds[i] = bar.Date
		}
		dates[ticker] = ds
	}

	ranks := make(map[string][]Rank)
	for _, date := range calendar {
		var cross []Rank
		for ticker, ds := range dates {
			// Last bar at or before the cross-section date.
			idx := sort.SearchStrings(ds, date)
			if idx == len(ds) || ds[idx] != date {
				idx--
			}
			if idx < momentumLookback {
				continue
			}
			bars := prices[ticker]
			prev := bars[idx-momentumLookback].Close
			if prev <= 0 {
				continue
			}
			cross = append(cross, Rank{
				Ticker: ticker,
				Score:  bars[idx].Close/prev - 1,
			})
		}
		if len(cross) > 0 {
			ranks[date] = cross
		}
	}
	return ranks
}

// ParseMode validates a weighting mode name. Empty means equal.
func ParseMode(s string) (WeightMode, error) {
	switch WeightMode(s) {
	case "", ModeEqual:
		return ModeEqual, nil
	case ModeCap:
		return ModeCap, nil
	}
	return "", fmt.Errorf("unknown weighting mode %q", s)
}
