package backtest

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/aristath/twscreener/internal/domain"
	"github.com/aristath/twscreener/pkg/formulas"
)

// ErrInvalidPriceData rejects a run whose price input contains non-positive
// or non-finite closes.
var ErrInvalidPriceData = errors.New("invalid price data")

// ErrEmptyCalendar rejects a run whose filtered trading calendar is empty.
var ErrEmptyCalendar = errors.New("no trading days in range")

// Params configures one simulation run.
type Params struct {
	Start     string
	End       string // empty = to the last available bar
	Rebalance int    // trading days between reoptimizations, >= 1
	Top       int
	Mode      WeightMode
	Costs     CostModel
	Clip      *ADTVClip
}

// Result is one simulation's output: the equity curve with its parallel
// dates, and the summary statistics derived from it.
type Result struct {
	Dates   []string  `json:"dates"`
	Equity  []float64 `json:"equity"`
	Returns []float64 `json:"returns"`
	CAGR    float64   `json:"cagr"`
	Sharpe  float64   `json:"sharpe"`
	MDD     float64   `json:"mdd"`
}

// Run simulates the strategy: on each rebalance day the ranks for that date
// select the top-N targets; positions are repriced to target weights with
// transaction costs; every day the book is marked to market.
//
// ranksByDate maps a cross-section date to its scored tickers; days without
// an entry keep the current book. prices maps ticker to its date-ascending
// bar series.
func Run(ranksByDate map[string][]Rank, prices map[string][]domain.PriceBar, p Params) (*Result, error) {
	if p.Rebalance < 1 {
		p.Rebalance = 1
	}

	barsAt, calendar, err := indexPrices(prices, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	if len(calendar) == 0 {
		return nil, ErrEmptyCalendar
	}

	cash := 1.0
	holdings := map[string]float64{}
	lastPrice := map[string]float64{}

	result := &Result{}

	for i, date := range calendar {
		// forward-fill
		for ticker, px := range barsAt[date] {
			lastPrice[ticker] = px
		}

		if i%p.Rebalance == 0 {
			if ranks, ok := ranksByDate[date]; ok {
				targets := BuildWeights(ranks, p.Top, p.Mode, p.Clip)
				cash = rebalance(cash, holdings, lastPrice, targets, p.Costs)
			}
		}

		value := cash
		for ticker, units := range holdings {
			if px, ok := lastPrice[ticker]; ok {
				value += units * px
			}
		}
		result.Dates = append(result.Dates, date)
		result.Equity = append(result.Equity, value)
	}

	result.Returns = formulas.DailyReturns(result.Equity)
	result.CAGR = formulas.CAGR(result.Equity)
	result.Sharpe = formulas.SharpeRatio(result.Returns)
	result.MDD = formulas.MaxDrawdown(result.Equity)
	return result, nil
}

// rebalance liquidates tickers absent from targets, then reprices every
// target to its weight. A target with no known price is skipped for this
// rebalance only. Returns the updated cash balance.
func rebalance(cash float64, holdings, lastPrice map[string]float64, targets map[string]float64, costs CostModel) float64 {
	value := cash
	for ticker, units := range holdings {
		if px, ok := lastPrice[ticker]; ok {
			value += units * px
		}
	}

	for ticker, units := range holdings {
		if _, keep := targets[ticker]; keep {
			continue
		}
		px, ok := lastPrice[ticker]
		if !ok {
			continue
		}
		cash += costs.Apply(px, Sell) * units
		delete(holdings, ticker)
	}

	// deterministic fill order
	tickers := make([]string, 0, len(targets))
	for ticker := range targets {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		px, ok := lastPrice[ticker]
		if !ok || px <= 0 {
			continue
		}

		targetUnits := value * targets[ticker] / px
		diff := targetUnits - holdings[ticker]
		if math.Abs(diff) < 1e-8 {
			continue
		}

		if diff > 0 {
			cash -= costs.Apply(px, Buy) * diff
		} else {
			cash += costs.Apply(px, Sell) * (-diff)
		}
		holdings[ticker] += diff
		if holdings[ticker] == 0 {
			delete(holdings, ticker)
		}
	}
	return cash
}

// indexPrices validates bars, builds the per-date close lookup and the
// filtered ascending calendar.
func indexPrices(prices map[string][]domain.PriceBar, start, end string) (map[string]map[string]float64, []string, error) {
	barsAt := map[string]map[string]float64{}
	dateSet := map[string]bool{}

	for ticker, bars := range prices {
		for _, bar := range bars {
			if bar.Close <= 0 || math.IsNaN(bar.Close) || math.IsInf(bar.Close, 0) {
				return nil, nil, fmt.Errorf("%w: %s %s close=%v", ErrInvalidPriceData, ticker, bar.Date, bar.Close)
			}
			if bar.Date < start || (end != "" && bar.Date > end) {
				continue
			}

			at, ok := barsAt[bar.Date]
			if !ok {
				at = map[string]float64{}
				barsAt[bar.Date] = at
			}
			at[ticker] = bar.Close
			dateSet[bar.Date] = true
		}
	}

	calendar := make([]string, 0, len(dateSet))
	for date := range dateSet {
		calendar = append(calendar, date)
	}
	sort.Strings(calendar)
	return barsAt, calendar, nil
}
