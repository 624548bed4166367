package fetchers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
)

// PriceFetcher fills the stock_prices table with daily bars.
type PriceFetcher struct {
	sources Sources
	repo    *repositories.PriceRepository
	log     zerolog.Logger
}

// NewPriceFetcher creates a new price fetcher
func NewPriceFetcher(sources Sources, repo *repositories.PriceRepository, log zerolog.Logger) *PriceFetcher {
	return &PriceFetcher{
		sources: sources,
		repo:    repo,
		log:     log.With().Str("fetcher", "price").Logger(),
	}
}

// Fetch ensures daily bars for ticker over the window are stored locally.
// Returns the bars inside the window, stored order (date ascending).
func (f *PriceFetcher) Fetch(ctx context.Context, ticker string, window Window, force bool) ([]domain.PriceBar, error) {
	if !force {
		latest, err := f.repo.GetLatestDate(ticker)
		if err != nil {
			return nil, err
		}
		if latest != "" && latest >= window.End {
			return f.repo.GetRange(ticker, window.Start, window.End)
		}
	}

	bars, err := fetchWithFallback(f.log, "price",
		func() ([]domain.PriceBar, error) { return f.fetchPrimary(ctx, ticker, window) },
		func() ([]domain.PriceBar, error) { return f.fetchFallback(ticker, window) },
	)
	if err != nil {
		return nil, err
	}

	if len(bars) > 0 {
		if err := f.repo.UpsertBars(bars); err != nil {
			return nil, err
		}
	}
	return f.repo.GetRange(ticker, window.Start, window.End)
}

// fetchPrimary iterates the window month by month against the exchange,
// skipping future months.
func (f *PriceFetcher) fetchPrimary(ctx context.Context, ticker string, window Window) ([]domain.PriceBar, error) {
	var all []domain.PriceBar
	for _, month := range window.Months() {
		if ctx.Err() != nil {
			return all, ctx.Err()
		}

		bars, err := f.sources.Primary.GetDailyBars(ticker, month)
		if err != nil {
			return nil, err
		}
		for _, bar := range bars {
			if bar.Date >= window.Start && bar.Date <= window.End {
				all = append(all, bar)
			}
		}
	}
	return all, nil
}

func (f *PriceFetcher) fetchFallback(ticker string, window Window) ([]domain.PriceBar, error) {
	rows, err := f.sources.Fallback.GetPrices(ticker, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	var bars []domain.PriceBar
	for _, row := range rows {
		if row.Close <= 0 {
			continue
		}
		bars = append(bars, domain.PriceBar{
			Ticker:   ticker,
			Date:     row.Date,
			Open:     row.Open,
			High:     row.High,
			Low:      row.Low,
			Close:    row.Close,
			Volume:   row.Volume,
			Turnover: row.Turnover,
		})
	}
	return bars, nil
}
