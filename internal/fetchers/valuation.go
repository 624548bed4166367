package fetchers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
)

// ValuationFetcher fills the valuation tables. The exchange reports only the
// current month's daily multiples; the fallback serves full daily history.
// The latest row lands in the fundamentals valuation table for scoring, the
// whole daily series in the price database for back-testing.
type ValuationFetcher struct {
	sources     Sources
	fundamental *repositories.ValuationRepository
	price       *repositories.PriceRepository
	log         zerolog.Logger
}

// NewValuationFetcher creates a new valuation fetcher
func NewValuationFetcher(sources Sources, fundamental *repositories.ValuationRepository, price *repositories.PriceRepository, log zerolog.Logger) *ValuationFetcher {
	return &ValuationFetcher{
		sources:     sources,
		fundamental: fundamental,
		price:       price,
		log:         log.With().Str("fetcher", "valuation").Logger(),
	}
}

// Fetch ensures valuation rows for ticker over the window are stored.
func (f *ValuationFetcher) Fetch(ctx context.Context, ticker string, window Window, force bool) ([]domain.Valuation, error) {
	if !force {
		latest, err := f.fundamental.Latest(ticker)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.Date >= window.End {
			return f.fundamental.GetRange(ticker, window.Start, window.End)
		}
	}

	rows, err := fetchWithFallback(f.log, "valuation",
		func() ([]domain.Valuation, error) { return f.fetchPrimary(ticker) },
		func() ([]domain.Valuation, error) { return f.fetchFallback(ticker, window) },
	)
	if err != nil {
		return nil, err
	}

	if len(rows) > 0 {
		if err := f.fundamental.Upsert(rows); err != nil {
			return nil, err
		}
		if err := f.price.UpsertValuations(rows); err != nil {
			return nil, err
		}
	}
	return f.fundamental.GetRange(ticker, window.Start, window.End)
}

// fetchPrimary takes the latest day of the exchange's current-month report.
func (f *ValuationFetcher) fetchPrimary(ticker string) ([]domain.Valuation, error) {
	month := time.Now().Format("200601")
	rows, err := f.sources.Primary.GetValuations(ticker, month)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	last := rows[len(rows)-1]
	v := domain.Valuation{
		Ticker:        ticker,
		Date:          last.Date,
		PER:           last.PER,
		PBR:           last.PBR,
		DividendYield: last.DividendYield,
	}
	if v.IsEmpty() {
		return nil, nil
	}
	return []domain.Valuation{v}, nil
}

func (f *ValuationFetcher) fetchFallback(ticker string, window Window) ([]domain.Valuation, error) {
	rows, err := f.sources.Fallback.GetValuations(ticker, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	var out []domain.Valuation
	for _, row := range rows {
		v := domain.Valuation{
			Ticker:        ticker,
			Date:          row.Date,
			PER:           positiveOrNil(row.PER),
			PBR:           positiveOrNil(row.PBR),
			DividendYield: positiveOrNil(row.DividendYield),
		}
		if !v.IsEmpty() {
			out = append(out, v)
		}
	}
	return out, nil
}

// positiveOrNil maps the provider's zero placeholder to a missing value.
func positiveOrNil(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
