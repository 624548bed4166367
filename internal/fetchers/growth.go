package fetchers

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/clients/finmind"
	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
)

// GrowthFetcher fills the growth_metrics table with monthly revenue and the
// growth rates derived from it. The request window is extended 13 months
// back so year-over-year rates have a prior-year observation.
type GrowthFetcher struct {
	sources Sources
	repo    *repositories.GrowthRepository
	log     zerolog.Logger
}

// NewGrowthFetcher creates a new growth fetcher
func NewGrowthFetcher(sources Sources, repo *repositories.GrowthRepository, log zerolog.Logger) *GrowthFetcher {
	return &GrowthFetcher{
		sources: sources,
		repo:    repo,
		log:     log.With().Str("fetcher", "growth").Logger(),
	}
}

// Fetch ensures growth rows for ticker over the window are stored.
func (f *GrowthFetcher) Fetch(ctx context.Context, ticker string, window Window, force bool) ([]domain.GrowthRow, error) {
	fromMonth := monthKey(window.Start)
	toMonth := monthKey(window.End)

	if !force {
		stored, err := f.repo.History(ticker, 1)
		if err != nil {
			return nil, err
		}
		if len(stored) > 0 && stored[0].Month >= toMonth {
			return f.repo.GetRange(ticker, fromMonth, toMonth)
		}
	}

	extended := extendBack(window, 13)

	rows, err := fetchWithFallback(f.log, "growth",
		func() ([]domain.GrowthRow, error) { return f.fetchPrimary(ctx, ticker, extended) },
		func() ([]domain.GrowthRow, error) { return f.fetchFallback(ticker, extended) },
	)
	if err != nil {
		return nil, err
	}

	var epsErr error
	if len(rows) > 0 {
		deriveGrowthRates(rows)
		epsErr = f.attachEPS(ticker, extended, rows)

		if err := f.repo.Upsert(rows); err != nil {
			return nil, err
		}
	}
	if epsErr != nil {
		// revenue rows are stored; the quota still has to stop the batch
		return nil, epsErr
	}
	return f.repo.GetRange(ticker, fromMonth, toMonth)
}

func (f *GrowthFetcher) fetchPrimary(ctx context.Context, ticker string, window Window) ([]domain.GrowthRow, error) {
	var rows []domain.GrowthRow
	for _, month := range window.Months() {
		if ctx.Err() != nil {
			return rows, ctx.Err()
		}

		reports, err := f.sources.Primary.GetMonthlyRevenue(ticker, month)
		if err != nil {
			return nil, err
		}
		for _, rep := range reports {
			rows = append(rows, domain.GrowthRow{
				Ticker:  ticker,
				Month:   rep.Month,
				Revenue: rep.Revenue,
			})
		}
	}
	return rows, nil
}

func (f *GrowthFetcher) fetchFallback(ticker string, window Window) ([]domain.GrowthRow, error) {
	reports, err := f.sources.Fallback.GetMonthlyRevenue(ticker, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	var rows []domain.GrowthRow
	for _, rep := range reports {
		if rep.RevenueYear == 0 || rep.RevenueMonth == 0 {
			continue
		}
		month := time.Date(rep.RevenueYear, time.Month(rep.RevenueMonth), 1, 0, 0, 0, 0, time.UTC)
		rows = append(rows, domain.GrowthRow{
			Ticker:  ticker,
			Month:   month.Format("2006-01-02"),
			Revenue: rep.Revenue,
		})
	}
	return rows, nil
}

// deriveGrowthRates computes MoM and YoY over the month sequence in place.
// A rate is only defined when the prior observation exists and is positive.
func deriveGrowthRates(rows []domain.GrowthRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Month < rows[j].Month })

	byMonth := make(map[string]int64, len(rows))
	for _, row := range rows {
		byMonth[row.Month] = row.Revenue
	}

	for i := range rows {
		m, err := time.Parse("2006-01-02", rows[i].Month)
		if err != nil {
			continue
		}

		if prev, ok := byMonth[m.AddDate(0, -1, 0).Format("2006-01-02")]; ok && prev > 0 {
			rows[i].MoM = domain.Float64Ptr(100 * float64(rows[i].Revenue-prev) / float64(prev))
		}
		if prev, ok := byMonth[m.AddDate(-1, 0, 0).Format("2006-01-02")]; ok && prev > 0 {
			rows[i].YoY = domain.Float64Ptr(100 * float64(rows[i].Revenue-prev) / float64(prev))
		}
	}
}

// attachEPS annotates the month rows with the latest reported quarterly EPS
// and its quarter-over-quarter change. Best effort: statement fetch failures
// leave the EPS fields null, except quota which is returned to the caller.
func (f *GrowthFetcher) attachEPS(ticker string, window Window, rows []domain.GrowthRow) error {
	stmts, err := f.sources.Fallback.GetFinancialStatements(ticker, extendBack(window, 9).Start, window.End)
	if err != nil {
		if finmind.IsQuotaExceeded(err) {
			return err
		}
		f.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to fetch EPS series")
		return nil
	}

	type epsPoint struct {
		date string
		eps  float64
	}
	var series []epsPoint
	for _, s := range stmts {
		if s.Type == "EPS" || s.OriginName == "基本每股盈餘" || s.OriginName == "基本每股盈餘（元）" {
			series = append(series, epsPoint{date: s.Date, eps: s.Value})
		}
	}
	if len(series) == 0 {
		return nil
	}
	sort.Slice(series, func(i, j int) bool { return series[i].date < series[j].date })

	for i := range rows {
		// latest quarter reported at or before the month
		idx := -1
		for j, p := range series {
			if p.date <= rows[i].Month {
				idx = j
			}
		}
		if idx < 0 {
			continue
		}

		rows[i].EPS = domain.Float64Ptr(series[idx].eps)
		if idx > 0 {
			prev := series[idx-1].eps
			if prev != 0 {
				rows[i].EPSQoQ = domain.Float64Ptr(100 * (series[idx].eps - prev) / absFloat(prev))
			}
		}
	}
	return nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// monthKey normalizes an ISO date to its month row key (YYYY-MM-01).
func monthKey(date string) string {
	if len(date) < 7 {
		return date
	}
	return date[:7] + "-01"
}

// extendBack widens a window's start by n months.
func extendBack(w Window, months int) Window {
	start, err := time.Parse("2006-01-02", w.Start)
	if err != nil {
		return w
	}
	return Window{
		Start: start.AddDate(0, -months, 0).Format("2006-01-02"),
		End:   w.End,
	}
}
