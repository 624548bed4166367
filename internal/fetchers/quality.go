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

// Account synonym sets. Statement line items arrive with varying account
// labels per company and per source; a metric matches when either the
// provider's normalized type or the reported Chinese label is in its set.
var (
	synRevenue       = newSynonyms("Revenue", "營業收入", "營收", "總收入", "營業收入合計")
	synGrossProfit   = newSynonyms("GrossProfit", "營業毛利", "營業毛利（毛損）", "營業毛利（毛損）淨額")
	synOpIncome      = newSynonyms("OperatingIncome", "營業利益", "營業利益（損失）")
	synNetIncome     = newSynonyms("IncomeAfterTaxes", "本期淨利", "本期淨利（淨損）", "稅後淨利")
	synEPS           = newSynonyms("EPS", "基本每股盈餘", "基本每股盈餘（元）")
	synTotalAssets   = newSynonyms("TotalAssets", "資產總額", "資產總計")
	synTotalLiab     = newSynonyms("Liabilities", "負債總額", "負債總計")
	synTotalEquity   = newSynonyms("Equity", "權益總額", "權益總計", "歸屬於母公司業主之權益合計")
	synCurrentAssets = newSynonyms("CurrentAssets", "流動資產", "流動資產合計")
	synCurrentLiab   = newSynonyms("CurrentLiabilities", "流動負債", "流動負債合計")
)

type synonyms map[string]bool

func newSynonyms(names ...string) synonyms {
	s := make(synonyms, len(names))
	for _, name := range names {
		s[name] = true
	}
	return s
}

// qualityStaleDays bounds how old the newest stored report may be before a
// refetch: one quarterly cadence plus the filing lag.
const qualityStaleDays = 120

// QualityFetcher fills the quality_metrics table with profitability and
// balance-sheet ratios derived from statement line items. The exchange has
// no statement feed, so the fallback source carries this factor alone.
type QualityFetcher struct {
	sources Sources
	repo    *repositories.QualityRepository
	log     zerolog.Logger
}

// NewQualityFetcher creates a new quality fetcher
func NewQualityFetcher(sources Sources, repo *repositories.QualityRepository, log zerolog.Logger) *QualityFetcher {
	return &QualityFetcher{
		sources: sources,
		repo:    repo,
		log:     log.With().Str("fetcher", "quality").Logger(),
	}
}

// Fetch ensures quality rows for ticker over the window are stored.
func (f *QualityFetcher) Fetch(ctx context.Context, ticker string, window Window, force bool) ([]domain.QualityRow, error) {
	if !force {
		stored, err := f.repo.History(ticker, 1)
		if err != nil {
			return nil, err
		}
		// fresh means the newest report is at most one quarter plus the
		// filing lag old; merely lying inside the multi-year fetch window
		// is not enough
		cutoff := time.Now().AddDate(0, 0, -qualityStaleDays).Format("2006-01-02")
		if len(stored) > 0 && stored[0].Date >= cutoff {
			return f.repo.GetRange(ticker, window.Start, window.End)
		}
	}

	rows, err := fetchWithFallback(f.log, "quality",
		func() ([]domain.QualityRow, error) { return nil, nil }, // no primary statement feed
		func() ([]domain.QualityRow, error) { return f.fetchFallback(ticker, window) },
	)
	if err != nil {
		return nil, err
	}

	if len(rows) > 0 {
		if err := f.repo.Upsert(rows); err != nil {
			return nil, err
		}
	}
	return f.repo.GetRange(ticker, window.Start, window.End)
}

func (f *QualityFetcher) fetchFallback(ticker string, window Window) ([]domain.QualityRow, error) {
	stmts, err := f.sources.Fallback.GetFinancialStatements(ticker, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	balance, err := f.sources.Fallback.GetBalanceSheet(ticker, window.Start, window.End)
	if err != nil {
		if finmind.IsQuotaExceeded(err) {
			return nil, err
		}
		f.log.Warn().Err(err).Str("ticker", ticker).Msg("Balance sheet unavailable, income ratios only")
		balance = nil
	}

	return DeriveQualityRows(ticker, stmts, balance), nil
}

// DeriveQualityRows combines statement and balance sheet line items into
// ratio rows, one per report date. A row is emitted iff at least one ratio
// is computable.
func DeriveQualityRows(ticker string, stmts, balance []finmind.StatementRow) []domain.QualityRow {
	type lineItems map[*synonyms]float64

	byDate := map[string]lineItems{}
	record := func(rows []finmind.StatementRow) {
		for _, row := range rows {
			items, ok := byDate[row.Date]
			if !ok {
				items = lineItems{}
				byDate[row.Date] = items
			}
			for _, syn := range []*synonyms{
				&synRevenue, &synGrossProfit, &synOpIncome, &synNetIncome, &synEPS,
				&synTotalAssets, &synTotalLiab, &synTotalEquity, &synCurrentAssets, &synCurrentLiab,
			} {
				if (*syn)[row.Type] || (*syn)[row.OriginName] {
					items[syn] = row.Value
				}
			}
		}
	}
	record(stmts)
	record(balance)

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	var out []domain.QualityRow
	for _, date := range dates {
		items := byDate[date]
		get := func(syn *synonyms) (float64, bool) {
			v, ok := items[syn]
			return v, ok
		}

		row := domain.QualityRow{Ticker: ticker, Date: date}

		revenue, hasRevenue := get(&synRevenue)
		netIncome, hasNet := get(&synNetIncome)
		assets, hasAssets := get(&synTotalAssets)

		if hasRevenue && revenue != 0 {
			if gross, ok := get(&synGrossProfit); ok {
				row.GrossMargin = domain.Float64Ptr(100 * gross / revenue)
			}
			if op, ok := get(&synOpIncome); ok {
				row.OpMargin = domain.Float64Ptr(100 * op / revenue)
			}
			if hasNet {
				row.NetMargin = domain.Float64Ptr(100 * netIncome / revenue)
			}
		}
		if hasAssets && assets != 0 {
			if hasNet {
				row.ROA = domain.Float64Ptr(100 * netIncome / assets)
			}
			if liab, ok := get(&synTotalLiab); ok {
				row.DebtRatio = domain.Float64Ptr(100 * liab / assets)
			}
		}
		if equity, ok := get(&synTotalEquity); ok && equity != 0 && hasNet {
			row.ROE = domain.Float64Ptr(100 * netIncome / equity)
		}
		if curAssets, ok := get(&synCurrentAssets); ok {
			if curLiab, ok := get(&synCurrentLiab); ok && curLiab != 0 {
				row.CurrentRatio = domain.Float64Ptr(curAssets / curLiab)
			}
		}
		if eps, ok := get(&synEPS); ok {
			row.EPS = domain.Float64Ptr(eps)
		}

		if row.HasAnyMetric() {
			out = append(out, row)
		}
	}
	return out
}
