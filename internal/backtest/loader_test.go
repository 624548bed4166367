package backtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
)

func newLoader(t *testing.T) (*Loader, *repositories.StockListRepository, *repositories.PriceRepository) {
	t.Helper()

	open := func(name string) *database.DB {
		db, err := database.New(database.Config{
			Path: filepath.Join(t.TempDir(), name+".db"),
			Name: name,
		})
		require.NoError(t, err)
		require.NoError(t, db.Migrate())
		t.Cleanup(func() { db.Close() })
		return db
	}

	stocks := repositories.NewStockListRepository(open("fundamentals").Conn(), zerolog.Nop())
	prices := repositories.NewPriceRepository(open("price").Conn(), zerolog.Nop())
	return NewLoader(stocks, prices, zerolog.Nop()), stocks, prices
}

// seedBars writes n consecutive daily bars starting 2024-01-01, with the close
// following a fixed daily growth rate.
func seedBars(t *testing.T, prices *repositories.PriceRepository, ticker string, n int, growth float64) {
	t.Helper()

	bars := make([]domain.PriceBar, n)
	close := 100.0
	for i := range bars {
		bars[i] = domain.PriceBar{
			Ticker:   ticker,
			Date:     fmt.Sprintf("2024-01-%02d", i+1),
			Open:     close,
			High:     close,
			Low:      close,
			Close:    close,
			Volume:   1000,
			Turnover: 20_000_000,
		}
		close *= 1 + growth
	}
	require.NoError(t, prices.UpsertBars(bars))
}

func TestLoadBuildsMomentumRanks(t *testing.T) {
	l, stocks, prices := newLoader(t)

	require.NoError(t, stocks.Upsert([]domain.Stock{
		{Ticker: "2330", Name: "台積電", Market: "上市"},
		{Ticker: "2317", Name: "鴻海", Market: "上市"},
	}))
	seedBars(t, prices, "2330", 30, 0.01) // strong trend
	seedBars(t, prices, "2317", 30, 0.0)  // flat

	ranks, bars, err := l.Load(Params{Start: "2024-01-25", End: "2024-01-30", Rebalance: 1})
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	require.NotEmpty(t, ranks)

	for date, cross := range ranks {
		require.Len(t, cross, 2, date)
		byTicker := map[string]float64{}
		for _, r := range cross {
			byTicker[r.Ticker] = r.Score
		}
		assert.Greater(t, byTicker["2330"], byTicker["2317"], date)
		assert.InDelta(t, 0, byTicker["2317"], 1e-9)
	}
}

func TestLoadSkipsTickersWithoutHistory(t *testing.T) {
	l, stocks, prices := newLoader(t)

	require.NoError(t, stocks.Upsert([]domain.Stock{
		{Ticker: "2330", Name: "台積電", Market: "上市"},
		{Ticker: "6488", Name: "環球晶", Market: "上櫃"},
	}))
	seedBars(t, prices, "2330", 30, 0.01)
	seedBars(t, prices, "6488", 5, 0.01) // too short for the lookback

	ranks, bars, err := l.Load(Params{Start: "2024-01-25", End: "2024-01-30", Rebalance: 1})
	require.NoError(t, err)
	assert.Len(t, bars, 2, "short history still feeds the kernel's forward-fill")
	for date, cross := range ranks {
		require.Len(t, cross, 1, date)
		assert.Equal(t, "2330", cross[0].Ticker)
	}
}

func TestLoadErrorsWithoutCatalog(t *testing.T) {
	l, _, _ := newLoader(t)

	_, _, err := l.Load(Params{Start: "2024-01-25", Rebalance: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stock list is empty")
}

func TestLoadEndToEndWithKernel(t *testing.T) {
	l, stocks, prices := newLoader(t)

	require.NoError(t, stocks.Upsert([]domain.Stock{
		{Ticker: "2330", Name: "台積電", Market: "上市"},
		{Ticker: "2317", Name: "鴻海", Market: "上市"},
	}))
	seedBars(t, prices, "2330", 30, 0.01)
	seedBars(t, prices, "2317", 30, -0.01)

	p := Params{Start: "2024-01-25", End: "2024-01-30", Rebalance: 1, Top: 1, Mode: ModeEqual}
	ranks, bars, err := l.Load(p)
	require.NoError(t, err)

	p.Costs = CostModel{}
	res, err := Run(ranks, bars, p)
	require.NoError(t, err)
	require.NotEmpty(t, res.Equity)
	// Top-1 momentum holds the riser; a zero-cost run compounds its growth.
	assert.Greater(t, res.Equity[len(res.Equity)-1], 1.0)
}

func TestTurnoverFunc(t *testing.T) {
	l, _, prices := newLoader(t)
	seedBars(t, prices, "2330", 30, 0.01)

	adtv := l.TurnoverFunc()
	assert.InDelta(t, 20_000_000, adtv("2330"), 1)
	assert.Zero(t, adtv("9999"))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeEqual, mode)

	mode, err = ParseMode("cap")
	require.NoError(t, err)
	assert.Equal(t, ModeCap, mode)

	_, err = ParseMode("vol")
	require.Error(t, err)
}
