package repositories

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/domain"
)

func openTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), name+".db"),
		Name: name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPriceRepository_UpsertAndRange(t *testing.T) {
	db := openTestDB(t, "price")
	repo := NewPriceRepository(db.Conn(), zerolog.Nop())

	bars := []domain.PriceBar{
		{Ticker: "2330", Date: "2024-01-02", Open: 590, High: 595, Low: 588, Close: 593, Volume: 25000000, Turnover: 14800000000},
		{Ticker: "2330", Date: "2024-01-03", Open: 593, High: 600, Low: 592, Close: 598, Volume: 31000000, Turnover: 18500000000},
		{Ticker: "2317", Date: "2024-01-02", Open: 103, High: 104, Low: 102, Close: 103.5, Volume: 40000000, Turnover: 4100000000},
	}
	require.NoError(t, repo.UpsertBars(bars))

	got, err := repo.GetRange("2330", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-02", got[0].Date)
	assert.Equal(t, 598.0, got[1].Close)

	// Re-running the same upsert must not duplicate rows
	require.NoError(t, repo.UpsertBars(bars))
	got, err = repo.GetRange("2330", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Replacement on the natural key
	require.NoError(t, repo.UpsertBars([]domain.PriceBar{
		{Ticker: "2330", Date: "2024-01-03", Open: 593, High: 601, Low: 592, Close: 600, Volume: 32000000, Turnover: 19000000000},
	}))
	got, err = repo.GetRange("2330", "2024-01-03", "2024-01-03")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 600.0, got[0].Close)
}

func TestPriceRepository_AvgTurnover(t *testing.T) {
	db := openTestDB(t, "price")
	repo := NewPriceRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.UpsertBars([]domain.PriceBar{
		{Ticker: "2330", Date: "2024-01-02", Close: 593, Turnover: 10000000},
		{Ticker: "2330", Date: "2024-01-03", Close: 598, Turnover: 20000000},
		{Ticker: "2330", Date: "2024-01-04", Close: 601, Turnover: 30000000},
	}))

	avg, err := repo.AvgTurnover("2330", 2)
	require.NoError(t, err)
	assert.InDelta(t, 25000000, avg, 1e-9)

	avg, err = repo.AvgTurnover("2330", 20)
	require.NoError(t, err)
	assert.InDelta(t, 20000000, avg, 1e-9)

	avg, err = repo.AvgTurnover("9999", 20)
	require.NoError(t, err)
	assert.Zero(t, avg)
}

func TestValuationRepository_SkipsEmptyRows(t *testing.T) {
	db := openTestDB(t, "fundamentals")
	repo := NewValuationRepository(db.Conn(), zerolog.Nop())

	rows := []domain.Valuation{
		{Ticker: "2330", Date: "2024-01-02", PER: domain.Float64Ptr(18.5), PBR: domain.Float64Ptr(5.1)},
		{Ticker: "2317", Date: "2024-01-02"}, // all null, must be dropped
	}
	require.NoError(t, repo.Upsert(rows))

	got, err := repo.CrossSection("")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2330", got[0].Ticker)
	require.NotNil(t, got[0].PER)
	assert.Equal(t, 18.5, *got[0].PER)
	assert.Nil(t, got[0].DividendYield)
}

func TestValuationRepository_CrossSectionAtOrBefore(t *testing.T) {
	db := openTestDB(t, "fundamentals")
	repo := NewValuationRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.Upsert([]domain.Valuation{
		{Ticker: "2330", Date: "2024-01-02", PER: domain.Float64Ptr(18.0)},
		{Ticker: "2330", Date: "2024-01-05", PER: domain.Float64Ptr(19.0)},
		{Ticker: "2317", Date: "2024-01-05", PER: domain.Float64Ptr(11.0)},
	}))

	// Target falls between stored dates: snap back to the latest at or before
	got, err := repo.CrossSection("2024-01-04")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-01-02", got[0].Date)

	// No bound: latest cross-section, all tickers on that date
	got, err = repo.CrossSection("")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2317", got[0].Ticker)

	// Target before all data
	got, err = repo.CrossSection("2023-12-31")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGrowthRepository_History(t *testing.T) {
	db := openTestDB(t, "fundamentals")
	repo := NewGrowthRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.Upsert([]domain.GrowthRow{
		{Ticker: "2330", Month: "2023-11-01", Revenue: 100},
		{Ticker: "2330", Month: "2023-12-01", Revenue: 110, MoM: domain.Float64Ptr(10)},
		{Ticker: "2330", Month: "2024-01-01", Revenue: 121, MoM: domain.Float64Ptr(10), YoY: domain.Float64Ptr(21)},
	}))

	got, err := repo.History("2330", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-01", got[0].Month)
	assert.Equal(t, "2023-12-01", got[1].Month)
	require.NotNil(t, got[0].YoY)
	assert.Equal(t, 21.0, *got[0].YoY)
	assert.Nil(t, got[1].YoY)
}

func TestQualityRepository_RejectsRowsWithoutMetrics(t *testing.T) {
	db := openTestDB(t, "quality")
	repo := NewQualityRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.Upsert([]domain.QualityRow{
		{Ticker: "2330", Date: "2024-03-31", ROE: domain.Float64Ptr(26.2), GrossMargin: domain.Float64Ptr(53.1)},
		{Ticker: "2317", Date: "2024-03-31"}, // no metrics at all
	}))

	got, err := repo.CrossSection("")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2330", got[0].Ticker)
	require.NotNil(t, got[0].ROE)
	assert.Equal(t, 26.2, *got[0].ROE)
	assert.Nil(t, got[0].DebtRatio)
}

func TestFundFlowRepository_RoundTrip(t *testing.T) {
	db := openTestDB(t, "fundamentals")
	repo := NewFundFlowRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.Upsert([]domain.FundFlowRow{
		{Ticker: "2330", Date: "2024-01-02", ForeignNet: 1500000, InvTrustNet: -20000, DealerNet: 5000},
		{Ticker: "2330", Date: "2024-01-03", ForeignNet: -800000, InvTrustNet: 40000, DealerNet: 0},
	}))

	got, err := repo.GetRange("2330", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1500000), got[0].ForeignNet)
	assert.Equal(t, int64(-800000), got[1].ForeignNet)

	hist, err := repo.History("2330", 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "2024-01-03", hist[0].Date)
}

func TestMomentumRepository_NullableIndicators(t *testing.T) {
	db := openTestDB(t, "fundamentals")
	repo := NewMomentumRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.Upsert([]domain.MomentumSnapshot{
		{
			Ticker: "2330", Date: "2024-01-31",
			RSI:               domain.Float64Ptr(61.3),
			MA20:              domain.Float64Ptr(588.2),
			MA20AboveMA60Days: 14,
			// MA60 and bands still inside warm-up: nulls
		},
	}))

	got, err := repo.Latest("2330")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.RSI)
	assert.Equal(t, 61.3, *got.RSI)
	assert.Nil(t, got.MA60)
	assert.Nil(t, got.BBUpper)
	assert.Equal(t, 14, got.MA20AboveMA60Days)

	missing, err := repo.Latest("9999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStockListRepository_FiltersAndStamp(t *testing.T) {
	db := openTestDB(t, "fundamentals")
	repo := NewStockListRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.Upsert([]domain.Stock{
		{Ticker: "2330", Name: "台積電", Industry: "半導體業", Market: "TWSE"},
		{Ticker: "2317", Name: "鴻海", Industry: "電子零組件業", Market: "TWSE"},
		{Ticker: "6488", Name: "環球晶", Industry: "半導體業", Market: "TPEx"},
	}))

	all, err := repo.List("", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "2317", all[0].Ticker)

	semis, err := repo.List("", "半導體業")
	require.NoError(t, err)
	assert.Len(t, semis, 2)

	twseSemis, err := repo.List("TWSE", "半導體業")
	require.NoError(t, err)
	require.Len(t, twseSemis, 1)
	assert.Equal(t, "2330", twseSemis[0].Ticker)

	s, err := repo.Get("2330")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "台積電", s.Name)

	missing, err := repo.Get("0000")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Never refreshed: zero time
	stamp, err := repo.LastUpdated()
	require.NoError(t, err)
	assert.True(t, stamp.IsZero())

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.StampUpdated(now))
	stamp, err = repo.LastUpdated()
	require.NoError(t, err)
	assert.True(t, stamp.Equal(now))
}
