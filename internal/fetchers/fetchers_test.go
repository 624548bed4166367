package fetchers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/twscreener/internal/clients/finmind"
	"github.com/aristath/twscreener/internal/clients/twse"
	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
)

func TestWindowMonths(t *testing.T) {
	w := Window{Start: "2024-01-15", End: "2024-03-02"}
	assert.Equal(t, []string{"202401", "202402", "202403"}, w.Months())

	w = Window{Start: "2024-02-01", End: "2024-02-28"}
	assert.Equal(t, []string{"202402"}, w.Months())

	// future months are clipped
	w = Window{Start: "2024-01-01", End: "2999-01-01"}
	months := w.Months()
	assert.NotEmpty(t, months)
	assert.Less(t, months[len(months)-1], "299901")
}

func TestFetchWithFallbackPolicy(t *testing.T) {
	log := zerolog.Nop()

	// primary wins when it has data
	rows, err := fetchWithFallback(log, "x",
		func() ([]int, error) { return []int{1}, nil },
		func() ([]int, error) { t.Fatal("fallback must not run"); return nil, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, rows)

	// empty primary falls through
	rows, err = fetchWithFallback(log, "x",
		func() ([]int, error) { return nil, nil },
		func() ([]int, error) { return []int{2}, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, rows)

	// primary error falls through
	rows, err = fetchWithFallback(log, "x",
		func() ([]int, error) { return nil, errors.New("down") },
		func() ([]int, error) { return []int{3}, nil },
	)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, rows)

	// quota from fallback bubbles
	_, err = fetchWithFallback(log, "x",
		func() ([]int, error) { return nil, nil },
		func() ([]int, error) { return nil, &finmind.QuotaExceededError{Dataset: "d"} },
	)
	require.Error(t, err)
	assert.True(t, finmind.IsQuotaExceeded(err))

	// any other fallback failure is swallowed
	rows, err = fetchWithFallback(log, "x",
		func() ([]int, error) { return nil, errors.New("down") },
		func() ([]int, error) { return nil, errors.New("also down") },
	)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeriveGrowthRates(t *testing.T) {
	rows := []domain.GrowthRow{
		{Ticker: "2330", Month: "2024-01-01", Revenue: 121},
		{Ticker: "2330", Month: "2023-12-01", Revenue: 110},
		{Ticker: "2330", Month: "2023-01-01", Revenue: 100},
	}
	deriveGrowthRates(rows)

	// sorted ascending in place
	assert.Equal(t, "2023-01-01", rows[0].Month)

	jan24 := rows[2]
	require.NotNil(t, jan24.MoM)
	assert.InDelta(t, 10.0, *jan24.MoM, 1e-9)
	require.NotNil(t, jan24.YoY)
	assert.InDelta(t, 21.0, *jan24.YoY, 1e-9)

	// no prior observations
	assert.Nil(t, rows[0].MoM)
	assert.Nil(t, rows[0].YoY)

	// gap month: December has no November observation
	assert.Nil(t, rows[1].MoM)
}

func TestDeriveQualityRows(t *testing.T) {
	stmts := []finmind.StatementRow{
		{Date: "2024-03-31", Type: "Revenue", Value: 1000},
		{Date: "2024-03-31", Type: "GrossProfit", Value: 530},
		{Date: "2024-03-31", Type: "OperatingIncome", Value: 420},
		{Date: "2024-03-31", OriginName: "本期淨利（淨損）", Value: 380},
		{Date: "2024-03-31", Type: "EPS", Value: 8.7},
	}
	balance := []finmind.StatementRow{
		{Date: "2024-03-31", OriginName: "資產總額", Value: 5000},
		{Date: "2024-03-31", Type: "Liabilities", Value: 1500},
		{Date: "2024-03-31", OriginName: "權益總額", Value: 3500},
		{Date: "2024-03-31", Type: "CurrentAssets", Value: 2000},
		{Date: "2024-03-31", OriginName: "流動負債", Value: 800},
	}

	rows := DeriveQualityRows("2330", stmts, balance)
	require.Len(t, rows, 1)
	row := rows[0]

	require.NotNil(t, row.GrossMargin)
	assert.InDelta(t, 53.0, *row.GrossMargin, 1e-9)
	require.NotNil(t, row.OpMargin)
	assert.InDelta(t, 42.0, *row.OpMargin, 1e-9)
	require.NotNil(t, row.NetMargin)
	assert.InDelta(t, 38.0, *row.NetMargin, 1e-9)
	require.NotNil(t, row.ROA)
	assert.InDelta(t, 7.6, *row.ROA, 1e-9)
	require.NotNil(t, row.ROE)
	assert.InDelta(t, 380.0/3500*100, *row.ROE, 1e-9)
	require.NotNil(t, row.DebtRatio)
	assert.InDelta(t, 30.0, *row.DebtRatio, 1e-9)
	require.NotNil(t, row.CurrentRatio)
	assert.InDelta(t, 2.5, *row.CurrentRatio, 1e-9)
	require.NotNil(t, row.EPS)
	assert.InDelta(t, 8.7, *row.EPS, 1e-9)
}

func TestDeriveQualityRowsNeedsAtLeastOneMetric(t *testing.T) {
	// an unmatched account name yields nothing
	rows := DeriveQualityRows("2330", []finmind.StatementRow{
		{Date: "2024-03-31", Type: "SomethingElse", Value: 1},
	}, nil)
	assert.Empty(t, rows)

	// revenue alone computes no ratio either
	rows = DeriveQualityRows("2330", []finmind.StatementRow{
		{Date: "2024-03-31", Type: "Revenue", Value: 1000},
	}, nil)
	assert.Empty(t, rows)
}

func TestFoldFlowRows(t *testing.T) {
	raw := []finmind.FlowRow{
		{Date: "2024-01-02", Name: "Foreign_Investor", Buy: 30000000, Sell: 28500000},
		{Date: "2024-01-02", Name: "Investment_Trust", Buy: 100000, Sell: 120000},
		{Date: "2024-01-02", Name: "Dealer_self", Buy: 5000, Sell: 0},
		{Date: "2024-01-02", Name: "Foreign_Dealer_Self", Buy: 999, Sell: 0}, // excluded from foreign
		{Date: "2024-01-03", Name: "外資及陸資", Buy: 0, Sell: 800000},
		{Date: "2024-01-03", Name: "自營商(自行買賣)", Buy: 1000, Sell: 2000},
	}

	rows := FoldFlowRows("2330", raw)
	require.Len(t, rows, 2)

	assert.Equal(t, "2024-01-02", rows[0].Date)
	assert.Equal(t, int64(1500000), rows[0].ForeignNet)
	assert.Equal(t, int64(-20000), rows[0].InvTrustNet)
	assert.Equal(t, int64(5000), rows[0].DealerNet)

	assert.Equal(t, "2024-01-03", rows[1].Date)
	assert.Equal(t, int64(-800000), rows[1].ForeignNet)
	assert.Equal(t, int64(-1000), rows[1].DealerNet)
}

func TestMonthBounds(t *testing.T) {
	start, end := monthBounds("202402")
	assert.Equal(t, "2024-02-01", start)
	assert.Equal(t, "2024-02-29", end)
}

func TestComputeSnapshotShortSeries(t *testing.T) {
	bars := []domain.PriceBar{
		{Ticker: "2330", Date: "2024-01-02", Close: 100},
		{Ticker: "2330", Date: "2024-01-03", Close: 101},
		{Ticker: "2330", Date: "2024-01-04", Close: 102},
		{Ticker: "2330", Date: "2024-01-05", Close: 103},
		{Ticker: "2330", Date: "2024-01-08", Close: 104},
		{Ticker: "2330", Date: "2024-01-09", Close: 105},
	}

	snap := ComputeSnapshot("2330", bars)
	assert.Equal(t, "2024-01-09", snap.Date)

	require.NotNil(t, snap.MA5)
	assert.InDelta(t, 103.0, *snap.MA5, 1e-9)

	// 6 bars: everything with a longer warm-up stays null
	assert.Nil(t, snap.MA20)
	assert.Nil(t, snap.MA60)
	assert.Nil(t, snap.MACD)
	assert.Nil(t, snap.BBUpper)
	assert.Nil(t, snap.RSI)
	assert.Nil(t, snap.PriceChange1M)
	assert.Zero(t, snap.MA20AboveMA60Days)
}

func TestComputeSnapshotLongSeries(t *testing.T) {
	bars := make([]domain.PriceBar, 130)
	for i := range bars {
		bars[i] = domain.PriceBar{
			Ticker: "2330",
			Date:   "2024-01-02",
			Close:  100 + float64(i)*0.5, // steady uptrend
		}
	}

	snap := ComputeSnapshot("2330", bars)

	require.NotNil(t, snap.MA5)
	require.NotNil(t, snap.MA20)
	require.NotNil(t, snap.MA60)
	require.NotNil(t, snap.MACD)
	require.NotNil(t, snap.BBUpper)
	require.NotNil(t, snap.BBMiddle)
	require.NotNil(t, snap.BBLower)

	// uptrend: short average above long, RSI pinned at 100
	assert.Greater(t, *snap.MA20, *snap.MA60)
	require.NotNil(t, snap.RSI)
	assert.Equal(t, 100.0, *snap.RSI)

	require.NotNil(t, snap.PriceChange1M)
	assert.Greater(t, *snap.PriceChange1M, 0.0)
	assert.Nil(t, snap.PriceChange52W) // needs 253 bars

	assert.Greater(t, snap.MA20AboveMA60Days, 0)
}

func openPriceDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "price.db"),
		Name: "price",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func openQualityDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "quality.db"),
		Name: "quality",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQualityFetcherRefetchesStaleQuarters(t *testing.T) {
	now := time.Now()
	staleDate := now.AddDate(0, 0, -200).Format("2006-01-02")
	freshDate := now.AddDate(0, 0, -40).Format("2006-01-02")

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, `{"status":200,"msg":"ok","data":[
			{"date":%q,"stock_id":"2330","type":"Revenue","value":1000},
			{"date":%q,"stock_id":"2330","type":"GrossProfit","value":530}
		]}`, freshDate, freshDate)
	}))
	defer srv.Close()

	fallback := finmind.NewClient("", nil, zerolog.Nop())
	fallback.SetBaseURL(srv.URL)

	db := openQualityDB(t)
	repo := repositories.NewQualityRepository(db.Conn(), zerolog.Nop())

	// the stored report lies inside the fetch window but is two quarters old
	require.NoError(t, repo.Upsert([]domain.QualityRow{
		{Ticker: "2330", Date: staleDate, ROE: domain.Float64Ptr(20)},
	}))

	f := NewQualityFetcher(Sources{Fallback: fallback}, repo, zerolog.Nop())
	window := WindowDays(420)

	rows, err := f.Fetch(context.Background(), "2330", window, false)
	require.NoError(t, err)
	assert.Positive(t, atomic.LoadInt32(&calls), "stale quarterly data must be refetched")
	require.Len(t, rows, 2)
	assert.Equal(t, freshDate, rows[1].Date)
	require.NotNil(t, rows[1].GrossMargin)
	assert.InDelta(t, 53.0, *rows[1].GrossMargin, 1e-9)

	// the refreshed store now short-circuits without touching the sources
	atomic.StoreInt32(&calls, 0)
	rows, err = f.Fetch(context.Background(), "2330", window, false)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestPriceFetcherPrimaryThenStore(t *testing.T) {
	primarySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"stat": "OK",
			"data": [
				["113/01/02","1,000","100,000","99.00","101.00","98.00","100.00","+1.00","10"],
				["113/01/03","2,000","202,000","100.00","102.00","100.00","101.00","+1.00","12"]
			]
		}`))
	}))
	defer primarySrv.Close()

	primary := twse.NewClient(nil, zerolog.Nop())
	primary.SetBaseURLs(primarySrv.URL, primarySrv.URL)

	db := openPriceDB(t)
	repo := repositories.NewPriceRepository(db.Conn(), zerolog.Nop())
	f := NewPriceFetcher(Sources{Primary: primary, Fallback: finmind.NewClient("", nil, zerolog.Nop())}, repo, zerolog.Nop())

	window := Window{Start: "2024-01-01", End: "2024-01-31"}
	bars, err := f.Fetch(context.Background(), "2330", window, false)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Close)

	// second call is served from the store without touching the sources
	f2 := NewPriceFetcher(Sources{}, repo, zerolog.Nop())
	bars, err = f2.Fetch(context.Background(), "2330", Window{Start: "2024-01-01", End: "2024-01-03"}, false)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestPriceFetcherFallsBack(t *testing.T) {
	primarySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat": "no data"}`))
	}))
	defer primarySrv.Close()

	fallbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": 200, "msg": "ok",
			"data": [{"date":"2024-01-02","stock_id":"2330","open":99,"max":101,"min":98,"close":100,"Trading_Volume":1000,"Trading_money":100000}]
		}`))
	}))
	defer fallbackSrv.Close()

	primary := twse.NewClient(nil, zerolog.Nop())
	primary.SetBaseURLs(primarySrv.URL, primarySrv.URL)
	fallback := finmind.NewClient("", nil, zerolog.Nop())
	fallback.SetBaseURL(fallbackSrv.URL)

	db := openPriceDB(t)
	repo := repositories.NewPriceRepository(db.Conn(), zerolog.Nop())
	f := NewPriceFetcher(Sources{Primary: primary, Fallback: fallback}, repo, zerolog.Nop())

	bars, err := f.Fetch(context.Background(), "2330", Window{Start: "2024-01-01", End: "2024-01-31"}, false)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 100.0, bars[0].Close)
}
