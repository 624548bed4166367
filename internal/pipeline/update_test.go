package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/twscreener/internal/batch"
	"github.com/aristath/twscreener/internal/clients/finmind"
	"github.com/aristath/twscreener/internal/clients/twse"
	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/fetchers"
)

type env struct {
	updater   *Updater
	priceRepo *repositories.PriceRepository
}

func newEnv(t *testing.T, twseSrv, finmindSrv *httptest.Server) *env {
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

	fundamentals := open("fundamentals")
	open("quality")
	price := open("price")

	primary := twse.NewClient(nil, zerolog.Nop())
	fallback := finmind.NewClient("", nil, zerolog.Nop())
	if twseSrv != nil {
		primary.SetBaseURLs(twseSrv.URL, twseSrv.URL)
	}
	if finmindSrv != nil {
		fallback.SetBaseURL(finmindSrv.URL)
	}
	sources := fetchers.Sources{Primary: primary, Fallback: fallback}

	priceRepo := repositories.NewPriceRepository(price.Conn(), zerolog.Nop())
	valuationRepo := repositories.NewValuationRepository(fundamentals.Conn(), zerolog.Nop())
	stocks := repositories.NewStockListRepository(fundamentals.Conn(), zerolog.Nop())

	tracker, err := batch.NewTracker(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	executor := batch.NewExecutor(batch.Options{Concurrency: 2, MaxRetries: 1}, zerolog.Nop())

	u := NewUpdater(Fetchers{
		Price:     fetchers.NewPriceFetcher(sources, priceRepo, zerolog.Nop()),
		Valuation: fetchers.NewValuationFetcher(sources, valuationRepo, priceRepo, zerolog.Nop()),
	}, stocks, executor, tracker, zerolog.Nop())

	return &env{updater: u, priceRepo: priceRepo}
}

func TestRunPriceFactor(t *testing.T) {
	twseSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"stat": "OK",
			"data": [
				["113/01/02","1,000","100,000","99.00","101.00","98.00","100.00","+1.00","10"]
			]
		}`))
	}))
	defer twseSrv.Close()
	finmindSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 200, "msg": "ok", "data": []}`))
	}))
	defer finmindSrv.Close()

	e := newEnv(t, twseSrv, finmindSrv)

	results, err := e.updater.Run(context.Background(), Options{
		Factors: []string{"price"},
		Tickers: []string{"2330", "2317"},
		Days:    30,
	})
	require.NoError(t, err)

	res, ok := results["price"]
	require.True(t, ok)
	assert.Len(t, res.Successful, 2)
	assert.Empty(t, res.Failed)

	// a clean run clears its ledger
	assert.Nil(t, e.updater.Status()["price"])
}

func TestRunQuotaAbortsRemainingFactors(t *testing.T) {
	twseSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat": "no data"}`))
	}))
	defer twseSrv.Close()
	finmindSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer finmindSrv.Close()

	e := newEnv(t, twseSrv, finmindSrv)

	results, err := e.updater.Run(context.Background(), Options{
		Factors: []string{"valuation", "price"},
		Tickers: []string{"2330", "2317", "2454"},
	})
	require.NoError(t, err)

	res, ok := results["valuation"]
	require.True(t, ok)
	assert.True(t, res.QuotaExceeded)

	_, ran := results["price"]
	assert.False(t, ran, "quota stop aborts the remaining factors")

	status := e.updater.Status()
	require.NotNil(t, status["valuation"])
	assert.True(t, status["valuation"].QuotaExceeded)
}

func TestRunUnknownFactor(t *testing.T) {
	e := newEnv(t, nil, nil)
	_, err := e.updater.Run(context.Background(), Options{
		Factors: []string{"sentiment"},
		Tickers: []string{"2330"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown factor")
}

func TestRunEmptyUniverse(t *testing.T) {
	e := newEnv(t, nil, nil)
	_, err := e.updater.Run(context.Background(), Options{Factors: []string{"price"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tickers")
}
