package fetchers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
	"github.com/aristath/twscreener/pkg/formulas"
)

// warmupDays is how far the price window is extended backwards so MA60,
// MACD and RSI have enough bars before the requested range.
const warmupDays = 120

// MomentumFetcher computes technical indicator snapshots from stored daily
// bars, pulling prices through the price fetcher when the local series is
// too short.
type MomentumFetcher struct {
	prices *PriceFetcher
	repo   *repositories.MomentumRepository
	log    zerolog.Logger
}

// NewMomentumFetcher creates a new momentum fetcher
func NewMomentumFetcher(prices *PriceFetcher, repo *repositories.MomentumRepository, log zerolog.Logger) *MomentumFetcher {
	return &MomentumFetcher{
		prices: prices,
		repo:   repo,
		log:    log.With().Str("fetcher", "momentum").Logger(),
	}
}

// Fetch computes and stores the indicator snapshot for ticker as of the last
// bar inside the window. Returns nil without error when there is no price
// data at all.
func (f *MomentumFetcher) Fetch(ctx context.Context, ticker string, window Window, force bool) (*domain.MomentumSnapshot, error) {
	if !force {
		stored, err := f.repo.Latest(ticker)
		if err != nil {
			return nil, err
		}
		if stored != nil && stored.Date >= window.End {
			return stored, nil
		}
	}

	extended := extendBackDays(window, warmupDays)
	bars, err := f.prices.Fetch(ctx, ticker, extended, force)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	snapshot := ComputeSnapshot(ticker, bars)
	if err := f.repo.Upsert([]domain.MomentumSnapshot{snapshot}); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// ComputeSnapshot derives every indicator from the close series and emits
// the last bar's values. Indicators whose warm-up exceeds the series stay
// null.
func ComputeSnapshot(ticker string, bars []domain.PriceBar) domain.MomentumSnapshot {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	last := len(closes) - 1

	snap := domain.MomentumSnapshot{
		Ticker: ticker,
		Date:   bars[last].Date,
	}

	ma5, w5 := formulas.SMA(closes, formulas.SMAShort)
	ma20, w20 := formulas.SMA(closes, formulas.SMAMid)
	ma60, w60 := formulas.SMA(closes, formulas.SMALong)
	snap.MA5 = formulas.At(ma5, last, w5)
	snap.MA20 = formulas.At(ma20, last, w20)
	snap.MA60 = formulas.At(ma60, last, w60)

	macd, wMACD := formulas.MACDLine(closes)
	snap.MACD = formulas.At(macd, last, wMACD)

	upper, middle, lower, wBB := formulas.Bollinger(closes)
	snap.BBUpper = formulas.At(upper, last, wBB)
	snap.BBMiddle = formulas.At(middle, last, wBB)
	snap.BBLower = formulas.At(lower, last, wBB)

	snap.RSI = formulas.RSI(closes, formulas.RSIPeriod)
	snap.PriceChange1M = formulas.PriceChange(closes, 22)
	snap.PriceChange52W = formulas.PriceChange(closes, 252)

	if ma20 != nil && ma60 != nil {
		snap.MA20AboveMA60Days = formulas.MA20AboveMA60Count(ma20, ma60, w60)
	}

	return snap
}

// extendBackDays widens a window's start by n calendar days.
func extendBackDays(w Window, n int) Window {
	start, err := time.Parse("2006-01-02", w.Start)
	if err != nil {
		return w
	}
	return Window{
		Start: start.AddDate(0, 0, -n).Format("2006-01-02"),
		End:   w.End,
	}
}
