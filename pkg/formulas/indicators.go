package formulas

import (
	talib "github.com/markcheno/go-talib"
)

// Technical indicator wrappers. The TA library returns full-length slices
// with zeroed warm-up entries, so every wrapper pairs the raw series with its
// warm-up length and callers index by absolute bar position.

// SMAPeriods used by the momentum snapshot.
const (
	SMAShort = 5
	SMAMid   = 20
	SMALong  = 60
)

// MACD parameters (fast, slow, signal EMA periods).
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// BollingerPeriod and BollingerStdDevs parameterize the bands.
const (
	BollingerPeriod  = 20
	BollingerStdDevs = 2.0
)

// RSIPeriod is the lookback for the relative strength index.
const RSIPeriod = 14

// SMA returns the simple moving average series and its warm-up length.
// Entries at index < warmup are undefined.
func SMA(closes []float64, period int) (values []float64, warmup int) {
	if len(closes) < period {
		return nil, 0
	}
	return talib.Sma(closes, period), period - 1
}

// EMA returns the exponential moving average series (SMA-seeded) and its
// warm-up length.
func EMA(closes []float64, period int) (values []float64, warmup int) {
	if len(closes) < period {
		return nil, 0
	}
	return talib.Ema(closes, period), period - 1
}

// MACDLine returns the MACD line (fast EMA minus slow EMA) and its warm-up
// length.
func MACDLine(closes []float64) (values []float64, warmup int) {
	if len(closes) < MACDSlow+MACDSignal {
		return nil, 0
	}
	macd, _, _ := talib.Macd(closes, MACDFast, MACDSlow, MACDSignal)
	return macd, MACDSlow + MACDSignal - 2
}

// Bollinger returns the upper, middle and lower bands (population standard
// deviation) and their warm-up length.
func Bollinger(closes []float64) (upper, middle, lower []float64, warmup int) {
	if len(closes) < BollingerPeriod {
		return nil, nil, nil, 0
	}
	u, m, l := talib.BBands(closes, BollingerPeriod, BollingerStdDevs, BollingerStdDevs, talib.SMA)
	return u, m, l, BollingerPeriod - 1
}

// RSI computes the relative strength index over simple (unsmoothed) average
// gains and losses of the last RSIPeriod changes. Returns nil when the
// series is too short.
//
// Deliberately not the Wilder-smoothed variant: each value depends only on
// the trailing window, so a snapshot is reproducible from any warm-up slice.
func RSI(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}

	var gains, losses float64
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		v := 100.0
		return &v
	}

	rs := avgGain / avgLoss
	v := 100 - 100/(1+rs)
	return &v
}

// PriceChange returns the percent change between the last close and the
// close `bars` trading days earlier, or nil when the series is too short.
func PriceChange(closes []float64, bars int) *float64 {
	if len(closes) <= bars {
		return nil
	}
	prev := closes[len(closes)-1-bars]
	if prev == 0 {
		return nil
	}
	v := (closes[len(closes)-1]/prev - 1) * 100
	return &v
}

// MA20AboveMA60Count counts the days on which the 20-day average closed
// above the 60-day average. Both series must be aligned by absolute bar
// index against the same close series; indices inside the longer warm-up
// window are skipped rather than compared.
func MA20AboveMA60Count(ma20, ma60 []float64, warmup60 int) int {
	n := len(ma20)
	if len(ma60) < n {
		n = len(ma60)
	}

	count := 0
	for i := warmup60; i < n; i++ {
		if ma20[i] > ma60[i] {
			count++
		}
	}
	return count
}

// At returns a pointer to series[idx] when idx is past the warm-up window,
// nil otherwise.
func At(series []float64, idx, warmup int) *float64 {
	if series == nil || idx < warmup || idx >= len(series) {
		return nil
	}
	v := series[idx]
	return &v
}
