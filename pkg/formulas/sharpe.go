package formulas

import "math"

// TradingDaysPerYear is the annualization base for daily series.
const TradingDaysPerYear = 252

// SharpeRatio computes the annualized Sharpe ratio of a daily return series,
// assuming a zero risk-free rate. Returns 0 when the returns are degenerate
// (fewer than two observations or zero variance).
func SharpeRatio(dailyReturns []float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}

	mean := Mean(dailyReturns)
	std := StdDev(dailyReturns)
	if std == 0 {
		return 0
	}

	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// CAGR computes the compound annual growth rate of an equity curve sampled
// daily. first must be positive; degenerate inputs return 0.
func CAGR(equity []float64) float64 {
	if len(equity) < 2 || equity[0] <= 0 {
		return 0
	}

	ratio := equity[len(equity)-1] / equity[0]
	if ratio <= 0 {
		return -1
	}

	// N steps over N+1 equity samples
	years := float64(len(equity)-1) / TradingDaysPerYear
	return math.Pow(ratio, 1/years) - 1
}
