package formulas

// MaxDrawdown computes the maximum peak-to-trough drawdown of an equity
// curve. The result is <= 0; a monotonically rising curve yields 0.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}

	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := v/peak - 1
			if dd < maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// DrawdownSeries returns the running drawdown at each point of the curve.
func DrawdownSeries(equity []float64) []float64 {
	if len(equity) == 0 {
		return nil
	}

	out := make([]float64, len(equity))
	peak := equity[0]
	for i, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			out[i] = v/peak - 1
		}
	}
	return out
}
