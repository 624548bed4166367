// Package formulas provides the statistical and technical analysis building
// blocks used by the scoring engine and the backtester.
package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// StdDev returns the population standard deviation of values.
// Returns 0 when fewer than two values are given.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := stat.Mean(values, nil)
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// SampleStdDev returns the sample standard deviation (n-1 denominator).
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// DailyReturns converts an equity or price series into simple daily returns.
// The result has len(series)-1 entries; an input shorter than 2 yields nil.
func DailyReturns(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, series[i]/series[i-1]-1)
	}
	return returns
}

// ZScore returns (v - mean) / std, or 0 when std is 0.
func ZScore(v, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (v - mean) / std
}

// Percentile returns the rank of v within values as a fraction in [0, 1]:
// the share of values strictly below v plus half the share equal to v.
func Percentile(v float64, values []float64) float64 {
	if len(values) == 0 {
		return 0.5
	}
	var below, equal float64
	for _, x := range values {
		switch {
		case x < v:
			below++
		case x == v:
			equal++
		}
	}
	return (below + equal/2) / float64(len(values))
}

// Quantile returns the q-th quantile (0 <= q <= 1) of values using linear
// interpolation between order statistics. values must be non-empty.
func Quantile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sortFloats(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func sortFloats(v []float64) {
	sort.Float64s(v)
}

// Clamp limits v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
