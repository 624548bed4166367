package scoring

import (
	"fmt"
	"strconv"
	"strings"
)

// Method selects how a metric value is ranked against the cross-section.
type Method string

// Supported ranking methods.
const (
	MethodZScore     Method = "zscore"
	MethodPercentile Method = "percentile"
	MethodRolling    Method = "rolling"
)

// Weights holds the per-factor mix. Any positive-sum vector is accepted;
// scores are computed over the normalized weights.
type Weights struct {
	Valuation float64 `json:"valuation"`
	Growth    float64 `json:"growth"`
	Quality   float64 `json:"quality"`
	Chips     float64 `json:"chips"`
	Momentum  float64 `json:"momentum"`
}

// DefaultWeights is the standard mix: valuation-tilted, the rest equal.
func DefaultWeights() Weights {
	return Weights{
		Valuation: 0.40,
		Growth:    0.15,
		Quality:   0.15,
		Chips:     0.15,
		Momentum:  0.15,
	}
}

// Normalized returns the weights scaled to sum to 1. A non-positive sum
// falls back to the defaults.
func (w Weights) Normalized() Weights {
	sum := w.Valuation + w.Growth + w.Quality + w.Chips + w.Momentum
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Valuation: w.Valuation / sum,
		Growth:    w.Growth / sum,
		Quality:   w.Quality / sum,
		Chips:     w.Chips / sum,
		Momentum:  w.Momentum / sum,
	}
}

// ParseWeights parses a "valuation,growth,quality,chips,momentum" vector.
// An empty string yields the defaults.
func ParseWeights(s string) (Weights, error) {
	if s == "" {
		return DefaultWeights(), nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 5 {
		return Weights{}, fmt.Errorf("weights need 5 comma-separated values, got %d", len(parts))
	}

	vals := make([]float64, 5)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Weights{}, fmt.Errorf("invalid weight %q: %w", part, err)
		}
		if v < 0 {
			return Weights{}, fmt.Errorf("weight %q is negative", part)
		}
		vals[i] = v
	}

	return Weights{
		Valuation: vals[0],
		Growth:    vals[1],
		Quality:   vals[2],
		Chips:     vals[3],
		Momentum:  vals[4],
	}, nil
}

// ParseMethod validates a scoring method name. Empty means zscore.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodZScore:
		return MethodZScore, nil
	case MethodPercentile:
		return MethodPercentile, nil
	case MethodRolling:
		return MethodRolling, nil
	}
	return "", fmt.Errorf("unknown scoring method %q", s)
}

// Config parameterizes one scoring run.
type Config struct {
	Weights Weights
	Method  Method
	Window  int // history depth for the rolling method
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights: DefaultWeights(),
		Method:  MethodZScore,
		Window:  4,
	}
}
