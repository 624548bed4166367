package backtest

import (
	"errors"
	"math/rand"

	"github.com/aristath/twscreener/pkg/formulas"
)

// DefaultBootstrapIterations is the resample count when none is given.
const DefaultBootstrapIterations = 1000

// BootstrapCI is the empirical 95% confidence interval of max drawdown
// under return resampling.
type BootstrapCI struct {
	Iterations int     `json:"iterations"`
	MDDLow     float64 `json:"mdd_p2_5"`
	MDDHigh    float64 `json:"mdd_p97_5"`
}

// ErrShortEquity rejects bootstrap input with fewer than two samples.
var ErrShortEquity = errors.New("equity curve too short to bootstrap")

// BootstrapMDD resamples the curve's per-step returns with replacement,
// rebuilds an equity path per iteration and collects its max drawdown.
// Pass a seeded rng for reproducible output; nil uses a fixed seed.
func BootstrapMDD(equity []float64, iterations int, rng *rand.Rand) (*BootstrapCI, error) {
	if len(equity) < 2 {
		return nil, ErrShortEquity
	}
	if iterations <= 0 {
		iterations = DefaultBootstrapIterations
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	returns := formulas.DailyReturns(equity)
	mdds := make([]float64, iterations)
	path := make([]float64, len(returns)+1)

	for it := 0; it < iterations; it++ {
		path[0] = 1
		for i := range returns {
			path[i+1] = path[i] * (1 + returns[rng.Intn(len(returns))])
		}
		mdds[it] = formulas.MaxDrawdown(path)
	}

	return &BootstrapCI{
		Iterations: iterations,
		MDDLow:     formulas.Quantile(mdds, 0.025),
		MDDHigh:    formulas.Quantile(mdds, 0.975),
	}, nil
}
