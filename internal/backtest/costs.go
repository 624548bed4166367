// Package backtest implements the portfolio construction and simulation
// stack: transaction cost model, top-N portfolio builder, the day-loop
// kernel, parameter sweeps, walk-forward evaluation and bootstrap risk
// bounds. Everything in this package is single-threaded and deterministic.
package backtest

// Side of a fill.
type Side int

// Fill sides.
const (
	Buy Side = iota
	Sell
)

// CostModel prices the friction of a fill: brokerage both ways, transaction
// tax on sells only, slippage both ways.
type CostModel struct {
	Brokerage float64
	Tax       float64
	Slippage  float64
}

// DefaultCostModel returns the Taiwan market defaults.
func DefaultCostModel() CostModel {
	return CostModel{
		Brokerage: 0.001425,
		Tax:       0.003,
		Slippage:  0.0015,
	}
}

// ZeroCostModel trades friction-free. Used for sweep baselines and tests.
func ZeroCostModel() CostModel {
	return CostModel{}
}

// Apply returns the effective per-unit price of a fill at the given side.
func (c CostModel) Apply(price float64, side Side) float64 {
	if side == Buy {
		return price * (1 + c.Slippage) * (1 + c.Brokerage)
	}
	return price * (1 - c.Slippage) * (1 - c.Brokerage - c.Tax)
}
