// Package domain holds the canonical typed records shared by the adapters,
// the storage engine and the analytics. Upstream JSON (ROC dates, comma
// separated numbers, per-entity rows) is normalized into these types at the
// adapter boundary; everything downstream consumes only these structs.
package domain

// PriceBar is one daily OHLCV bar. Dates are trading-day dates (YYYY-MM-DD)
// in the local market timezone. close > 0 and low <= open,close <= high.
type PriceBar struct {
	Ticker   string  `json:"ticker"`
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	Turnover int64   `json:"turnover"`
}

// Valuation holds the valuation multiples for one ticker on one day.
// Fields are nullable; an all-null row is rejected before persistence.
type Valuation struct {
	Ticker        string   `json:"ticker"`
	Date          string   `json:"date"`
	PER           *float64 `json:"per"`
	PBR           *float64 `json:"pbr"`
	DividendYield *float64 `json:"dividend_yield"`
}

// IsEmpty reports whether every valuation field is null.
func (v Valuation) IsEmpty() bool {
	return v.PER == nil && v.PBR == nil && v.DividendYield == nil
}

// GrowthRow is one month of revenue and growth metrics. Month is YYYY-MM-01.
// YoY/MoM are derived from the revenue sequence when the prior value is
// positive, otherwise null.
type GrowthRow struct {
	Ticker  string   `json:"ticker"`
	Month   string   `json:"month"`
	Revenue int64    `json:"revenue"`
	YoY     *float64 `json:"yoy"`
	MoM     *float64 `json:"mom"`
	EPS     *float64 `json:"eps"`
	EPSQoQ  *float64 `json:"eps_qoq"`
}

// QualityRow holds profitability and balance-sheet ratios derived from
// financial statement line items. A row is emitted iff at least one derived
// field is present.
type QualityRow struct {
	Ticker       string   `json:"ticker"`
	Date         string   `json:"date"`
	ROE          *float64 `json:"roe"`
	ROA          *float64 `json:"roa"`
	GrossMargin  *float64 `json:"gross_margin"`
	OpMargin     *float64 `json:"op_margin"`
	NetMargin    *float64 `json:"net_margin"`
	DebtRatio    *float64 `json:"debt_ratio"`
	CurrentRatio *float64 `json:"current_ratio"`
	EPS          *float64 `json:"eps"`
}

// HasAnyMetric reports whether at least one derived field is present.
func (q QualityRow) HasAnyMetric() bool {
	return q.ROE != nil || q.ROA != nil || q.GrossMargin != nil || q.OpMargin != nil ||
		q.NetMargin != nil || q.DebtRatio != nil || q.CurrentRatio != nil || q.EPS != nil
}

// FundFlowRow is the three-legged institutional net trading for one day.
// Values are signed share counts; positive means net buy.
type FundFlowRow struct {
	Ticker      string `json:"ticker"`
	Date        string `json:"date"`
	ForeignNet  int64  `json:"foreign_net"`
	InvTrustNet int64  `json:"inv_trust_net"`
	DealerNet   int64  `json:"dealer_net"`
}

// MomentumSnapshot holds the latest technical indicator values for a ticker.
// Indicators still inside their warm-up window are null.
type MomentumSnapshot struct {
	Ticker            string   `json:"ticker"`
	Date              string   `json:"date"`
	RSI               *float64 `json:"rsi"`
	MA5               *float64 `json:"ma5"`
	MA20              *float64 `json:"ma20"`
	MA60              *float64 `json:"ma60"`
	MACD              *float64 `json:"macd"`
	BBUpper           *float64 `json:"bb_upper"`
	BBMiddle          *float64 `json:"bb_middle"`
	BBLower           *float64 `json:"bb_lower"`
	PriceChange1M     *float64 `json:"price_change_1m"`
	PriceChange52W    *float64 `json:"price_change_52w"`
	MA20AboveMA60Days int      `json:"ma20_above_ma60_days"`
}

// Stock is one entry of the listed/OTC ticker catalog.
type Stock struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	Industry string `json:"industry"`
	Market   string `json:"market"`
}

// Float64Ptr returns a pointer to v. Convenience for building nullable rows.
func Float64Ptr(v float64) *float64 {
	return &v
}
