package finmind

// Dataset names understood by the provider.
const (
	DatasetPrice             = "TaiwanStockPrice"
	DatasetPER               = "TaiwanStockPER"
	DatasetMonthRevenue      = "TaiwanStockMonthRevenue"
	DatasetFinancialStmt     = "TaiwanStockFinancialStatements"
	DatasetBalanceSheet      = "TaiwanStockBalanceSheet"
	DatasetInstitutionalFlow = "TaiwanStockInstitutionalInvestorsBuySell"
	DatasetStockInfo         = "TaiwanStockInfo"
)

// envelope is the provider's uniform response wrapper.
type envelope struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// PriceRow is one daily bar from TaiwanStockPrice.
type PriceRow struct {
	Date     string  `json:"date"`
	StockID  string  `json:"stock_id"`
	Open     float64 `json:"open"`
	High     float64 `json:"max"`
	Low      float64 `json:"min"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"Trading_Volume"`
	Turnover int64   `json:"Trading_money"`
}

// PERRow is one daily valuation row from TaiwanStockPER.
type PERRow struct {
	Date          string  `json:"date"`
	StockID       string  `json:"stock_id"`
	PER           float64 `json:"PER"`
	PBR           float64 `json:"PBR"`
	DividendYield float64 `json:"dividend_yield"`
}

// RevenueRow is one monthly revenue row from TaiwanStockMonthRevenue.
// Date is the announcement date; RevenueYear/RevenueMonth identify the
// revenue period.
type RevenueRow struct {
	Date         string `json:"date"`
	StockID      string `json:"stock_id"`
	Revenue      int64  `json:"revenue"`
	RevenueMonth int    `json:"revenue_month"`
	RevenueYear  int    `json:"revenue_year"`
}

// StatementRow is one financial statement or balance sheet line item.
// Type is the provider's normalized account name, OriginName the Chinese
// account label reported by the company.
type StatementRow struct {
	Date       string  `json:"date"`
	StockID    string  `json:"stock_id"`
	Type       string  `json:"type"`
	Value      float64 `json:"value"`
	OriginName string  `json:"origin_name"`
}

// FlowRow is one institutional investor row. The provider reports buy and
// sell legs separately; net is buy minus sell.
type FlowRow struct {
	Date    string `json:"date"`
	StockID string `json:"stock_id"`
	Name    string `json:"name"`
	Buy     int64  `json:"buy"`
	Sell    int64  `json:"sell"`
}

// InfoRow is one catalog entry from TaiwanStockInfo.
type InfoRow struct {
	StockID  string `json:"stock_id"`
	Name     string `json:"stock_name"`
	Industry string `json:"industry_category"`
	Type     string `json:"type"` // "twse" or "tpex"
}
