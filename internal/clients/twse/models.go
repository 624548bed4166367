package twse

// report is the exchange's legacy JSON envelope: tabular data with a field
// header and string cells.
type report struct {
	Stat   string     `json:"stat"`
	Date   string     `json:"date"`
	Title  string     `json:"title"`
	Fields []string   `json:"fields"`
	Data   [][]string `json:"data"`
}

// ValuationRow is one BWIBBU_d row (daily PER/PBR/dividend yield).
type ValuationRow struct {
	Date          string
	PER           *float64
	PBR           *float64
	DividendYield *float64
}

// ForeignFlowRow is one TWT38U row: foreign investor net trading for one
// ticker on the report date. Values are signed share counts.
type ForeignFlowRow struct {
	Ticker string
	Date   string
	Buy    int64
	Sell   int64
	Net    int64
}

// RevenueRow is one monthly revenue report row.
type RevenueRow struct {
	Ticker  string
	Month   string // YYYY-MM-01
	Revenue int64
}

// companyInfo is one catalog entry from the open data company listing.
type companyInfo struct {
	Code     string `json:"公司代號"`
	Name     string `json:"公司簡稱"`
	FullName string `json:"公司名稱"`
	Industry string `json:"產業別"`
}

// revenueReport is one open data monthly revenue entry.
type revenueReport struct {
	Date    string `json:"出表日期"`
	Year    string `json:"資料年月"`
	Code    string `json:"公司代號"`
	Revenue string `json:"營業收入-當月營收"`
}
