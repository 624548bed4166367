// Package twse is the primary data source client, covering the exchange's
// legacy report API (tabular JSON with ROC dates and display-formatted
// numbers) and its open data API (plain JSON arrays).
package twse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/cache"
	"github.com/aristath/twscreener/internal/domain"
)

const (
	defaultReportBaseURL  = "https://www.twse.com.tw"
	defaultOpenAPIBaseURL = "https://openapi.twse.com.tw/v1"
)

// Client is a TWSE API client.
type Client struct {
	client         *http.Client
	reportBaseURL  string
	openAPIBaseURL string
	cache          *cache.Cache
	log            zerolog.Logger
}

// NewClient creates a new TWSE client. cache may be nil to disable response
// caching.
func NewClient(c *cache.Cache, log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		reportBaseURL:  defaultReportBaseURL,
		openAPIBaseURL: defaultOpenAPIBaseURL,
		cache:          c,
		log:            log.With().Str("client", "twse").Logger(),
	}
}

// SetBaseURLs overrides both API endpoints. Used by tests.
func (c *Client) SetBaseURLs(report, openAPI string) {
	c.reportBaseURL = report
	c.openAPIBaseURL = openAPI
}

// GetDailyBars fetches one month of daily bars for a ticker. month is
// formatted YYYYMM. A month with no trading data returns an empty slice.
func (c *Client) GetDailyBars(ticker, month string) ([]domain.PriceBar, error) {
	rep, err := c.getReport("/exchangeReport/STOCK_DAY", map[string]string{
		"date":    month + "01",
		"stockNo": ticker,
	}, cache.SnapshotTTL)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, nil
	}

	var bars []domain.PriceBar
	for _, row := range rep.Data {
		if len(row) < 7 {
			continue
		}
		date, err := ParseROCDate(row[0])
		if err != nil {
			c.log.Warn().Str("raw", row[0]).Msg("Skipping bar with unparseable date")
			continue
		}

		closePx := ParseNumber(row[6])
		if closePx == nil || *closePx <= 0 {
			// suspended or untraded day
			continue
		}

		bars = append(bars, domain.PriceBar{
			Ticker:   ticker,
			Date:     date,
			Open:     NumberOrZero(row[3]),
			High:     NumberOrZero(row[4]),
			Low:      NumberOrZero(row[5]),
			Close:    *closePx,
			Volume:   ParseInt(row[1]),
			Turnover: ParseInt(row[2]),
		})
	}
	return bars, nil
}

// GetValuations fetches one month of daily PER/PBR/dividend-yield rows for a
// ticker. month is formatted YYYYMM.
func (c *Client) GetValuations(ticker, month string) ([]ValuationRow, error) {
	rep, err := c.getReport("/exchangeReport/BWIBBU_d", map[string]string{
		"date":    month + "01",
		"stockNo": ticker,
	}, cache.SnapshotTTL)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, nil
	}

	// fields: 日期, 殖利率(%), 股利年度, 本益比, 股價淨值比, 財報年/季
	var rows []ValuationRow
	for _, row := range rep.Data {
		if len(row) < 5 {
			continue
		}
		date, err := ParseROCDate(row[0])
		if err != nil {
			continue
		}
		rows = append(rows, ValuationRow{
			Date:          date,
			DividendYield: ParseNumber(row[1]),
			PER:           ParseNumber(row[3]),
			PBR:           ParseNumber(row[4]),
		})
	}
	return rows, nil
}

// GetForeignFlow fetches foreign investor net trading for every ticker on
// one day. date is formatted YYYYMMDD.
func (c *Client) GetForeignFlow(date string) ([]ForeignFlowRow, error) {
	rep, err := c.getReport("/fund/TWT38U", map[string]string{
		"date": date,
	}, cache.MonthlyTTL)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, nil
	}

	isoDate := fmt.Sprintf("%s-%s-%s", date[:4], date[4:6], date[6:])

	// fields: 排行, 證券代號, 證券名稱, 買進股數, 賣出股數, 買賣超股數
	var rows []ForeignFlowRow
	for _, row := range rep.Data {
		if len(row) < 6 {
			continue
		}
		ticker := strings.TrimSpace(row[1])
		if ticker == "" {
			continue
		}
		rows = append(rows, ForeignFlowRow{
			Ticker: ticker,
			Date:   isoDate,
			Buy:    ParseInt(row[3]),
			Sell:   ParseInt(row[4]),
			Net:    ParseInt(row[5]),
		})
	}
	return rows, nil
}

// GetMonthlyRevenue fetches the current monthly revenue report for a ticker.
// The open data feed only carries the most recent month; a request for any
// other month returns empty so the caller falls back to the secondary
// source. month is formatted YYYYMM.
func (c *Client) GetMonthlyRevenue(ticker, month string) ([]RevenueRow, error) {
	var reports []revenueReport
	if err := c.getOpenData("/opendata/t187ap05_L", cache.DefaultTTL, &reports); err != nil {
		return nil, err
	}

	var rows []RevenueRow
	for _, rep := range reports {
		if rep.Code != ticker {
			continue
		}
		m, err := rocYearMonth(rep.Year)
		if err != nil || m != month {
			continue
		}
		rows = append(rows, RevenueRow{
			Ticker:  ticker,
			Month:   fmt.Sprintf("%s-%s-01", month[:4], month[4:]),
			Revenue: ParseInt(rep.Revenue),
		})
	}
	return rows, nil
}

// GetCompanyCatalog fetches the listed company catalog.
func (c *Client) GetCompanyCatalog() ([]domain.Stock, error) {
	var companies []companyInfo
	if err := c.getOpenData("/opendata/t187ap03_L", cache.SnapshotTTL, &companies); err != nil {
		return nil, err
	}

	var stocks []domain.Stock
	for _, co := range companies {
		code := strings.TrimSpace(co.Code)
		if code == "" {
			continue
		}
		name := strings.TrimSpace(co.Name)
		if name == "" {
			name = strings.TrimSpace(co.FullName)
		}
		stocks = append(stocks, domain.Stock{
			Ticker:   code,
			Name:     name,
			Industry: strings.TrimSpace(co.Industry),
			Market:   "TWSE",
		})
	}
	return stocks, nil
}

// getReport performs one legacy report API call with cache read-through.
// Returns nil (no error) when the report has no data for the query.
func (c *Client) getReport(path string, params map[string]string, ttl time.Duration) (*report, error) {
	key := cache.Key("twse"+path, params)

	var rep report
	if c.cache != nil && c.cache.Get(key, &rep) {
		return &rep, nil
	}

	query := url.Values{}
	query.Set("response", "json")
	for name, value := range params {
		query.Set(name, value)
	}

	resp, err := c.client.Get(c.reportBaseURL + path + "?" + query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to call twse %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twse %s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read twse response: %w", err)
	}

	if err := json.Unmarshal(body, &rep); err != nil {
		return nil, fmt.Errorf("failed to decode twse %s: %w", path, err)
	}

	if rep.Stat != "OK" {
		// "很抱歉，沒有符合條件的資料!" and friends: no data, not an error
		return nil, nil
	}

	if c.cache != nil {
		if err := c.cache.Set(key, &rep, ttl); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("Failed to cache response")
		}
	}
	return &rep, nil
}

// getOpenData performs one open data API call with cache read-through.
func (c *Client) getOpenData(path string, ttl time.Duration, dest interface{}) error {
	key := cache.Key("twse"+path, nil)
	if c.cache != nil && c.cache.Get(key, dest) {
		return nil
	}

	resp, err := c.client.Get(c.openAPIBaseURL + path)
	if err != nil {
		return fmt.Errorf("failed to call twse open data %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twse open data %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode twse open data %s: %w", path, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(key, dest, ttl); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("Failed to cache response")
		}
	}
	return nil
}

// rocYearMonth converts a ROC year-month string such as "11301" to "202401".
func rocYearMonth(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return "", fmt.Errorf("invalid ROC year-month %q", s)
	}

	year, err := strconv.Atoi(s[:len(s)-2])
	if err != nil {
		return "", fmt.Errorf("invalid ROC year in %q: %w", s, err)
	}
	month, err := strconv.Atoi(s[len(s)-2:])
	if err != nil || month < 1 || month > 12 {
		return "", fmt.Errorf("invalid month in %q", s)
	}

	return fmt.Sprintf("%04d%02d", year+1911, month), nil
}
