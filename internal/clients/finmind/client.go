// Package finmind is the fallback data source client. One GET endpoint
// serves every dataset; responses share a {status, msg, data} envelope.
package finmind

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/cache"
)

const defaultBaseURL = "https://api.finmindtrade.com/api/v4/data"

// Client is a FinMind API client. A token raises the request quota; without
// one the provider enforces a low anonymous limit and answers 402 when it
// runs out.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
	cache   *cache.Cache
	log     zerolog.Logger
}

// NewClient creates a new FinMind client. cache may be nil to disable
// response caching.
func NewClient(token string, c *cache.Cache, log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: defaultBaseURL,
		token:   token,
		cache:   c,
		log:     log.With().Str("client", "finmind").Logger(),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// GetPrices fetches daily bars for a ticker over [start, end].
func (c *Client) GetPrices(ticker, start, end string) ([]PriceRow, error) {
	var rows []PriceRow
	err := c.fetch(DatasetPrice, ticker, start, end, cache.SnapshotTTL, &rows)
	return rows, err
}

// GetValuations fetches daily PER/PBR/yield rows for a ticker.
func (c *Client) GetValuations(ticker, start, end string) ([]PERRow, error) {
	var rows []PERRow
	err := c.fetch(DatasetPER, ticker, start, end, cache.SnapshotTTL, &rows)
	return rows, err
}

// GetMonthlyRevenue fetches monthly revenue rows for a ticker.
func (c *Client) GetMonthlyRevenue(ticker, start, end string) ([]RevenueRow, error) {
	var rows []RevenueRow
	err := c.fetch(DatasetMonthRevenue, ticker, start, end, cache.DefaultTTL, &rows)
	return rows, err
}

// GetFinancialStatements fetches income statement line items for a ticker.
func (c *Client) GetFinancialStatements(ticker, start, end string) ([]StatementRow, error) {
	var rows []StatementRow
	err := c.fetch(DatasetFinancialStmt, ticker, start, end, cache.DefaultTTL, &rows)
	return rows, err
}

// GetBalanceSheet fetches balance sheet line items for a ticker.
func (c *Client) GetBalanceSheet(ticker, start, end string) ([]StatementRow, error) {
	var rows []StatementRow
	err := c.fetch(DatasetBalanceSheet, ticker, start, end, cache.DefaultTTL, &rows)
	return rows, err
}

// GetInstitutionalFlow fetches institutional buy/sell rows for a ticker.
func (c *Client) GetInstitutionalFlow(ticker, start, end string) ([]FlowRow, error) {
	var rows []FlowRow
	err := c.fetch(DatasetInstitutionalFlow, ticker, start, end, cache.MonthlyTTL, &rows)
	return rows, err
}

// GetStockInfo fetches the full listed/OTC catalog.
func (c *Client) GetStockInfo() ([]InfoRow, error) {
	var rows []InfoRow
	err := c.fetch(DatasetStockInfo, "", "", "", cache.SnapshotTTL, &rows)
	return rows, err
}

// fetch performs one dataset request with cache read-through. dest must be a
// pointer to a slice of the dataset's row type.
func (c *Client) fetch(dataset, ticker, start, end string, ttl time.Duration, dest interface{}) error {
	params := map[string]string{}
	if ticker != "" {
		params["data_id"] = ticker
	}
	if start != "" {
		params["start_date"] = start
	}
	if end != "" {
		params["end_date"] = end
	}

	key := cache.Key(dataset, params)
	if c.cache != nil && c.cache.Get(key, dest) {
		return nil
	}

	query := url.Values{}
	query.Set("dataset", dataset)
	for name, value := range params {
		query.Set(name, value)
	}
	if c.token != "" {
		query.Set("token", c.token)
	}

	resp, err := c.client.Get(c.baseURL + "?" + query.Encode())
	if err != nil {
		return fmt.Errorf("failed to call finmind %s: %w", dataset, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decoding
	case http.StatusPaymentRequired:
		return &QuotaExceededError{Dataset: dataset}
	case http.StatusNotFound:
		// absent data is not an error; dest stays an empty slice
		return nil
	default:
		return fmt.Errorf("finmind %s returned status %d", dataset, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read finmind response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to decode finmind envelope: %w", err)
	}
	if env.Status != 0 && env.Status != http.StatusOK {
		return fmt.Errorf("finmind %s failed: %s", dataset, env.Msg)
	}

	var payload struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to decode finmind payload: %w", err)
	}
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, dest); err != nil {
			return fmt.Errorf("failed to decode finmind %s rows: %w", dataset, err)
		}
	}

	if c.cache != nil {
		if err := c.cache.Set(key, dest, ttl); err != nil {
			c.log.Warn().Err(err).Str("dataset", dataset).Msg("Failed to cache response")
		}
	}
	return nil
}
