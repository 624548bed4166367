// Package repositories implements data access for the three databases.
// One repository per table family, all keyed by (ticker, date|month) natural
// keys with INSERT OR REPLACE semantics so fetches are idempotent.
package repositories

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/domain"
)

// PriceRepository handles the price database (stock_prices, valuations).
type PriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("repo", "price").Logger(),
	}
}

// UpsertBars writes a batch of price bars in a single transaction.
func (r *PriceRepository) UpsertBars(bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO stock_prices (ticker, date, open, high, low, close, volume, turnover)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, bar := range bars {
			if _, err := stmt.Exec(bar.Ticker, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.Turnover); err != nil {
				return fmt.Errorf("failed to upsert price bar %s %s: %w", bar.Ticker, bar.Date, err)
			}
		}
		return nil
	})
}

// UpsertValuations writes a batch of daily valuation rows in one transaction.
func (r *PriceRepository) UpsertValuations(rows []domain.Valuation) error {
	if len(rows) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO valuations (ticker, date, per, pbr, dividend_yield)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare valuations upsert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if row.IsEmpty() {
				continue
			}
			if _, err := stmt.Exec(row.Ticker, row.Date, row.PER, row.PBR, row.DividendYield); err != nil {
				return fmt.Errorf("failed to upsert valuation %s %s: %w", row.Ticker, row.Date, err)
			}
		}
		return nil
	})
}

// GetRange returns bars for a ticker between from and to (inclusive),
// in date-ascending order.
func (r *PriceRepository) GetRange(ticker, from, to string) ([]domain.PriceBar, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, open, high, low, close, volume, turnover
		FROM stock_prices
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query price range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetSeries returns all bars for a ticker in date-ascending order.
func (r *PriceRepository) GetSeries(ticker string) ([]domain.PriceBar, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, open, high, low, close, volume, turnover
		FROM stock_prices
		WHERE ticker = ?
		ORDER BY date ASC
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query price series: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetLatestDate returns the most recent bar date for a ticker, or "" when
// no bars are stored.
func (r *PriceRepository) GetLatestDate(ticker string) (string, error) {
	var date sql.NullString
	err := r.db.QueryRow(`SELECT MAX(date) FROM stock_prices WHERE ticker = ?`, ticker).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest price date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// GetTickers returns all tickers that have stored bars.
func (r *PriceRepository) GetTickers() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT ticker FROM stock_prices ORDER BY ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query price tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, ticker)
	}
	return tickers, rows.Err()
}

// AvgTurnover returns the average turnover of the last n bars for a ticker.
// Used by the portfolio builder's liquidity clip.
func (r *PriceRepository) AvgTurnover(ticker string, n int) (float64, error) {
	var avg sql.NullFloat64
	err := r.db.QueryRow(`
		SELECT AVG(turnover) FROM (
			SELECT turnover FROM stock_prices
			WHERE ticker = ?
			ORDER BY date DESC
			LIMIT ?
		)
	`, ticker, n).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to query average turnover: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func scanBars(rows *sql.Rows) ([]domain.PriceBar, error) {
	var bars []domain.PriceBar
	for rows.Next() {
		var bar domain.PriceBar
		var volume, turnover sql.NullInt64
		var open, high, low sql.NullFloat64

		if err := rows.Scan(&bar.Ticker, &bar.Date, &open, &high, &low, &bar.Close, &volume, &turnover); err != nil {
			return nil, fmt.Errorf("failed to scan price bar: %w", err)
		}

		bar.Open = open.Float64
		bar.High = high.Float64
		bar.Low = low.Float64
		bar.Volume = volume.Int64
		bar.Turnover = turnover.Int64
		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price bars: %w", err)
	}
	return bars, nil
}
