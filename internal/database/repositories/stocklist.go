package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/domain"
)

// StockListRepository handles the stock_list catalog and its update stamp.
type StockListRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStockListRepository creates a new stock list repository
func NewStockListRepository(db *sql.DB, log zerolog.Logger) *StockListRepository {
	return &StockListRepository{
		db:  db,
		log: log.With().Str("repo", "stock_list").Logger(),
	}
}

// Upsert replaces or inserts catalog entries in a single transaction.
func (r *StockListRepository) Upsert(stocks []domain.Stock) error {
	if len(stocks) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO stock_list (ticker, name, industry, market)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare stock list upsert: %w", err)
		}
		defer stmt.Close()

		for _, s := range stocks {
			if _, err := stmt.Exec(s.Ticker, s.Name, s.Industry, s.Market); err != nil {
				return fmt.Errorf("failed to upsert stock %s: %w", s.Ticker, err)
			}
		}
		return nil
	})
}

// List returns catalog entries, optionally filtered by market and/or industry.
// Empty filter values match everything. Results are ordered by ticker.
func (r *StockListRepository) List(market, industry string) ([]domain.Stock, error) {
	query := `SELECT ticker, name, industry, market FROM stock_list WHERE 1=1`
	var args []interface{}
	if market != "" {
		query += ` AND market = ?`
		args = append(args, market)
	}
	if industry != "" {
		query += ` AND industry = ?`
		args = append(args, industry)
	}
	query += ` ORDER BY ticker ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock list: %w", err)
	}
	defer rows.Close()

	var out []domain.Stock
	for rows.Next() {
		var s domain.Stock
		var industry, market sql.NullString
		if err := rows.Scan(&s.Ticker, &s.Name, &industry, &market); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		s.Industry = industry.String
		s.Market = market.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock list: %w", err)
	}
	return out, nil
}

// Get returns one catalog entry, or nil when the ticker is unknown.
func (r *StockListRepository) Get(ticker string) (*domain.Stock, error) {
	var s domain.Stock
	var industry, market sql.NullString
	err := r.db.QueryRow(
		`SELECT ticker, name, industry, market FROM stock_list WHERE ticker = ?`, ticker,
	).Scan(&s.Ticker, &s.Name, &industry, &market)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stock %s: %w", ticker, err)
	}
	s.Industry = industry.String
	s.Market = market.String
	return &s, nil
}

// Count returns the number of catalog entries.
func (r *StockListRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM stock_list`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stock list: %w", err)
	}
	return n, nil
}

// LastUpdated returns the stock_list_last_updated stamp, or the zero time when
// the catalog has never been refreshed.
func (r *StockListRepository) LastUpdated() (time.Time, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM meta WHERE key = 'stock_list_last_updated'`).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read stock list stamp: %w", err)
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stock list stamp %q: %w", value, err)
	}
	return t, nil
}

// StampUpdated records the refresh time in the meta table.
func (r *StockListRepository) StampUpdated(t time.Time) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('stock_list_last_updated', ?)`,
		t.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to stamp stock list update: %w", err)
	}
	return nil
}
