package repositories

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/domain"
)

// ValuationRepository handles the valuation table in the fundamentals database.
type ValuationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewValuationRepository creates a new valuation repository
func NewValuationRepository(db *sql.DB, log zerolog.Logger) *ValuationRepository {
	return &ValuationRepository{
		db:  db,
		log: log.With().Str("repo", "valuation").Logger(),
	}
}

// Upsert writes a batch of valuation rows in a single transaction.
// All-null rows are rejected.
func (r *ValuationRepository) Upsert(rows []domain.Valuation) error {
	if len(rows) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO valuation (ticker, date, per, pbr, dividend_yield)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare valuation upsert: %w", err)
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

// GetRange returns valuation rows for a ticker between from and to, ascending.
func (r *ValuationRepository) GetRange(ticker, from, to string) ([]domain.Valuation, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, per, pbr, dividend_yield
		FROM valuation
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuation range: %w", err)
	}
	defer rows.Close()

	return scanValuations(rows)
}

// CrossSection returns all rows at the maximum stored date <= target.
// An empty target means the latest cross-section.
func (r *ValuationRepository) CrossSection(target string) ([]domain.Valuation, error) {
	date, err := maxKeyAtOrBefore(r.db, "valuation", "date", target)
	if err != nil {
		return nil, err
	}
	if date == "" {
		return nil, nil
	}

	rows, err := r.db.Query(`
		SELECT ticker, date, per, pbr, dividend_yield
		FROM valuation
		WHERE date = ?
		ORDER BY ticker ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuation cross-section: %w", err)
	}
	defer rows.Close()

	return scanValuations(rows)
}

// Latest returns the most recent row for a ticker, or nil when absent.
func (r *ValuationRepository) Latest(ticker string) (*domain.Valuation, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, per, pbr, dividend_yield
		FROM valuation
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT 1
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest valuation: %w", err)
	}
	defer rows.Close()

	vals, err := scanValuations(rows)
	if err != nil || len(vals) == 0 {
		return nil, err
	}
	return &vals[0], nil
}

func scanValuations(rows *sql.Rows) ([]domain.Valuation, error) {
	var vals []domain.Valuation
	for rows.Next() {
		var v domain.Valuation
		var per, pbr, dy sql.NullFloat64

		if err := rows.Scan(&v.Ticker, &v.Date, &per, &pbr, &dy); err != nil {
			return nil, fmt.Errorf("failed to scan valuation: %w", err)
		}

		if per.Valid {
			v.PER = &per.Float64
		}
		if pbr.Valid {
			v.PBR = &pbr.Float64
		}
		if dy.Valid {
			v.DividendYield = &dy.Float64
		}
		vals = append(vals, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating valuations: %w", err)
	}
	return vals, nil
}

// maxKeyAtOrBefore finds the maximum value of keyCol in table that is <= target.
// An empty target means no upper bound. Returns "" when the table is empty.
func maxKeyAtOrBefore(db *sql.DB, table, keyCol, target string) (string, error) {
	var query string
	var args []interface{}
	if target == "" {
		query = fmt.Sprintf("SELECT MAX(%s) FROM %s", keyCol, table)
	} else {
		query = fmt.Sprintf("SELECT MAX(%s) FROM %s WHERE %s <= ?", keyCol, table, keyCol)
		args = append(args, target)
	}

	var key sql.NullString
	if err := db.QueryRow(query, args...).Scan(&key); err != nil {
		return "", fmt.Errorf("failed to query max %s for %s: %w", keyCol, table, err)
	}
	if !key.Valid {
		return "", nil
	}
	return key.String, nil
}
