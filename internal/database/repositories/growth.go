package repositories

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/domain"
)

// GrowthRepository handles the growth_metrics table (monthly revenue + growth).
type GrowthRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewGrowthRepository creates a new growth repository
func NewGrowthRepository(db *sql.DB, log zerolog.Logger) *GrowthRepository {
	return &GrowthRepository{
		db:  db,
		log: log.With().Str("repo", "growth").Logger(),
	}
}

// Upsert writes a batch of growth rows in a single transaction.
func (r *GrowthRepository) Upsert(rows []domain.GrowthRow) error {
	if len(rows) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO growth_metrics (ticker, month, revenue, yoy, mom, eps, eps_qoq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare growth upsert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.Exec(row.Ticker, row.Month, row.Revenue, row.YoY, row.MoM, row.EPS, row.EPSQoQ); err != nil {
				return fmt.Errorf("failed to upsert growth %s %s: %w", row.Ticker, row.Month, err)
			}
		}
		return nil
	})
}

// GetRange returns growth rows for a ticker between two months, ascending.
func (r *GrowthRepository) GetRange(ticker, fromMonth, toMonth string) ([]domain.GrowthRow, error) {
	rows, err := r.db.Query(`
		SELECT ticker, month, revenue, yoy, mom, eps, eps_qoq
		FROM growth_metrics
		WHERE ticker = ? AND month >= ? AND month <= ?
		ORDER BY month ASC
	`, ticker, fromMonth, toMonth)
	if err != nil {
		return nil, fmt.Errorf("failed to query growth range: %w", err)
	}
	defer rows.Close()

	return scanGrowthRows(rows)
}

// CrossSection returns all rows at the maximum stored month <= target.
// An empty target means the latest cross-section.
func (r *GrowthRepository) CrossSection(target string) ([]domain.GrowthRow, error) {
	month, err := maxKeyAtOrBefore(r.db, "growth_metrics", "month", target)
	if err != nil {
		return nil, err
	}
	if month == "" {
		return nil, nil
	}

	rows, err := r.db.Query(`
		SELECT ticker, month, revenue, yoy, mom, eps, eps_qoq
		FROM growth_metrics
		WHERE month = ?
		ORDER BY ticker ASC
	`, month)
	if err != nil {
		return nil, fmt.Errorf("failed to query growth cross-section: %w", err)
	}
	defer rows.Close()

	return scanGrowthRows(rows)
}

// History returns the last n rows for a ticker, most recent first.
// Used by the rolling scoring method.
func (r *GrowthRepository) History(ticker string, n int) ([]domain.GrowthRow, error) {
	rows, err := r.db.Query(`
		SELECT ticker, month, revenue, yoy, mom, eps, eps_qoq
		FROM growth_metrics
		WHERE ticker = ?
		ORDER BY month DESC
		LIMIT ?
	`, ticker, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query growth history: %w", err)
	}
	defer rows.Close()

	return scanGrowthRows(rows)
}

func scanGrowthRows(rows *sql.Rows) ([]domain.GrowthRow, error) {
	var out []domain.GrowthRow
	for rows.Next() {
		var g domain.GrowthRow
		var revenue sql.NullInt64
		var yoy, mom, eps, epsQoQ sql.NullFloat64

		if err := rows.Scan(&g.Ticker, &g.Month, &revenue, &yoy, &mom, &eps, &epsQoQ); err != nil {
			return nil, fmt.Errorf("failed to scan growth row: %w", err)
		}

		g.Revenue = revenue.Int64
		if yoy.Valid {
			g.YoY = &yoy.Float64
		}
		if mom.Valid {
			g.MoM = &mom.Float64
		}
		if eps.Valid {
			g.EPS = &eps.Float64
		}
		if epsQoQ.Valid {
			g.EPSQoQ = &epsQoQ.Float64
		}
		out = append(out, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating growth rows: %w", err)
	}
	return out, nil
}
