package repositories

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/domain"
)

// QualityRepository handles the quality_metrics table in the quality database.
type QualityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewQualityRepository creates a new quality repository
func NewQualityRepository(db *sql.DB, log zerolog.Logger) *QualityRepository {
	return &QualityRepository{
		db:  db,
		log: log.With().Str("repo", "quality").Logger(),
	}
}

// Upsert writes a batch of quality rows in a single transaction.
// Rows without a single derived metric are rejected.
func (r *QualityRepository) Upsert(rows []domain.QualityRow) error {
	if len(rows) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO quality_metrics
			(ticker, date, roe, roa, gross_margin, op_margin, net_margin, debt_ratio, current_ratio, eps)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare quality upsert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if !row.HasAnyMetric() {
				continue
			}
			if _, err := stmt.Exec(
				row.Ticker, row.Date, row.ROE, row.ROA, row.GrossMargin, row.OpMargin,
				row.NetMargin, row.DebtRatio, row.CurrentRatio, row.EPS,
			); err != nil {
				return fmt.Errorf("failed to upsert quality %s %s: %w", row.Ticker, row.Date, err)
			}
		}
		return nil
	})
}

// GetRange returns quality rows for a ticker between from and to, ascending.
func (r *QualityRepository) GetRange(ticker, from, to string) ([]domain.QualityRow, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, roe, roa, gross_margin, op_margin, net_margin, debt_ratio, current_ratio, eps
		FROM quality_metrics
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query quality range: %w", err)
	}
	defer rows.Close()

	return scanQualityRows(rows)
}

// CrossSection returns all rows at the maximum stored date <= target.
// An empty target means the latest cross-section.
func (r *QualityRepository) CrossSection(target string) ([]domain.QualityRow, error) {
	date, err := maxKeyAtOrBefore(r.db, "quality_metrics", "date", target)
	if err != nil {
		return nil, err
	}
	if date == "" {
		return nil, nil
	}

	rows, err := r.db.Query(`
		SELECT ticker, date, roe, roa, gross_margin, op_margin, net_margin, debt_ratio, current_ratio, eps
		FROM quality_metrics
		WHERE date = ?
		ORDER BY ticker ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query quality cross-section: %w", err)
	}
	defer rows.Close()

	return scanQualityRows(rows)
}

// History returns the last n rows for a ticker, most recent first.
func (r *QualityRepository) History(ticker string, n int) ([]domain.QualityRow, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, roe, roa, gross_margin, op_margin, net_margin, debt_ratio, current_ratio, eps
		FROM quality_metrics
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT ?
	`, ticker, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query quality history: %w", err)
	}
	defer rows.Close()

	return scanQualityRows(rows)
}

func scanQualityRows(rows *sql.Rows) ([]domain.QualityRow, error) {
	var out []domain.QualityRow
	for rows.Next() {
		var q domain.QualityRow
		var roe, roa, gm, om, nm, dr, cr, eps sql.NullFloat64

		if err := rows.Scan(&q.Ticker, &q.Date, &roe, &roa, &gm, &om, &nm, &dr, &cr, &eps); err != nil {
			return nil, fmt.Errorf("failed to scan quality row: %w", err)
		}

		if roe.Valid {
			q.ROE = &roe.Float64
		}
		if roa.Valid {
			q.ROA = &roa.Float64
		}
		if gm.Valid {
			q.GrossMargin = &gm.Float64
		}
		if om.Valid {
			q.OpMargin = &om.Float64
		}
		if nm.Valid {
			q.NetMargin = &nm.Float64
		}
		if dr.Valid {
			q.DebtRatio = &dr.Float64
		}
		if cr.Valid {
			q.CurrentRatio = &cr.Float64
		}
		if eps.Valid {
			q.EPS = &eps.Float64
		}
		out = append(out, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quality rows: %w", err)
	}
	return out, nil
}
