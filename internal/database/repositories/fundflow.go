package repositories

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/domain"
)

// FundFlowRepository handles the fund_flow_metrics table.
type FundFlowRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFundFlowRepository creates a new fund flow repository
func NewFundFlowRepository(db *sql.DB, log zerolog.Logger) *FundFlowRepository {
	return &FundFlowRepository{
		db:  db,
		log: log.With().Str("repo", "fund_flow").Logger(),
	}
}

// Upsert writes a batch of fund flow rows in a single transaction.
func (r *FundFlowRepository) Upsert(rows []domain.FundFlowRow) error {
	if len(rows) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO fund_flow_metrics (ticker, date, foreign_net, inv_trust_net, dealer_net)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare fund flow upsert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.Exec(row.Ticker, row.Date, row.ForeignNet, row.InvTrustNet, row.DealerNet); err != nil {
				return fmt.Errorf("failed to upsert fund flow %s %s: %w", row.Ticker, row.Date, err)
			}
		}
		return nil
	})
}

// UpsertForeignNet writes only the foreign leg for a batch of rows. Trust
// and dealer legs of existing rows are preserved; new rows get zeroes. Used
// by the market-wide daily update, whose source carries no other legs.
func (r *FundFlowRepository) UpsertForeignNet(rows []domain.FundFlowRow) error {
	if len(rows) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO fund_flow_metrics (ticker, date, foreign_net, inv_trust_net, dealer_net)
			VALUES (?, ?, ?, 0, 0)
			ON CONFLICT(ticker, date) DO UPDATE SET foreign_net = excluded.foreign_net
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare foreign net upsert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.Exec(row.Ticker, row.Date, row.ForeignNet); err != nil {
				return fmt.Errorf("failed to upsert foreign net %s %s: %w", row.Ticker, row.Date, err)
			}
		}
		return nil
	})
}

// GetRange returns fund flow rows for a ticker between from and to, ascending.
func (r *FundFlowRepository) GetRange(ticker, from, to string) ([]domain.FundFlowRow, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, foreign_net, inv_trust_net, dealer_net
		FROM fund_flow_metrics
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query fund flow range: %w", err)
	}
	defer rows.Close()

	return scanFundFlowRows(rows)
}

// CrossSection returns all rows at the maximum stored date <= target.
// An empty target means the latest cross-section.
func (r *FundFlowRepository) CrossSection(target string) ([]domain.FundFlowRow, error) {
	date, err := maxKeyAtOrBefore(r.db, "fund_flow_metrics", "date", target)
	if err != nil {
		return nil, err
	}
	if date == "" {
		return nil, nil
	}

	rows, err := r.db.Query(`
		SELECT ticker, date, foreign_net, inv_trust_net, dealer_net
		FROM fund_flow_metrics
		WHERE date = ?
		ORDER BY ticker ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query fund flow cross-section: %w", err)
	}
	defer rows.Close()

	return scanFundFlowRows(rows)
}

// History returns the last n rows for a ticker, most recent first.
func (r *FundFlowRepository) History(ticker string, n int) ([]domain.FundFlowRow, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, foreign_net, inv_trust_net, dealer_net
		FROM fund_flow_metrics
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT ?
	`, ticker, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query fund flow history: %w", err)
	}
	defer rows.Close()

	return scanFundFlowRows(rows)
}

func scanFundFlowRows(rows *sql.Rows) ([]domain.FundFlowRow, error) {
	var out []domain.FundFlowRow
	for rows.Next() {
		var f domain.FundFlowRow
		if err := rows.Scan(&f.Ticker, &f.Date, &f.ForeignNet, &f.InvTrustNet, &f.DealerNet); err != nil {
			return nil, fmt.Errorf("failed to scan fund flow row: %w", err)
		}
		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fund flow rows: %w", err)
	}
	return out, nil
}
