package repositories

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/domain"
)

// MomentumRepository handles the momentum_metrics table (indicator snapshots).
type MomentumRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewMomentumRepository creates a new momentum repository
func NewMomentumRepository(db *sql.DB, log zerolog.Logger) *MomentumRepository {
	return &MomentumRepository{
		db:  db,
		log: log.With().Str("repo", "momentum").Logger(),
	}
}

// Upsert writes a batch of momentum snapshots in a single transaction.
func (r *MomentumRepository) Upsert(rows []domain.MomentumSnapshot) error {
	if len(rows) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO momentum_metrics
			(ticker, date, rsi, ma5, ma20, ma60, macd, bb_upper, bb_middle, bb_lower,
			 price_change_1m, price_change_52w, ma20_above_ma60_days)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare momentum upsert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.Exec(
				row.Ticker, row.Date, row.RSI, row.MA5, row.MA20, row.MA60, row.MACD,
				row.BBUpper, row.BBMiddle, row.BBLower,
				row.PriceChange1M, row.PriceChange52W, row.MA20AboveMA60Days,
			); err != nil {
				return fmt.Errorf("failed to upsert momentum %s %s: %w", row.Ticker, row.Date, err)
			}
		}
		return nil
	})
}

// CrossSection returns all rows at the maximum stored date <= target.
// An empty target means the latest cross-section.
func (r *MomentumRepository) CrossSection(target string) ([]domain.MomentumSnapshot, error) {
	date, err := maxKeyAtOrBefore(r.db, "momentum_metrics", "date", target)
	if err != nil {
		return nil, err
	}
	if date == "" {
		return nil, nil
	}

	rows, err := r.db.Query(`
		SELECT ticker, date, rsi, ma5, ma20, ma60, macd, bb_upper, bb_middle, bb_lower,
		       price_change_1m, price_change_52w, ma20_above_ma60_days
		FROM momentum_metrics
		WHERE date = ?
		ORDER BY ticker ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query momentum cross-section: %w", err)
	}
	defer rows.Close()

	return scanMomentumRows(rows)
}

// Latest returns the most recent snapshot for a ticker, or nil when absent.
func (r *MomentumRepository) Latest(ticker string) (*domain.MomentumSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, rsi, ma5, ma20, ma60, macd, bb_upper, bb_middle, bb_lower,
		       price_change_1m, price_change_52w, ma20_above_ma60_days
		FROM momentum_metrics
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT 1
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest momentum: %w", err)
	}
	defer rows.Close()

	snaps, err := scanMomentumRows(rows)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

// History returns the last n snapshots for a ticker, most recent first.
func (r *MomentumRepository) History(ticker string, n int) ([]domain.MomentumSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, rsi, ma5, ma20, ma60, macd, bb_upper, bb_middle, bb_lower,
		       price_change_1m, price_change_52w, ma20_above_ma60_days
		FROM momentum_metrics
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT ?
	`, ticker, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query momentum history: %w", err)
	}
	defer rows.Close()

	return scanMomentumRows(rows)
}

func scanMomentumRows(rows *sql.Rows) ([]domain.MomentumSnapshot, error) {
	var out []domain.MomentumSnapshot
	for rows.Next() {
		var m domain.MomentumSnapshot
		var rsi, ma5, ma20, ma60, macd, bbU, bbM, bbL, chg1m, chg52w sql.NullFloat64
		var maDays sql.NullInt64

		if err := rows.Scan(
			&m.Ticker, &m.Date, &rsi, &ma5, &ma20, &ma60, &macd, &bbU, &bbM, &bbL,
			&chg1m, &chg52w, &maDays,
		); err != nil {
			return nil, fmt.Errorf("failed to scan momentum row: %w", err)
		}

		if rsi.Valid {
			m.RSI = &rsi.Float64
		}
		if ma5.Valid {
			m.MA5 = &ma5.Float64
		}
		if ma20.Valid {
			m.MA20 = &ma20.Float64
		}
		if ma60.Valid {
			m.MA60 = &ma60.Float64
		}
		if macd.Valid {
			m.MACD = &macd.Float64
		}
		if bbU.Valid {
			m.BBUpper = &bbU.Float64
		}
		if bbM.Valid {
			m.BBMiddle = &bbM.Float64
		}
		if bbL.Valid {
			m.BBLower = &bbL.Float64
		}
		if chg1m.Valid {
			m.PriceChange1M = &chg1m.Float64
		}
		if chg52w.Valid {
			m.PriceChange52W = &chg52w.Float64
		}
		m.MA20AboveMA60Days = int(maDays.Int64)
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating momentum rows: %w", err)
	}
	return out, nil
}
