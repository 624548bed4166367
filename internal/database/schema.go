package database

import (
	"database/sql"
	"fmt"
)

// Schema revisions per database. Each revision is applied once and recorded in
// the meta table; the recorded revision number is the migration ledger.
//
// Natural keys use INSERT OR REPLACE semantics throughout, so re-running a
// fetch over the same window is idempotent.

type migration struct {
	revision int
	sql      string
}

var fundamentalsMigrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS valuation (
	ticker         TEXT NOT NULL,
	date           TEXT NOT NULL,
	per            REAL,
	pbr            REAL,
	dividend_yield REAL,
	PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS growth_metrics (
	ticker  TEXT NOT NULL,
	month   TEXT NOT NULL,
	revenue INTEGER,
	yoy     REAL,
	mom     REAL,
	eps     REAL,
	eps_qoq REAL,
	PRIMARY KEY (ticker, month)
);

CREATE TABLE IF NOT EXISTS fund_flow_metrics (
	ticker        TEXT NOT NULL,
	date          TEXT NOT NULL,
	foreign_net   INTEGER NOT NULL DEFAULT 0,
	inv_trust_net INTEGER NOT NULL DEFAULT 0,
	dealer_net    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS momentum_metrics (
	ticker               TEXT NOT NULL,
	date                 TEXT NOT NULL,
	rsi                  REAL,
	ma5                  REAL,
	ma20                 REAL,
	ma60                 REAL,
	macd                 REAL,
	bb_upper             REAL,
	bb_middle            REAL,
	bb_lower             REAL,
	price_change_1m      REAL,
	price_change_52w     REAL,
	ma20_above_ma60_days INTEGER,
	PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS stock_list (
	ticker   TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	industry TEXT,
	market   TEXT
);
`},
	{2, `
CREATE INDEX IF NOT EXISTS idx_growth_month ON growth_metrics(month);
CREATE INDEX IF NOT EXISTS idx_fund_flow_date ON fund_flow_metrics(date);
CREATE INDEX IF NOT EXISTS idx_momentum_date ON momentum_metrics(date);
`},
}

var qualityMigrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS quality_metrics (
	ticker        TEXT NOT NULL,
	date          TEXT NOT NULL,
	roe           REAL,
	roa           REAL,
	gross_margin  REAL,
	op_margin     REAL,
	net_margin    REAL,
	debt_ratio    REAL,
	current_ratio REAL,
	eps           REAL,
	PRIMARY KEY (ticker, date)
);
`},
}

var priceMigrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS stock_prices (
	ticker   TEXT NOT NULL,
	date     TEXT NOT NULL,
	open     REAL,
	high     REAL,
	low      REAL,
	close    REAL NOT NULL,
	volume   INTEGER,
	turnover INTEGER,
	PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS valuations (
	ticker         TEXT NOT NULL,
	date           TEXT NOT NULL,
	per            REAL,
	pbr            REAL,
	dividend_yield REAL,
	PRIMARY KEY (ticker, date)
);
`},
	{2, `
CREATE INDEX IF NOT EXISTS idx_prices_date ON stock_prices(date);
`},
}

// expectedTables per database, asserted on open. A missing table after
// migration means the file on disk is not the database we expect.
var expectedTables = map[string][]string{
	"fundamentals": {"valuation", "growth_metrics", "fund_flow_metrics", "momentum_metrics", "stock_list", "meta"},
	"quality":      {"quality_metrics", "meta"},
	"price":        {"stock_prices", "valuations", "meta"},
}

// Migrate applies any pending schema revisions for this database and records
// them in the meta table.
func (db *DB) Migrate() error {
	var migrations []migration
	switch db.name {
	case "fundamentals":
		migrations = fundamentalsMigrations
	case "quality":
		migrations = qualityMigrations
	case "price":
		migrations = priceMigrations
	default:
		return nil
	}

	// The meta table doubles as the migration ledger
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create meta table for %s: %w", db.name, err)
	}

	applied, err := db.appliedRevision()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.revision <= applied {
			continue
		}

		err := WithTransaction(db.conn, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.sql); err != nil {
				return fmt.Errorf("failed to apply revision %d: %w", m.revision, err)
			}
			_, err := tx.Exec(
				`INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_revision', ?)`,
				fmt.Sprintf("%d", m.revision),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration failed for %s: %w", db.name, err)
		}
	}

	return db.assertSchema()
}

func (db *DB) appliedRevision() (int, error) {
	var revision int
	err := db.conn.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'schema_revision'`).Scan(&revision)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema revision for %s: %w", db.name, err)
	}
	return revision, nil
}

// assertSchema verifies the expected tables exist. Fatal on mismatch.
func (db *DB) assertSchema() error {
	tables, ok := expectedTables[db.name]
	if !ok {
		return nil
	}

	for _, table := range tables {
		var name string
		err := db.conn.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: table %s missing from %s", ErrSchemaMismatch, table, db.name)
		}
		if err != nil {
			return fmt.Errorf("failed to inspect schema for %s: %w", db.name, err)
		}
	}

	return nil
}
