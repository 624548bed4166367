package database

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Databases bundles the three logical databases. The split between
// fundamentals, quality and price is historical but kept: the price database
// takes heavy batch inserts and runs on the CGO driver with a bulk profile,
// while the other two stay on the pure Go driver.
type Databases struct {
	Fundamentals *DB
	Quality      *DB
	Price        *DB
}

// OpenAll opens and migrates the three databases under dataDir.
func OpenAll(dataDir string, log zerolog.Logger) (*Databases, error) {
	fundamentals, err := New(Config{
		Path:    filepath.Join(dataDir, "fundamentals.db"),
		Profile: ProfileStandard,
		Name:    "fundamentals",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open fundamentals database: %w", err)
	}

	quality, err := New(Config{
		Path:    filepath.Join(dataDir, "quality.db"),
		Profile: ProfileStandard,
		Name:    "quality",
	})
	if err != nil {
		fundamentals.Close()
		return nil, fmt.Errorf("failed to open quality database: %w", err)
	}

	price, err := New(Config{
		Path:    filepath.Join(dataDir, "price.db"),
		Profile: ProfileBulk,
		Name:    "price",
		Driver:  "sqlite3",
	})
	if err != nil {
		fundamentals.Close()
		quality.Close()
		return nil, fmt.Errorf("failed to open price database: %w", err)
	}

	dbs := &Databases{
		Fundamentals: fundamentals,
		Quality:      quality,
		Price:        price,
	}

	for _, db := range dbs.All() {
		if err := db.Migrate(); err != nil {
			dbs.Close()
			return nil, fmt.Errorf("failed to migrate %s: %w", db.Name(), err)
		}
		log.Debug().Str("database", db.Name()).Str("path", db.Path()).Msg("Database ready")
	}

	return dbs, nil
}

// All returns the databases in a stable order.
func (d *Databases) All() []*DB {
	return []*DB{d.Fundamentals, d.Quality, d.Price}
}

// Close closes all databases. Safe to call with partially opened sets.
func (d *Databases) Close() {
	for _, db := range d.All() {
		if db != nil {
			_ = db.Close()
		}
	}
}
