package scheduler

import (
	"context"
	"time"

	"github.com/aristath/twscreener/internal/backup"
	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/pipeline"
	"github.com/aristath/twscreener/internal/universe"
)

// Deps are the collaborators the standing jobs run against. Backup may be
// nil when no credentials are configured.
type Deps struct {
	Updater       *pipeline.Updater
	Universe      *universe.Service
	Databases     *database.Databases
	Backup        *backup.Service
	RetentionDays int
}

// RegisterJobs installs the standing job set:
//   - catalog refresh before the nightly update so new listings are covered
//   - nightly factor update over the full universe
//   - market-wide foreign flow pull after the exchange publishes (~17:30)
//   - WAL checkpoint to keep the write-ahead logs bounded
//   - weekly off-site backup with rotation
func RegisterJobs(s *Scheduler, deps Deps) error {
	if err := s.AddJob("0 30 17 * * MON-FRI", "foreign-flow", func() error {
		_, err := deps.Universe.UpdateForeignFlow(time.Now())
		return err
	}); err != nil {
		return err
	}

	if err := s.AddJob("0 0 21 * * *", "stock-list-refresh", func() error {
		_, err := deps.Universe.Refresh(false)
		return err
	}); err != nil {
		return err
	}

	if err := s.AddJob("0 30 21 * * *", "nightly-update", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Hour)
		defer cancel()
		_, err := deps.Updater.Run(ctx, pipeline.Options{})
		return err
	}); err != nil {
		return err
	}

	if err := s.AddJob("0 0 */6 * * *", "wal-checkpoint", func() error {
		for _, db := range deps.Databases.All() {
			if err := db.WALCheckpoint("TRUNCATE"); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if deps.Backup != nil {
		if err := s.AddJob("0 0 3 * * SUN", "weekly-backup", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if _, err := deps.Backup.Run(ctx); err != nil {
				return err
			}
			_, err := deps.Backup.Rotate(ctx, deps.RetentionDays)
			return err
		}); err != nil {
			return err
		}
	}

	return nil
}
