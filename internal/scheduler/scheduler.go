// Package scheduler runs the background maintenance jobs of serve mode:
// nightly factor updates, catalog refresh, the market-wide foreign flow
// pull, WAL checkpoints and off-site backups.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule (six-field, with seconds).
// A job error is logged, never fatal: the next tick runs regardless.
func (s *Scheduler) AddJob(schedule, name string, run func() error) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", name).Msg("Running job")

		if err := run(); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("Job failed")
		} else {
			s.log.Debug().Str("job", name).Msg("Job completed")
		}
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", name).Msg("Job registered")
	return nil
}
