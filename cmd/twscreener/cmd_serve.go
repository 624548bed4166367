package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/twscreener/internal/backup"
	"github.com/aristath/twscreener/internal/scheduler"
	"github.com/aristath/twscreener/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the screener as a long-lived service",
	Long: `Start the HTTP API (current rankings, the stock catalog and system health)
and the standing job schedule: nightly factor updates, daily catalog refresh,
the market-wide foreign-flow pull after the exchange publishes, periodic WAL
checkpoints, and the weekly off-site backup when S3 credentials are
configured. Shuts down gracefully on SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	updater, err := a.updater()
	if err != nil {
		return err
	}
	universeSvc, err := a.universe()
	if err != nil {
		return err
	}

	var backupSvc *backup.Service
	if a.cfg.Backup.Enabled() {
		store, err := backup.NewStorage(cmd.Context(), a.cfg.Backup, a.log)
		if err != nil {
			return err
		}
		backupSvc = backup.NewService(store, a.dbs, a.cfg.DataDir, a.log)
		a.log.Info().Msg("Weekly backups enabled")
	} else {
		a.log.Info().Msg("No backup credentials configured, weekly backups disabled")
	}

	sched := scheduler.New(a.log)
	err = scheduler.RegisterJobs(sched, scheduler.Deps{
		Updater:       updater,
		Universe:      universeSvc,
		Databases:     a.dbs,
		Backup:        backupSvc,
		RetentionDays: a.cfg.Backup.RetentionDays,
	})
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Port:     a.cfg.Port,
		Log:      a.log,
		Screener: a.screener(),
		DBs:      a.dbs,
		DevMode:  a.cfg.DevMode,
	})

	sched.Start()
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			a.log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	a.log.Info().Int("port", a.cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.log.Info().Msg("Shutting down...")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Server forced to shutdown")
	}
	return nil
}
