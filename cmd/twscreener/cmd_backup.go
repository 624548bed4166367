package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/twscreener/internal/backup"
)

var (
	backupList       bool
	backupRotateDays int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Archive the databases to S3-compatible storage",
	Long: `Snapshot the three databases with VACUUM INTO, archive them to tar.gz with
per-file SHA-256 checksums and a metadata manifest, upload to S3/R2 and
rotate old archives (the newest three are always kept).

Requires S3_BUCKET, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY; set
S3_ENDPOINT for R2 or another S3-compatible store.`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().BoolVar(&backupList, "list", false, "List stored backups and exit")
	backupCmd.Flags().IntVar(&backupRotateDays, "rotate-days", -1, "Retention in days (default: S3_BACKUP_RETENTION_DAYS; 0 keeps everything)")
}

func runBackup(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	a.shutdown.Listen()

	if !a.cfg.Backup.Enabled() {
		return fmt.Errorf("backup storage is not configured (S3_BUCKET, S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY)")
	}

	ctx := cmd.Context()
	store, err := backup.NewStorage(ctx, a.cfg.Backup, a.log)
	if err != nil {
		return err
	}
	svc := backup.NewService(store, a.dbs, a.cfg.DataDir, a.log)

	if backupList {
		backups, err := svc.List(ctx)
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Println("No backups stored")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILENAME\tSIZE\tAGE")
		for _, b := range backups {
			fmt.Fprintf(w, "%s\t%.1f MB\t%dh\n", b.Filename, float64(b.SizeBytes)/1024/1024, b.AgeHours)
		}
		return w.Flush()
	}

	// Checkpoint and verify before snapshotting.
	for _, db := range a.dbs.All() {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s failed its integrity check: %w", db.Name(), err)
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			return fmt.Errorf("failed to checkpoint %s: %w", db.Name(), err)
		}
	}

	key, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Backup uploaded: %s\n", key)

	retention := backupRotateDays
	if retention < 0 {
		retention = a.cfg.Backup.RetentionDays
	}
	deleted, err := svc.Rotate(ctx, retention)
	if err != nil {
		return err
	}
	if deleted > 0 {
		fmt.Printf("Rotated %d old backup(s)\n", deleted)
	}
	return nil
}
