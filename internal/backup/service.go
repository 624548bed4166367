package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database"
)

const (
	archivePrefix = "twscreener-backup-"
	archiveStamp  = "2006-01-02-150405"

	// minBackupsToKeep bounds rotation: the newest archives survive any
	// retention setting.
	minBackupsToKeep = 3
)

// ObjectStore is the storage surface the service needs. Satisfied by
// *Storage; tests substitute an in-memory fake.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// Metadata describes one backup archive.
type Metadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Databases []FileMetadata `json:"databases"`
}

// FileMetadata describes one database file inside an archive.
type FileMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Info summarizes one stored archive.
type Info struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// Service creates, uploads, lists and rotates backups.
type Service struct {
	store   ObjectStore
	dbs     *database.Databases
	dataDir string
	log     zerolog.Logger
	now     func() time.Time
}

// NewService creates a new backup service
func NewService(store ObjectStore, dbs *database.Databases, dataDir string, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		dbs:     dbs,
		dataDir: dataDir,
		log:     log.With().Str("component", "backup").Logger(),
		now:     time.Now,
	}
}

// Run snapshots every database, archives them with a metadata manifest and
// uploads the archive. Snapshots go through VACUUM INTO so the copies are
// consistent while writers stay live.
func (s *Service) Run(ctx context.Context) (string, error) {
	start := s.now()
	s.log.Info().Msg("Starting backup")

	staging, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	meta := Metadata{Timestamp: start.UTC()}
	var files []string

	for _, db := range s.dbs.All() {
		filename := db.Name() + ".db"
		dest := filepath.Join(staging, filename)

		if err := s.snapshot(db, dest); err != nil {
			return "", fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(dest)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := checksumFile(dest)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s snapshot: %w", db.Name(), err)
		}

		meta.Databases = append(meta.Databases, FileMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	metaPath := filepath.Join(staging, "backup-metadata.json")
	if err := writeMetadata(metaPath, meta); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, "backup-metadata.json")

	archiveName := archivePrefix + start.Format(archiveStamp) + ".tar.gz"
	archivePath := filepath.Join(staging, archiveName)
	if err := createArchive(archivePath, staging, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, archiveName, archive); err != nil {
		return "", err
	}

	s.log.Info().
		Str("archive", archiveName).
		Dur("duration", time.Since(start)).
		Msg("Backup completed")
	return archiveName, nil
}

// List returns stored archives, newest first.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}

	now := s.now()
	backups := make([]Info, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, archivePrefix) || !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), ".tar.gz")
		ts, err := time.Parse(archiveStamp, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping archive with unparseable timestamp")
			continue
		}

		backups = append(backups, Info{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Rotate deletes archives older than retentionDays, always keeping the
// newest minBackupsToKeep. retentionDays 0 keeps everything.
func (s *Service) Rotate(ctx context.Context, retentionDays int) (int, error) {
	backups, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep || retentionDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Filename); err != nil {
			s.log.Error().Err(err).Str("archive", b.Filename).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("archive", b.Filename).Msg("Deleted old backup")
		deleted++
	}
	return deleted, nil
}

// snapshot copies one live database to dest via VACUUM INTO.
func (s *Service) snapshot(db *database.DB, dest string) error {
	if _, err := db.Exec("VACUUM INTO ?", dest); err != nil {
		return err
	}
	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, meta Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func createArchive(archivePath, dir string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, name := range files {
		if err := addToArchive(tw, filepath.Join(dir, name), name); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
	}
	return nil
}

func addToArchive(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
