package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/twscreener/internal/database"
)

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = raw
	return nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]Object, error) {
	var out []Object
	for key, raw := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, Object{Key: key, SizeBytes: int64(len(raw))})
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func openDatabases(t *testing.T) (*database.Databases, string) {
	t.Helper()
	dir := t.TempDir()
	dbs, err := database.OpenAll(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(dbs.Close)
	return dbs, dir
}

func TestRunCreatesArchiveWithManifest(t *testing.T) {
	dbs, dir := openDatabases(t)
	store := newFakeStore()
	svc := NewService(store, dbs, dir, zerolog.Nop())

	name, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Contains(t, store.objects, name)

	// the archive holds the three snapshots plus the manifest
	names := tarEntries(t, store.objects[name])
	assert.ElementsMatch(t, []string{
		"fundamentals.db", "quality.db", "price.db", "backup-metadata.json",
	}, names)
}

func tarEntries(t *testing.T, raw []byte) []string {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func TestListOrdersNewestFirst(t *testing.T) {
	dbs, dir := openDatabases(t)
	store := newFakeStore()
	store.objects["twscreener-backup-2024-01-01-120000.tar.gz"] = []byte("a")
	store.objects["twscreener-backup-2024-03-01-120000.tar.gz"] = []byte("bb")
	store.objects["unrelated.txt"] = []byte("x")

	svc := NewService(store, dbs, dir, zerolog.Nop())
	backups, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "twscreener-backup-2024-03-01-120000.tar.gz", backups[0].Filename)
	assert.Equal(t, int64(2), backups[0].SizeBytes)
}

func TestRotateKeepsMinimum(t *testing.T) {
	dbs, dir := openDatabases(t)
	store := newFakeStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("twscreener-backup-%s.tar.gz", base.AddDate(0, 0, i*30).Format("2006-01-02-150405"))
		store.objects[key] = []byte("x")
	}

	svc := NewService(store, dbs, dir, zerolog.Nop())
	svc.now = func() time.Time { return base.AddDate(0, 6, 0) }

	deleted, err := svc.Rotate(context.Background(), 30)
	require.NoError(t, err)
	// five archives, all but the newest exceed retention, minimum keeps 3
	assert.Equal(t, 2, deleted)
	assert.Len(t, store.objects, 3)
}

func TestRotateZeroRetentionKeepsAll(t *testing.T) {
	dbs, dir := openDatabases(t)
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("twscreener-backup-2024-0%d-01-120000.tar.gz", i+1)
		store.objects[key] = []byte("x")
	}

	svc := NewService(store, dbs, dir, zerolog.Nop())
	deleted, err := svc.Rotate(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Len(t, store.objects, 5)
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	dbs, dir := openDatabases(t)
	_, err := dbs.Fundamentals.Exec(
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('probe', '42')`)
	require.NoError(t, err)

	svc := NewService(newFakeStore(), dbs, dir, zerolog.Nop())
	dest := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, svc.snapshot(dbs.Fundamentals, dest))

	snap, err := database.New(database.Config{Path: dest, Name: "snap"})
	require.NoError(t, err)
	defer snap.Close()

	var value string
	require.NoError(t, snap.QueryRow(`SELECT value FROM meta WHERE key = 'probe'`).Scan(&value))
	assert.Equal(t, "42", value)
}
