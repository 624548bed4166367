// Package cache implements the file-backed response cache for upstream API
// calls. Entries are JSON files keyed by a stable hash of (dataset, params),
// each carrying its own TTL so different datasets can age out independently.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TTLs per dataset family. Snapshot-style datasets change at most daily;
// monthly institutional batches are refreshed a few times per day.
const (
	DefaultTTL  = 30 * time.Minute
	SnapshotTTL = 24 * time.Hour
	MonthlyTTL  = 3 * time.Hour
)

// Cache is a file-backed TTL cache. Safe for use from multiple goroutines as
// long as keys do not collide mid-write (writes go through a temp file and
// an atomic rename).
type Cache struct {
	dir string
	log zerolog.Logger
	now func() time.Time
}

type entry struct {
	Data       json.RawMessage `json:"data"`
	InsertedAt int64           `json:"insertedAt"` // unix millis
	TTLMs      int64           `json:"ttlMs"`
}

// New creates a cache rooted at dir, creating it if needed.
func New(dir string, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		dir: dir,
		log: log.With().Str("component", "cache").Logger(),
		now: time.Now,
	}, nil
}

// Key builds the stable cache key for a dataset and its request parameters.
// Parameters are sorted by name so the key does not depend on map order.
func Key(dataset string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(dataset)
	for _, name := range names {
		b.WriteString("|")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(params[name])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Get reads the cached payload for key into dest. Returns false on miss.
// Expired and corrupt entries are deleted and reported as misses.
func (c *Cache) Get(key string, dest interface{}) bool {
	path := c.path(key)

	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("Deleting corrupt cache entry")
		_ = os.Remove(path)
		return false
	}

	age := c.now().UnixMilli() - e.InsertedAt
	if age > e.TTLMs {
		_ = os.Remove(path)
		return false
	}

	if err := json.Unmarshal(e.Data, dest); err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("Deleting undecodable cache entry")
		_ = os.Remove(path)
		return false
	}
	return true
}

// Set stores value under key with the given TTL. The write goes through a
// temp file and a rename so readers never observe a partial entry.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	e := entry{
		Data:       data,
		InsertedAt: c.now().UnixMilli(),
		TTLMs:      ttl.Milliseconds(),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	path := c.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for key if it exists.
func (c *Cache) Delete(key string) {
	_ = os.Remove(c.path(key))
}

// Clear removes every entry in the cache directory.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove cache entry %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
