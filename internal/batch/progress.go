package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StaleAfter is how old a ledger may be before a new run ignores it and
// starts from scratch.
const StaleAfter = 7 * 24 * time.Hour

// FailedItem records one item that failed within a tracked task.
type FailedItem struct {
	Item  string    `json:"item"`
	Error string    `json:"error"`
	TS    time.Time `json:"ts"`
}

// TaskProgress is the on-disk ledger for one task. Processed items pre-filter
// the input on the next run so an interrupted or quota-stopped batch resumes
// where it left off.
type TaskProgress struct {
	SessionID     string       `json:"sessionId"`
	Total         int          `json:"total"`
	Processed     []string     `json:"processed"`
	Failed        []FailedItem `json:"failed"`
	QuotaExceeded bool         `json:"quotaExceeded"`
	StartTime     time.Time    `json:"startTime"`
	LastUpdated   time.Time    `json:"lastUpdated"`
}

// Tracker persists per-task progress ledgers as JSON files in one directory.
type Tracker struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*TaskProgress
}

// NewTracker creates a tracker rooted at dir, creating it if needed.
func NewTracker(dir string, log zerolog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}
	return &Tracker{
		dir:   dir,
		log:   log.With().Str("component", "progress").Logger(),
		tasks: make(map[string]*TaskProgress),
	}, nil
}

// Start begins or resumes a task over items. When a non-stale ledger exists,
// its processed set pre-filters the input and the returned slice holds only
// the remaining items. A stale or missing ledger starts a fresh session.
func (t *Tracker) Start(task string, items []string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, err := t.load(task)
	if err != nil {
		t.log.Warn().Err(err).Str("task", task).Msg("Ignoring unreadable progress ledger")
		prev = nil
	}

	if prev != nil && time.Since(prev.LastUpdated) <= StaleAfter {
		done := make(map[string]bool, len(prev.Processed))
		for _, item := range prev.Processed {
			done[item] = true
		}

		var remaining []string
		for _, item := range items {
			if !done[item] {
				remaining = append(remaining, item)
			}
		}

		prev.Total = len(items)
		prev.QuotaExceeded = false
		prev.LastUpdated = time.Now()
		t.tasks[task] = prev

		t.log.Info().
			Str("task", task).
			Str("session", prev.SessionID).
			Int("done", len(prev.Processed)).
			Int("remaining", len(remaining)).
			Msg("Resuming from progress ledger")

		return remaining, t.flush(task)
	}

	t.tasks[task] = &TaskProgress{
		SessionID: uuid.NewString(),
		Total:     len(items),
		StartTime: time.Now(),
	}
	return items, t.flush(task)
}

// MarkProcessed records a successfully handled item.
func (t *Tracker) MarkProcessed(task, item string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.tasks[task]
	if !ok {
		return fmt.Errorf("task %s not started", task)
	}
	p.Processed = append(p.Processed, item)
	return t.flush(task)
}

// MarkFailed records a permanently failed item.
func (t *Tracker) MarkFailed(task, item string, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.tasks[task]
	if !ok {
		return fmt.Errorf("task %s not started", task)
	}
	p.Failed = append(p.Failed, FailedItem{
		Item:  item,
		Error: cause.Error(),
		TS:    time.Now(),
	})
	return t.flush(task)
}

// SetQuotaExceeded marks the task as quota-stopped so the next run knows the
// remaining items were skipped, not done.
func (t *Tracker) SetQuotaExceeded(task string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.tasks[task]
	if !ok {
		return fmt.Errorf("task %s not started", task)
	}
	p.QuotaExceeded = true
	return t.flush(task)
}

// Status returns a copy of the in-memory ledger for a task, or nil.
func (t *Tracker) Status(task string) *TaskProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.tasks[task]
	if !ok {
		loaded, err := t.load(task)
		if err != nil || loaded == nil {
			return nil
		}
		return loaded
	}
	cp := *p
	return &cp
}

// Clear deletes the ledger for a task. Called after a fully successful run.
func (t *Tracker) Clear(task string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.tasks, task)
	err := os.Remove(t.path(task))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove progress ledger: %w", err)
	}
	return nil
}

func (t *Tracker) load(task string) (*TaskProgress, error) {
	raw, err := os.ReadFile(t.path(task))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress ledger: %w", err)
	}

	var p TaskProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode progress ledger: %w", err)
	}
	return &p, nil
}

// flush writes the ledger through a temp file and a rename. Callers hold the
// mutex.
func (t *Tracker) flush(task string) error {
	p, ok := t.tasks[task]
	if !ok {
		return nil
	}
	p.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress ledger: %w", err)
	}

	path := t.path(task)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write progress ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize progress ledger: %w", err)
	}
	return nil
}

func (t *Tracker) path(task string) string {
	return filepath.Join(t.dir, "progress_"+task+".json")
}
