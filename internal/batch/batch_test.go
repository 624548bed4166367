package batch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/twscreener/internal/clients/finmind"
)

func TestExecutorProcessesAllItems(t *testing.T) {
	e := NewExecutor(Options{Concurrency: 3, MaxRetries: 1, RetryDelay: time.Millisecond}, zerolog.Nop())

	var mu sync.Mutex
	seen := map[string]bool{}

	result := e.Run(context.Background(), []string{"a", "b", "c", "d"}, func(ctx context.Context, item string) error {
		mu.Lock()
		seen[item] = true
		mu.Unlock()
		return nil
	})

	assert.Len(t, result.Successful, 4)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Skipped)
	assert.Len(t, seen, 4)
	assert.Equal(t, 1.0, result.SuccessRate())
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	e := NewExecutor(Options{Concurrency: 2, MaxRetries: 1, RetryDelay: time.Millisecond}, zerolog.Nop())

	var inFlight, peak int32

	e.Run(context.Background(), []string{"a", "b", "c", "d", "e", "f"}, func(ctx context.Context, item string) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestExecutorRetriesThenFails(t *testing.T) {
	e := NewExecutor(Options{Concurrency: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, zerolog.Nop())

	var attempts int32
	result := e.Run(context.Background(), []string{"a"}, func(ctx context.Context, item string) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	})

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "a", result.Failed[0].Item)
	assert.Zero(t, result.SuccessRate())
}

func TestExecutorRetrySucceedsEventually(t *testing.T) {
	e := NewExecutor(Options{Concurrency: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, zerolog.Nop())

	var attempts int32
	result := e.Run(context.Background(), []string{"a"}, func(ctx context.Context, item string) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.Len(t, result.Successful, 1)
	assert.Empty(t, result.Failed)
}

func TestExecutorQuotaFastStop(t *testing.T) {
	e := NewExecutor(Options{Concurrency: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, zerolog.Nop())

	var attempts int32
	items := []string{"a", "b", "c", "d"}
	result := e.Run(context.Background(), items, func(ctx context.Context, item string) error {
		atomic.AddInt32(&attempts, 1)
		if item == "b" {
			return &finmind.QuotaExceededError{Dataset: "TaiwanStockPrice"}
		}
		return nil
	})

	assert.True(t, result.QuotaExceeded)
	assert.Equal(t, []string{"a"}, result.Successful)
	// b triggered the stop; c and d were never dispatched
	assert.ElementsMatch(t, []string{"b", "c", "d"}, result.Skipped)
	assert.Empty(t, result.Failed)
	// quota errors are not retried
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestExecutorQuotaFastStopConcurrent(t *testing.T) {
	e := NewExecutor(Options{Concurrency: 2, MaxRetries: 3, RetryDelay: time.Millisecond}, zerolog.Nop())

	items := []string{"a", "b", "c", "d", "e", "f"}
	inFlight := make(chan string, 2)
	release := make(chan struct{})

	// let the first two items start, then fail them both with quota errors
	// at the same time
	go func() {
		<-inFlight
		<-inFlight
		close(release)
	}()

	var dispatched int32
	result := e.Run(context.Background(), items, func(ctx context.Context, item string) error {
		atomic.AddInt32(&dispatched, 1)
		inFlight <- item
		<-release
		return &finmind.QuotaExceededError{Dataset: "TaiwanStockPrice"}
	})

	assert.True(t, result.QuotaExceeded)
	assert.Empty(t, result.Successful)
	assert.Empty(t, result.Failed)
	// both in-flight items plus the undispatched remainder end up skipped
	assert.ElementsMatch(t, items, result.Skipped)
	// the slots freed by the failing workers must not admit another item
	assert.Equal(t, int32(2), atomic.LoadInt32(&dispatched))
}

func TestExecutorContextCancel(t *testing.T) {
	e := NewExecutor(Options{Concurrency: 1, MaxRetries: 1, RetryDelay: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	result := e.Run(ctx, []string{"a", "b", "c"}, func(ctx context.Context, item string) error {
		cancel()
		return nil
	})

	assert.False(t, result.QuotaExceeded)
	assert.NotEmpty(t, result.Skipped)
}

func TestTrackerResumesFromLedger(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewTracker(dir, zerolog.Nop())
	require.NoError(t, err)

	items := []string{"a", "b", "c"}
	remaining, err := tracker.Start("fetch-price", items)
	require.NoError(t, err)
	assert.Equal(t, items, remaining)

	require.NoError(t, tracker.MarkProcessed("fetch-price", "a"))
	require.NoError(t, tracker.MarkFailed("fetch-price", "b", errors.New("boom")))
	require.NoError(t, tracker.SetQuotaExceeded("fetch-price"))

	// a fresh tracker over the same directory resumes the session
	tracker2, err := NewTracker(dir, zerolog.Nop())
	require.NoError(t, err)

	status := tracker2.Status("fetch-price")
	require.NotNil(t, status)
	assert.True(t, status.QuotaExceeded)
	assert.NotEmpty(t, status.SessionID)
	require.Len(t, status.Failed, 1)
	assert.Equal(t, "b", status.Failed[0].Item)

	remaining, err = tracker2.Start("fetch-price", items)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, remaining)
}

func TestTrackerIgnoresStaleLedger(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewTracker(dir, zerolog.Nop())
	require.NoError(t, err)

	_, err = tracker.Start("fetch-growth", []string{"a", "b"})
	require.NoError(t, err)
	require.NoError(t, tracker.MarkProcessed("fetch-growth", "a"))
	first := tracker.Status("fetch-growth")

	// age the ledger on disk past the staleness cutoff
	stale := *first
	stale.LastUpdated = time.Now().Add(-8 * 24 * time.Hour)
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "progress_fetch-growth.json"), raw, 0644))

	tracker2, err := NewTracker(dir, zerolog.Nop())
	require.NoError(t, err)
	remaining, err := tracker2.Start("fetch-growth", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, remaining)

	fresh := tracker2.Status("fetch-growth")
	require.NotNil(t, fresh)
	assert.NotEqual(t, first.SessionID, fresh.SessionID)
}

func TestTrackerClear(t *testing.T) {
	tracker, err := NewTracker(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	_, err = tracker.Start("task", []string{"a"})
	require.NoError(t, err)
	require.NoError(t, tracker.Clear("task"))
	assert.Nil(t, tracker.Status("task"))
}

func TestShutdownManagerOrderAndIdempotence(t *testing.T) {
	m := NewShutdownManager(zerolog.Nop())

	var order []string
	m.Register("first", func() { order = append(order, "first") })
	m.Register("second", func() { order = append(order, "second") })

	m.RunCleanup()
	m.RunCleanup() // second call must be a no-op

	assert.Equal(t, []string{"first", "second"}, order)
}
