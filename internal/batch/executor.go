// Package batch implements the bounded-concurrency work dispatcher used by
// the per-factor fetch pipelines: parallel workers over a ticker set with
// per-item retry, quota-aware fast-stop and a resumable progress ledger.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/twscreener/internal/clients/finmind"
)

// Options configures one executor run.
type Options struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

// DefaultOptions match the per-factor pipelines: a few tickers in flight,
// a couple of retries with exponential backoff.
func DefaultOptions() Options {
	return Options{
		Concurrency: 4,
		MaxRetries:  3,
		RetryDelay:  2 * time.Second,
	}
}

// ItemError records one item that exhausted its retries.
type ItemError struct {
	Item string
	Err  error
}

// Result summarizes one executor run. Skipped holds items never dispatched
// because of a quota fast-stop.
type Result struct {
	Successful    []string
	Failed        []ItemError
	Skipped       []string
	QuotaExceeded bool
	Duration      time.Duration
}

// SuccessRate returns successful items over total items, in [0, 1].
func (r Result) SuccessRate() float64 {
	total := len(r.Successful) + len(r.Failed) + len(r.Skipped)
	if total == 0 {
		return 0
	}
	return float64(len(r.Successful)) / float64(total)
}

// Executor drains an item set through at most Concurrency parallel workers.
type Executor struct {
	opts Options
	log  zerolog.Logger
}

// NewExecutor creates a new executor
func NewExecutor(opts Options, log zerolog.Logger) *Executor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &Executor{
		opts: opts,
		log:  log.With().Str("component", "batch").Logger(),
	}
}

// Run dispatches worker over items. Result ordering is not guaranteed.
//
// A QuotaExceededError from any worker fast-stops the run: no further items
// are dispatched, in-flight items finish, and the remainder is reported as
// skipped. Context cancellation behaves the same way but without the quota
// mark.
func (e *Executor) Run(ctx context.Context, items []string, worker func(ctx context.Context, item string) error) Result {
	start := time.Now()

	sem := semaphore.NewWeighted(int64(e.opts.Concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	result := Result{}
	// first item never dispatched, or -1 when the run drained everything;
	// the remainder is appended to Skipped only after wg.Wait so the main
	// goroutine never touches the slice while workers hold mu
	stopIdx := -1

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			stopIdx = i
			break
		}

		// a worker that hit the quota publishes the flag under mu before
		// releasing its slot, so checking after a successful acquire
		// guarantees nothing dispatches past the stop
		mu.Lock()
		quota := result.QuotaExceeded
		mu.Unlock()
		if quota || ctx.Err() != nil {
			sem.Release(1)
			stopIdx = i
			break
		}

		wg.Add(1)
		go func(item string) {
			defer wg.Done()
			defer sem.Release(1)

			err := e.runWithRetry(ctx, item, worker)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Successful = append(result.Successful, item)
			case finmind.IsQuotaExceeded(err):
				result.QuotaExceeded = true
				result.Skipped = append(result.Skipped, item)
				e.log.Warn().Str("item", item).Msg("Quota exceeded, stopping batch")
			default:
				result.Failed = append(result.Failed, ItemError{Item: item, Err: err})
			}
		}(item)
	}

	wg.Wait()
	if stopIdx >= 0 {
		result.Skipped = append(result.Skipped, items[stopIdx:]...)
	}
	result.Duration = time.Since(start)

	if stopIdx >= 0 {
		e.log.Warn().
			Int("skipped", len(result.Skipped)).
			Msg("Batch stopped before draining all items")
	}
	e.log.Info().
		Int("successful", len(result.Successful)).
		Int("failed", len(result.Failed)).
		Int("skipped", len(result.Skipped)).
		Dur("duration", result.Duration).
		Msg("Batch finished")

	return result
}

// runWithRetry retries worker up to MaxRetries attempts. The delay before
// attempt k is RetryDelay * 2^(k-1). Quota errors are never retried.
func (e *Executor) runWithRetry(ctx context.Context, item string, worker func(ctx context.Context, item string) error) error {
	var lastErr error

	for attempt := 1; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := e.opts.RetryDelay * (1 << uint(attempt-2))
			e.log.Debug().
				Str("item", item).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying item")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = worker(ctx, item)
		if lastErr == nil {
			return nil
		}
		if finmind.IsQuotaExceeded(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
