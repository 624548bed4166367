// Package fetchers implements the per-factor fetch pipelines: each fetcher
// holds one primary and one fallback source and runs the same decision:
// skip when fresh local rows exist, try primary, fall back, bubble quota
// errors, swallow everything else so one ticker cannot poison a batch.
package fetchers

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/clients/finmind"
	"github.com/aristath/twscreener/internal/clients/twse"
)

// Sources bundles the two upstream clients every fetcher composes.
type Sources struct {
	Primary  *twse.Client
	Fallback *finmind.Client
}

// Window is a fetch window in ISO dates, inclusive on both ends.
type Window struct {
	Start string
	End   string
}

// WindowDays builds a window covering the last n calendar days ending today.
func WindowDays(n int) Window {
	end := time.Now()
	start := end.AddDate(0, 0, -n)
	return Window{
		Start: start.Format("2006-01-02"),
		End:   end.Format("2006-01-02"),
	}
}

// Months lists the YYYYMM months the window touches, oldest first. Future
// months are never emitted.
func (w Window) Months() []string {
	start, err := time.Parse("2006-01-02", w.Start)
	if err != nil {
		return nil
	}
	end, err := time.Parse("2006-01-02", w.End)
	if err != nil {
		return nil
	}

	now := time.Now()
	if end.After(now) {
		end = now
	}

	var months []string
	for m := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(end); m = m.AddDate(0, 1, 0) {
		months = append(months, m.Format("200601"))
	}
	return months
}

// fetchWithFallback is the source policy shared by every fetcher: primary
// first; on failure or empty result, fallback; quota errors bubble; any
// other fallback failure yields an empty result without error.
func fetchWithFallback[T any](log zerolog.Logger, factor string, primary, fallback func() ([]T, error)) ([]T, error) {
	rows, err := primary()
	if err == nil && len(rows) > 0 {
		return rows, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("factor", factor).Msg("Primary source failed, trying fallback")
	}

	rows, err = fallback()
	if err != nil {
		if finmind.IsQuotaExceeded(err) {
			return nil, err
		}
		log.Warn().Err(err).Str("factor", factor).Msg("Fallback source failed, returning empty")
		return nil, nil
	}
	return rows, nil
}
