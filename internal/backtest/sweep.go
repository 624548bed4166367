package backtest

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/domain"
)

// SweepRow is one grid cell's outcome.
type SweepRow struct {
	Top       int     `json:"top"`
	Rebalance int     `json:"rebalance"`
	CAGR      float64 `json:"cagr"`
	Sharpe    float64 `json:"sharpe"`
	MDD       float64 `json:"mdd"`
}

// WindowRow is one walk-forward window's outcome.
type WindowRow struct {
	Start  string  `json:"start"`
	End    string  `json:"end"`
	CAGR   float64 `json:"cagr"`
	Sharpe float64 `json:"sharpe"`
	MDD    float64 `json:"mdd"`
}

// Sweep runs the kernel over the cartesian product of tops and rebalance
// intervals, one row per pair. A pair whose run fails aborts the sweep.
func Sweep(ranksByDate map[string][]Rank, prices map[string][]domain.PriceBar, base Params, tops, rebals []int, log zerolog.Logger) ([]SweepRow, error) {
	rows := make([]SweepRow, 0, len(tops)*len(rebals))
	for _, top := range tops {
		for _, reb := range rebals {
			p := base
			p.Top = top
			p.Rebalance = reb

			res, err := Run(ranksByDate, prices, p)
			if err != nil {
				return nil, fmt.Errorf("failed to sweep top=%d rebalance=%d: %w", top, reb, err)
			}

			log.Debug().Int("top", top).Int("rebalance", reb).
				Float64("cagr", res.CAGR).Float64("mdd", res.MDD).Msg("Sweep cell done")
			rows = append(rows, SweepRow{
				Top:       top,
				Rebalance: reb,
				CAGR:      res.CAGR,
				Sharpe:    res.Sharpe,
				MDD:       res.MDD,
			})
		}
	}
	return rows, nil
}

// WalkWindows enumerates the rolling evaluation windows: length windowYears,
// stepped by stepMonths, as long as the window still fits inside [start, end].
func WalkWindows(start, end string, windowYears, stepMonths int) ([][2]string, error) {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if windowYears < 1 {
		windowYears = 1
	}
	if stepMonths < 1 {
		stepMonths = 1
	}

	var windows [][2]string
	for k := 0; ; k++ {
		ws := s.AddDate(0, k*stepMonths, 0)
		we := ws.AddDate(windowYears, 0, 0)
		if we.After(e) {
			break
		}
		windows = append(windows, [2]string{
			ws.Format("2006-01-02"),
			we.Format("2006-01-02"),
		})
	}
	return windows, nil
}

// WalkForward runs the kernel on each rolling window independently.
func WalkForward(ranksByDate map[string][]Rank, prices map[string][]domain.PriceBar, base Params, windowYears, stepMonths int, log zerolog.Logger) ([]WindowRow, error) {
	windows, err := WalkWindows(base.Start, base.End, windowYears, stepMonths)
	if err != nil {
		return nil, err
	}

	rows := make([]WindowRow, 0, len(windows))
	for _, w := range windows {
		p := base
		p.Start, p.End = w[0], w[1]

		res, err := Run(ranksByDate, prices, p)
		if err != nil {
			return nil, fmt.Errorf("failed to run window %s..%s: %w", w[0], w[1], err)
		}

		log.Debug().Str("start", w[0]).Str("end", w[1]).
			Float64("cagr", res.CAGR).Msg("Walk-forward window done")
		rows = append(rows, WindowRow{
			Start:  w[0],
			End:    w[1],
			CAGR:   res.CAGR,
			Sharpe: res.Sharpe,
			MDD:    res.MDD,
		})
	}
	return rows, nil
}
