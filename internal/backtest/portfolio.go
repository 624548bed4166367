package backtest

import "sort"

// WeightMode selects how the top-N picks are weighted.
type WeightMode string

// Weighting modes.
const (
	ModeEqual WeightMode = "equal"
	ModeCap   WeightMode = "cap"
)

// Rank is one scored ticker on one cross-section date. MarketCap is optional
// and only consulted by cap weighting.
type Rank struct {
	Ticker    string
	Score     float64
	MarketCap *float64
}

// ADTVClip parameterizes the liquidity filter: tickers below the turnover
// floor are dropped, and no position may exceed CapFraction of its average
// daily turnover (both in currency units of a normalized 1.0 portfolio).
type ADTVClip struct {
	Turnover    func(ticker string) float64 // 20-day average turnover lookup
	Floor       float64
	CapFraction float64
}

// DefaultADTVFloor is the minimum average daily turnover for inclusion.
const DefaultADTVFloor = 10_000_000

// BuildWeights picks the top-N tickers by score (ties broken by ticker id
// ascending) and assigns weights by mode. Cap weighting needs a market cap
// for every pick; otherwise it falls back to equal.
func BuildWeights(ranks []Rank, top int, mode WeightMode, clip *ADTVClip) map[string]float64 {
	if top <= 0 || len(ranks) == 0 {
		return nil
	}

	sorted := make([]Rank, len(ranks))
	copy(sorted, ranks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Ticker < sorted[j].Ticker
	})

	if top > len(sorted) {
		top = len(sorted)
	}
	picks := sorted[:top]

	weights := make(map[string]float64, len(picks))

	useCap := mode == ModeCap
	var capSum float64
	if useCap {
		for _, p := range picks {
			if p.MarketCap == nil || *p.MarketCap <= 0 {
				useCap = false
				break
			}
			capSum += *p.MarketCap
		}
	}

	for _, p := range picks {
		if useCap {
			weights[p.Ticker] = *p.MarketCap / capSum
		} else {
			weights[p.Ticker] = 1 / float64(len(picks))
		}
	}

	if clip != nil {
		applyADTVClip(weights, clip)
	}
	return weights
}

// applyADTVClip zeroes weights of illiquid tickers and caps the rest at
// CapFraction of their average daily turnover.
func applyADTVClip(weights map[string]float64, clip *ADTVClip) {
	floor := clip.Floor
	if floor == 0 {
		floor = DefaultADTVFloor
	}
	frac := clip.CapFraction
	if frac == 0 {
		frac = 0.1
	}

	for ticker, w := range weights {
		adtv := clip.Turnover(ticker)
		if adtv < floor {
			weights[ticker] = 0
			continue
		}
		if cap := frac * adtv; w > cap {
			weights[ticker] = cap
		}
	}
}
