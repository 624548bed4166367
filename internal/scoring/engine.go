// Package scoring implements the cross-sectional factor scoring engine.
// Five factors (valuation, growth, quality, chips, momentum), each built
// from a fixed metric set with a fixed "higher is better" direction; scores
// are deterministic given identical database state.
package scoring

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
	"github.com/aristath/twscreener/pkg/formulas"
)

// Factor names, also used as entries of Score.Missing.
const (
	FactorValuation = "valuation"
	FactorGrowth    = "growth"
	FactorQuality   = "quality"
	FactorChips     = "chips"
	FactorMomentum  = "momentum"
)

// Score is the scoring output for one ticker. Factor scores and the total
// are in [0, 100]. Missing lists what could not be produced: the bare factor
// name when the ticker has no usable row at all, or component field keys
// like "valuation.per" when the row exists but a metric is absent.
type Score struct {
	Ticker    string   `json:"ticker"`
	Total     float64  `json:"total"`
	Valuation float64  `json:"valuation"`
	Growth    float64  `json:"growth"`
	Quality   float64  `json:"quality"`
	Chips     float64  `json:"chips"`
	Momentum  float64  `json:"momentum"`
	Missing   []string `json:"missing"`
}

// Engine scores tickers against the latest stored cross-sections.
type Engine struct {
	valuation *repositories.ValuationRepository
	growth    *repositories.GrowthRepository
	quality   *repositories.QualityRepository
	flow      *repositories.FundFlowRepository
	momentum  *repositories.MomentumRepository
	log       zerolog.Logger
}

// NewEngine creates a new scoring engine
func NewEngine(
	valuation *repositories.ValuationRepository,
	growth *repositories.GrowthRepository,
	quality *repositories.QualityRepository,
	flow *repositories.FundFlowRepository,
	momentum *repositories.MomentumRepository,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		valuation: valuation,
		growth:    growth,
		quality:   quality,
		flow:      flow,
		momentum:  momentum,
		log:       log.With().Str("component", "scoring").Logger(),
	}
}

// factorData is one factor's cross-section, unpacked into per-metric value
// vectors. values[ticker][m] is nil when the metric is absent for that row.
type factorData struct {
	name    string
	metrics []string
	dirs    []float64
	values  map[string][]*float64
	history func(ticker string, n int) ([][]*float64, error)
}

// Score computes the factor scores for one ticker.
func (e *Engine) Score(ticker string, cfg Config) (*Score, error) {
	factors, err := e.loadFactors()
	if err != nil {
		return nil, err
	}
	s := e.score(ticker, factors, cfg)
	return &s, nil
}

// RankAll scores every ticker present in any factor cross-section and
// returns the results ordered by total score descending, ties by ticker
// ascending.
func (e *Engine) RankAll(cfg Config) ([]Score, error) {
	factors, err := e.loadFactors()
	if err != nil {
		return nil, err
	}

	tickers := map[string]bool{}
	for _, fd := range factors {
		for ticker := range fd.values {
			tickers[ticker] = true
		}
	}

	scores := make([]Score, 0, len(tickers))
	for ticker := range tickers {
		scores = append(scores, e.score(ticker, factors, cfg))
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].Ticker < scores[j].Ticker
	})
	return scores, nil
}

func (e *Engine) score(ticker string, factors []factorData, cfg Config) Score {
	w := cfg.Weights.Normalized()
	if cfg.Window < 1 {
		cfg.Window = 1
	}

	s := Score{Ticker: ticker, Missing: []string{}}
	byFactor := map[string]*float64{
		FactorValuation: &s.Valuation,
		FactorGrowth:    &s.Growth,
		FactorQuality:   &s.Quality,
		FactorChips:     &s.Chips,
		FactorMomentum:  &s.Momentum,
	}
	weights := map[string]float64{
		FactorValuation: w.Valuation,
		FactorGrowth:    w.Growth,
		FactorQuality:   w.Quality,
		FactorChips:     w.Chips,
		FactorMomentum:  w.Momentum,
	}

	for _, fd := range factors {
		score, absent, ok := scoreFactor(fd, ticker, cfg)
		if !ok {
			s.Missing = append(s.Missing, fd.name)
			continue
		}
		for _, m := range absent {
			s.Missing = append(s.Missing, fd.name+"."+m)
		}
		*byFactor[fd.name] = score
		s.Total += weights[fd.name] * score
	}
	return s
}

// scoreFactor computes one factor score for a ticker: the mean of its
// available component scores. absent lists the metric keys that contributed
// nothing; ok is false when the ticker has no row or no usable component in
// this cross-section.
func scoreFactor(fd factorData, ticker string, cfg Config) (float64, []string, bool) {
	row, ok := fd.values[ticker]
	if !ok {
		return 0, nil, false
	}

	var sum float64
	var n int
	var absent []string
	for m := range fd.metrics {
		x := row[m]
		if x == nil {
			absent = append(absent, fd.metrics[m])
			continue
		}

		population := make([]float64, 0, len(fd.values))
		for _, other := range fd.values {
			if other[m] != nil {
				population = append(population, *other[m])
			}
		}
		if len(population) == 0 {
			absent = append(absent, fd.metrics[m])
			continue
		}

		value := *x
		if cfg.Method == MethodRolling && fd.history != nil {
			if mean, ok := rollingMean(fd, ticker, m, cfg.Window); ok {
				value = mean
			}
		}

		sum += componentScore(value, population, fd.dirs[m], cfg.Method)
		n++
	}

	if n == 0 {
		return 0, nil, false
	}
	return sum / float64(n), absent, true
}

// componentScore maps one metric value onto [0, 100] against its population.
func componentScore(x float64, population []float64, dir float64, method Method) float64 {
	if method == MethodPercentile {
		rank := formulas.Percentile(x, population) * 100
		if dir < 0 {
			rank = 100 - rank
		}
		return formulas.Clamp(rank, 0, 100)
	}

	// zscore (also the second stage of rolling)
	mean := formulas.Mean(population)
	std := formulas.StdDev(population)
	z := formulas.ZScore(x, mean, std)
	return formulas.Clamp(50+dir*10*z, 0, 100)
}

// rollingMean averages the ticker's last window observations of metric m.
func rollingMean(fd factorData, ticker string, m, window int) (float64, bool) {
	rows, err := fd.history(ticker, window)
	if err != nil || len(rows) == 0 {
		return 0, false
	}

	var sum float64
	var n int
	for _, row := range rows {
		if row[m] != nil {
			sum += *row[m]
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// loadFactors pulls the latest cross-section of every factor.
func (e *Engine) loadFactors() ([]factorData, error) {
	valuation, err := e.loadValuation()
	if err != nil {
		return nil, err
	}
	growth, err := e.loadGrowth()
	if err != nil {
		return nil, err
	}
	quality, err := e.loadQuality()
	if err != nil {
		return nil, err
	}
	chips, err := e.loadChips()
	if err != nil {
		return nil, err
	}
	momentum, err := e.loadMomentum()
	if err != nil {
		return nil, err
	}
	return []factorData{valuation, growth, quality, chips, momentum}, nil
}

func (e *Engine) loadValuation() (factorData, error) {
	rows, err := e.valuation.CrossSection("")
	if err != nil {
		return factorData{}, fmt.Errorf("failed to load valuation cross-section: %w", err)
	}

	fd := factorData{
		name:    FactorValuation,
		metrics: []string{"per", "pbr", "dividendYield"},
		dirs:    []float64{-1, -1, +1},
		values:  make(map[string][]*float64, len(rows)),
	}
	for _, row := range rows {
		fd.values[row.Ticker] = []*float64{row.PER, row.PBR, row.DividendYield}
	}
	return fd, nil
}

func (e *Engine) loadGrowth() (factorData, error) {
	rows, err := e.growth.CrossSection("")
	if err != nil {
		return factorData{}, fmt.Errorf("failed to load growth cross-section: %w", err)
	}

	fd := factorData{
		name:    FactorGrowth,
		metrics: []string{"yoy", "mom", "epsQoQ"},
		dirs:    []float64{+1, +1, +1},
		values:  make(map[string][]*float64, len(rows)),
		history: func(ticker string, n int) ([][]*float64, error) {
			hist, err := e.growth.History(ticker, n)
			if err != nil {
				return nil, err
			}
			out := make([][]*float64, len(hist))
			for i, row := range hist {
				out[i] = []*float64{row.YoY, row.MoM, row.EPSQoQ}
			}
			return out, nil
		},
	}
	for _, row := range rows {
		fd.values[row.Ticker] = []*float64{row.YoY, row.MoM, row.EPSQoQ}
	}
	return fd, nil
}

func (e *Engine) loadQuality() (factorData, error) {
	rows, err := e.quality.CrossSection("")
	if err != nil {
		return factorData{}, fmt.Errorf("failed to load quality cross-section: %w", err)
	}

	fd := factorData{
		name:    FactorQuality,
		metrics: []string{"roe", "grossMargin", "opMargin"},
		dirs:    []float64{+1, +1, +1},
		values:  make(map[string][]*float64, len(rows)),
		history: func(ticker string, n int) ([][]*float64, error) {
			hist, err := e.quality.History(ticker, n)
			if err != nil {
				return nil, err
			}
			out := make([][]*float64, len(hist))
			for i, row := range hist {
				out[i] = []*float64{row.ROE, row.GrossMargin, row.OpMargin}
			}
			return out, nil
		},
	}
	for _, row := range rows {
		fd.values[row.Ticker] = []*float64{row.ROE, row.GrossMargin, row.OpMargin}
	}
	return fd, nil
}

func (e *Engine) loadChips() (factorData, error) {
	rows, err := e.flow.CrossSection("")
	if err != nil {
		return factorData{}, fmt.Errorf("failed to load fund flow cross-section: %w", err)
	}

	fd := factorData{
		name:    FactorChips,
		metrics: []string{"foreignNet", "invTrustNet"},
		dirs:    []float64{+1, +1},
		values:  make(map[string][]*float64, len(rows)),
		history: func(ticker string, n int) ([][]*float64, error) {
			hist, err := e.flow.History(ticker, n)
			if err != nil {
				return nil, err
			}
			out := make([][]*float64, len(hist))
			for i, row := range hist {
				out[i] = []*float64{
					domain.Float64Ptr(float64(row.ForeignNet)),
					domain.Float64Ptr(float64(row.InvTrustNet)),
				}
			}
			return out, nil
		},
	}
	for _, row := range rows {
		fd.values[row.Ticker] = []*float64{
			domain.Float64Ptr(float64(row.ForeignNet)),
			domain.Float64Ptr(float64(row.InvTrustNet)),
		}
	}
	return fd, nil
}

func (e *Engine) loadMomentum() (factorData, error) {
	rows, err := e.momentum.CrossSection("")
	if err != nil {
		return factorData{}, fmt.Errorf("failed to load momentum cross-section: %w", err)
	}

	fd := factorData{
		name:    FactorMomentum,
		metrics: []string{"rsi", "priceChange1m"},
		dirs:    []float64{+1, +1},
		values:  make(map[string][]*float64, len(rows)),
	}
	for _, row := range rows {
		fd.values[row.Ticker] = []*float64{row.RSI, row.PriceChange1M}
	}
	return fd, nil
}
