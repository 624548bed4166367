// Package screener exposes the user-facing query surface: ranked scores,
// per-ticker explanations and the filtered stock list, with CSV and JSON
// export.
package screener

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
	"github.com/aristath/twscreener/internal/scoring"
)

// Screener combines the scoring engine with the stock catalog.
type Screener struct {
	engine *scoring.Engine
	stocks *repositories.StockListRepository
	log    zerolog.Logger
}

// New creates a new screener
func New(engine *scoring.Engine, stocks *repositories.StockListRepository, log zerolog.Logger) *Screener {
	return &Screener{
		engine: engine,
		stocks: stocks,
		log:    log.With().Str("component", "screener").Logger(),
	}
}

// RankOptions filters the ranked output.
type RankOptions struct {
	Limit    int     // 0 = unlimited
	MinScore float64 // inclusive lower bound on the total
}

// Rank returns the scored universe ordered by total descending, filtered by
// the options.
func (s *Screener) Rank(cfg scoring.Config, opts RankOptions) ([]scoring.Score, error) {
	scores, err := s.engine.RankAll(cfg)
	if err != nil {
		return nil, err
	}

	out := make([]scoring.Score, 0, len(scores))
	for _, sc := range scores {
		if sc.Total < opts.MinScore {
			continue
		}
		out = append(out, sc)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Explanation is one ticker's score with its catalog metadata and rank
// position within the scored universe.
type Explanation struct {
	Stock *domain.Stock `json:"stock,omitempty"`
	Score scoring.Score `json:"score"`
	Rank  int           `json:"rank"` // 1-based; 0 when the ticker is unscored
	Of    int           `json:"of"`
}

// Explain scores one ticker and locates it in the full ranking. An unknown
// ticker is an error; a known ticker with no data yields an all-missing
// score.
func (s *Screener) Explain(ticker string, cfg scoring.Config) (*Explanation, error) {
	stock, err := s.stocks.Get(ticker)
	if err != nil {
		return nil, err
	}

	scores, err := s.engine.RankAll(cfg)
	if err != nil {
		return nil, err
	}

	exp := &Explanation{Stock: stock, Of: len(scores)}
	for i, sc := range scores {
		if sc.Ticker == ticker {
			exp.Score = sc
			exp.Rank = i + 1
			break
		}
	}

	if exp.Rank == 0 {
		if stock == nil {
			return nil, fmt.Errorf("unknown ticker %s", ticker)
		}
		score, err := s.engine.Score(ticker, cfg)
		if err != nil {
			return nil, err
		}
		exp.Score = *score
	}
	return exp, nil
}

// ListOptions filters the stock list output.
type ListOptions struct {
	Market     string
	Industry   string
	Limit      int
	MinScore   float64
	ShowScores bool
}

// ListedStock is one stock list row, optionally joined with its score.
type ListedStock struct {
	domain.Stock
	Score *scoring.Score `json:"score,omitempty"`
}

// ListStocks returns catalog entries matching the filters. With ShowScores
// (or a MinScore) each entry is joined with its current score; entries
// without a score pass a zero MinScore filter and carry a nil score.
func (s *Screener) ListStocks(cfg scoring.Config, opts ListOptions) ([]ListedStock, error) {
	stocks, err := s.stocks.List(opts.Market, opts.Industry)
	if err != nil {
		return nil, err
	}

	var byTicker map[string]scoring.Score
	if opts.ShowScores || opts.MinScore > 0 {
		scores, err := s.engine.RankAll(cfg)
		if err != nil {
			return nil, err
		}
		byTicker = make(map[string]scoring.Score, len(scores))
		for _, sc := range scores {
			byTicker[sc.Ticker] = sc
		}
	}

	out := make([]ListedStock, 0, len(stocks))
	for _, stock := range stocks {
		row := ListedStock{Stock: stock}
		if byTicker != nil {
			if sc, ok := byTicker[stock.Ticker]; ok {
				row.Score = &sc
			}
		}
		if opts.MinScore > 0 && (row.Score == nil || row.Score.Total < opts.MinScore) {
			continue
		}
		out = append(out, row)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}
