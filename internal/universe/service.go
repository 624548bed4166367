// Package universe maintains the listed/OTC ticker catalog and the
// market-wide daily foreign flow update.
package universe

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/clients/finmind"
	"github.com/aristath/twscreener/internal/clients/twse"
	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
)

// StaleAfter is how old the catalog stamp may be before a refresh is due.
const StaleAfter = 24 * time.Hour

// Market labels as stored in stock_list.
const (
	MarketTWSE = "上市"
	MarketTPEx = "上櫃"
)

// Service refreshes the stock catalog from the exchange listing (primary)
// and the fallback provider's OTC catalog.
type Service struct {
	stocks  *repositories.StockListRepository
	flows   *repositories.FundFlowRepository
	twse    *twse.Client
	finmind *finmind.Client
	log     zerolog.Logger
	now     func() time.Time
}

// New creates a new universe service
func New(
	stocks *repositories.StockListRepository,
	flows *repositories.FundFlowRepository,
	twseClient *twse.Client,
	finmindClient *finmind.Client,
	log zerolog.Logger,
) *Service {
	return &Service{
		stocks:  stocks,
		flows:   flows,
		twse:    twseClient,
		finmind: finmindClient,
		log:     log.With().Str("component", "universe").Logger(),
		now:     time.Now,
	}
}

// ShouldUpdate reports whether the catalog stamp is absent or older than
// StaleAfter.
func (s *Service) ShouldUpdate() (bool, error) {
	last, err := s.stocks.LastUpdated()
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	return s.now().Sub(last) > StaleAfter, nil
}

// Refresh pulls the listed catalog from the exchange and the OTC catalog
// from the fallback provider, then upserts both and stamps the update.
// An empty OTC catalog is acceptable; a failed OTC pull is logged and
// skipped so the listed refresh still lands.
func (s *Service) Refresh(force bool) (int, error) {
	if !force {
		due, err := s.ShouldUpdate()
		if err != nil {
			return 0, err
		}
		if !due {
			s.log.Debug().Msg("Stock list is fresh, skipping refresh")
			return 0, nil
		}
	}

	listed, err := s.twse.GetCompanyCatalog()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch listed catalog: %w", err)
	}
	for i := range listed {
		listed[i].Market = MarketTWSE
	}

	otc := s.fetchOTC()

	all := append(listed, otc...)
	if len(all) == 0 {
		return 0, fmt.Errorf("catalog refresh returned no stocks")
	}

	if err := s.stocks.Upsert(all); err != nil {
		return 0, fmt.Errorf("failed to store stock list: %w", err)
	}
	if err := s.stocks.StampUpdated(s.now()); err != nil {
		return 0, err
	}

	s.log.Info().Int("listed", len(listed)).Int("otc", len(otc)).Msg("Stock list refreshed")
	return len(all), nil
}

// fetchOTC extracts the tpex entries from the fallback provider's full
// catalog. Quota or transport failures degrade to an empty slice.
func (s *Service) fetchOTC() []domain.Stock {
	rows, err := s.finmind.GetStockInfo()
	if err != nil {
		s.log.Warn().Err(err).Msg("OTC catalog unavailable, keeping listed only")
		return nil
	}

	var out []domain.Stock
	for _, row := range rows {
		if row.Type != "tpex" {
			continue
		}
		out = append(out, domain.Stock{
			Ticker:   row.StockID,
			Name:     row.Name,
			Industry: row.Industry,
			Market:   MarketTPEx,
		})
	}
	return out
}

// UpdateForeignFlow ingests the exchange's market-wide foreign buy/sell
// report for one day. The report only carries the foreign leg, so trust and
// dealer legs of existing rows are left untouched.
func (s *Service) UpdateForeignFlow(day time.Time) (int, error) {
	date := day.Format("2006-01-02")
	rows, err := s.twse.GetForeignFlow(day.Format("20060102"))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch foreign flow for %s: %w", date, err)
	}
	if len(rows) == 0 {
		s.log.Debug().Str("date", date).Msg("No foreign flow rows, likely a holiday")
		return 0, nil
	}

	flows := make([]domain.FundFlowRow, 0, len(rows))
	for _, row := range rows {
		flows = append(flows, domain.FundFlowRow{
			Ticker:     row.Ticker,
			Date:       date,
			ForeignNet: row.Net,
		})
	}

	if err := s.flows.UpsertForeignNet(flows); err != nil {
		return 0, fmt.Errorf("failed to store foreign flow: %w", err)
	}
	s.log.Info().Str("date", date).Int("rows", len(flows)).Msg("Foreign flow updated")
	return len(flows), nil
}
