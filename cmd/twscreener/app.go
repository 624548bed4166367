package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/twscreener/internal/backtest"
	"github.com/aristath/twscreener/internal/batch"
	"github.com/aristath/twscreener/internal/cache"
	"github.com/aristath/twscreener/internal/clients/finmind"
	"github.com/aristath/twscreener/internal/clients/twse"
	"github.com/aristath/twscreener/internal/config"
	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/fetchers"
	"github.com/aristath/twscreener/internal/pipeline"
	"github.com/aristath/twscreener/internal/scoring"
	"github.com/aristath/twscreener/internal/screener"
	"github.com/aristath/twscreener/internal/universe"
	"github.com/aristath/twscreener/pkg/logger"
)

// app wires configuration, logging, the three databases and their
// repositories for one command invocation.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	dbs      *database.Databases
	shutdown *batch.ShutdownManager

	stocks    *repositories.StockListRepository
	prices    *repositories.PriceRepository
	valuation *repositories.ValuationRepository
	growth    *repositories.GrowthRepository
	quality   *repositories.QualityRepository
	flows     *repositories.FundFlowRepository
	momentum  *repositories.MomentumRepository
}

// newApp loads configuration, opens the databases and builds the repository
// set. The shutdown manager is created with the databases registered but no
// signal handler installed; one-shot commands call a.shutdown.Listen(), serve
// mode handles signals itself.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  true,
		LogsDir: cfg.LogsDir,
	})
	logger.SetGlobalLogger(log)

	dbs, err := database.OpenAll(cfg.DataDir, log)
	if err != nil {
		return nil, err
	}

	shutdown := batch.NewShutdownManager(log)
	shutdown.Register("databases", dbs.Close)

	fundamentals := dbs.Fundamentals.Conn()
	return &app{
		cfg:      cfg,
		log:      log,
		dbs:      dbs,
		shutdown: shutdown,

		stocks:    repositories.NewStockListRepository(fundamentals, log),
		prices:    repositories.NewPriceRepository(dbs.Price.Conn(), log),
		valuation: repositories.NewValuationRepository(fundamentals, log),
		growth:    repositories.NewGrowthRepository(fundamentals, log),
		quality:   repositories.NewQualityRepository(dbs.Quality.Conn(), log),
		flows:     repositories.NewFundFlowRepository(fundamentals, log),
		momentum:  repositories.NewMomentumRepository(fundamentals, log),
	}, nil
}

// Close runs the registered cleanup callbacks.
func (a *app) Close() {
	a.shutdown.RunCleanup()
}

// clients builds the upstream pair behind the shared file cache.
func (a *app) clients() (*twse.Client, *finmind.Client, error) {
	c, err := cache.New(a.cfg.CacheDir, a.log)
	if err != nil {
		return nil, nil, err
	}
	return twse.NewClient(c, a.log), finmind.NewClient(a.cfg.FinMindToken, c, a.log), nil
}

// engine builds the scoring engine over the repository set.
func (a *app) engine() *scoring.Engine {
	return scoring.NewEngine(a.valuation, a.growth, a.quality, a.flows, a.momentum, a.log)
}

// screener builds the ranking/explain/list surface.
func (a *app) screener() *screener.Screener {
	return screener.New(a.engine(), a.stocks, a.log)
}

// updater builds the factor update pipeline: cached clients, the six
// fetchers, the batch executor and the progress tracker.
func (a *app) updater() (*pipeline.Updater, error) {
	primary, fallback, err := a.clients()
	if err != nil {
		return nil, err
	}
	sources := fetchers.Sources{Primary: primary, Fallback: fallback}

	priceFetcher := fetchers.NewPriceFetcher(sources, a.prices, a.log)
	f := pipeline.Fetchers{
		Price:     priceFetcher,
		Valuation: fetchers.NewValuationFetcher(sources, a.valuation, a.prices, a.log),
		Growth:    fetchers.NewGrowthFetcher(sources, a.growth, a.log),
		Quality:   fetchers.NewQualityFetcher(sources, a.quality, a.log),
		FundFlow:  fetchers.NewFundFlowFetcher(sources, a.flows, a.log),
		Momentum:  fetchers.NewMomentumFetcher(priceFetcher, a.momentum, a.log),
	}

	tracker, err := batch.NewTracker(a.cfg.DataDir, a.log)
	if err != nil {
		return nil, err
	}
	executor := batch.NewExecutor(batch.DefaultOptions(), a.log)
	return pipeline.NewUpdater(f, a.stocks, executor, tracker, a.log), nil
}

// universe builds the catalog refresh service.
func (a *app) universe() (*universe.Service, error) {
	primary, fallback, err := a.clients()
	if err != nil {
		return nil, err
	}
	return universe.New(a.stocks, a.flows, primary, fallback, a.log), nil
}

// loader builds the backtest input assembler.
func (a *app) loader() *backtest.Loader {
	return backtest.NewLoader(a.stocks, a.prices, a.log)
}
