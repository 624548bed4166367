package scoring

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/twscreener/internal/database"
	"github.com/aristath/twscreener/internal/database/repositories"
	"github.com/aristath/twscreener/internal/domain"
)

type fixture struct {
	engine    *Engine
	valuation *repositories.ValuationRepository
	growth    *repositories.GrowthRepository
	quality   *repositories.QualityRepository
	flow      *repositories.FundFlowRepository
	momentum  *repositories.MomentumRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	open := func(name string) *database.DB {
		db, err := database.New(database.Config{
			Path: filepath.Join(t.TempDir(), name+".db"),
			Name: name,
		})
		require.NoError(t, err)
		require.NoError(t, db.Migrate())
		t.Cleanup(func() { db.Close() })
		return db
	}

	fundamentals := open("fundamentals")
	quality := open("quality")

	f := &fixture{
		valuation: repositories.NewValuationRepository(fundamentals.Conn(), zerolog.Nop()),
		growth:    repositories.NewGrowthRepository(fundamentals.Conn(), zerolog.Nop()),
		quality:   repositories.NewQualityRepository(quality.Conn(), zerolog.Nop()),
		flow:      repositories.NewFundFlowRepository(fundamentals.Conn(), zerolog.Nop()),
		momentum:  repositories.NewMomentumRepository(fundamentals.Conn(), zerolog.Nop()),
	}
	f.engine = NewEngine(f.valuation, f.growth, f.quality, f.flow, f.momentum, zerolog.Nop())
	return f
}

// seedTwoTickers loads the synthetic A/B universe: every B value doubles A's.
func seedTwoTickers(t *testing.T, f *fixture) {
	t.Helper()

	require.NoError(t, f.valuation.Upsert([]domain.Valuation{
		{Ticker: "A", Date: "2024-01-31", PER: domain.Float64Ptr(10), PBR: domain.Float64Ptr(1), DividendYield: domain.Float64Ptr(5)},
		{Ticker: "B", Date: "2024-01-31", PER: domain.Float64Ptr(20), PBR: domain.Float64Ptr(2), DividendYield: domain.Float64Ptr(10)},
	}))
	require.NoError(t, f.growth.Upsert([]domain.GrowthRow{
		{Ticker: "A", Month: "2024-01-01", Revenue: 100, YoY: domain.Float64Ptr(10), MoM: domain.Float64Ptr(5), EPSQoQ: domain.Float64Ptr(2)},
		{Ticker: "B", Month: "2024-01-01", Revenue: 200, YoY: domain.Float64Ptr(20), MoM: domain.Float64Ptr(10), EPSQoQ: domain.Float64Ptr(4)},
	}))
	require.NoError(t, f.quality.Upsert([]domain.QualityRow{
		{Ticker: "A", Date: "2024-01-31", ROE: domain.Float64Ptr(15), GrossMargin: domain.Float64Ptr(30), OpMargin: domain.Float64Ptr(20)},
		{Ticker: "B", Date: "2024-01-31", ROE: domain.Float64Ptr(30), GrossMargin: domain.Float64Ptr(60), OpMargin: domain.Float64Ptr(40)},
	}))
	require.NoError(t, f.flow.Upsert([]domain.FundFlowRow{
		{Ticker: "A", Date: "2024-01-31", ForeignNet: 100, InvTrustNet: 50},
		{Ticker: "B", Date: "2024-01-31", ForeignNet: 200, InvTrustNet: 100},
	}))
	require.NoError(t, f.momentum.Upsert([]domain.MomentumSnapshot{
		{Ticker: "A", Date: "2024-01-31", RSI: domain.Float64Ptr(30), PriceChange1M: domain.Float64Ptr(5)},
		{Ticker: "B", Date: "2024-01-31", RSI: domain.Float64Ptr(60), PriceChange1M: domain.Float64Ptr(10)},
	}))
}

func TestZScoreTwoTickerUniverse(t *testing.T) {
	f := newFixture(t)
	seedTwoTickers(t, f)

	scores, err := f.engine.RankAll(DefaultConfig())
	require.NoError(t, err)
	require.Len(t, scores, 2)

	// B outranks A
	b, a := scores[0], scores[1]
	assert.Equal(t, "B", b.Ticker)
	assert.Equal(t, "A", a.Ticker)

	// two-point cross-section: z = ±1, so components are 40 or 60
	assert.InDelta(t, 53.3333, a.Valuation, 1e-3)
	assert.InDelta(t, 40.0, a.Growth, 1e-9)
	assert.InDelta(t, 40.0, a.Quality, 1e-9)
	assert.InDelta(t, 40.0, a.Chips, 1e-9)
	assert.InDelta(t, 40.0, a.Momentum, 1e-9)
	assert.InDelta(t, 45.3333, a.Total, 1e-3)

	assert.InDelta(t, 46.6667, b.Valuation, 1e-3)
	assert.InDelta(t, 60.0, b.Growth, 1e-9)
	assert.InDelta(t, 54.6667, b.Total, 1e-3)

	assert.Empty(t, a.Missing)
	assert.Empty(t, b.Missing)
}

func TestMissingFactors(t *testing.T) {
	f := newFixture(t)

	// only valuation is populated
	require.NoError(t, f.valuation.Upsert([]domain.Valuation{
		{Ticker: "A", Date: "2024-01-31", PER: domain.Float64Ptr(10), PBR: domain.Float64Ptr(1), DividendYield: domain.Float64Ptr(5)},
		{Ticker: "B", Date: "2024-01-31", PER: domain.Float64Ptr(20), PBR: domain.Float64Ptr(2), DividendYield: domain.Float64Ptr(10)},
	}))

	score, err := f.engine.Score("A", DefaultConfig())
	require.NoError(t, err)

	// whole factors without a row are recorded by their bare name
	assert.ElementsMatch(t, []string{FactorGrowth, FactorQuality, FactorChips, FactorMomentum}, score.Missing)
	assert.Zero(t, score.Growth)
	assert.Zero(t, score.Quality)
	assert.Zero(t, score.Chips)
	assert.Zero(t, score.Momentum)
	// missing factors contribute 0, so total is just the weighted valuation
	assert.InDelta(t, 0.4*score.Valuation, score.Total, 1e-9)
}

func TestMissingComponentKeys(t *testing.T) {
	f := newFixture(t)
	seedTwoTickers(t, f)

	// A loses its yield observation while the factor row survives
	require.NoError(t, f.valuation.Upsert([]domain.Valuation{
		{Ticker: "A", Date: "2024-01-31", PER: domain.Float64Ptr(10), PBR: domain.Float64Ptr(1)},
	}))

	a, err := f.engine.Score("A", DefaultConfig())
	require.NoError(t, err)

	// the absent component is recorded as factor.metric, not a bare factor
	assert.Equal(t, []string{"valuation.dividendYield"}, a.Missing)
	// the factor score is the mean of the two surviving components
	assert.InDelta(t, 60.0, a.Valuation, 1e-9)

	// B keeps all three components and reports nothing missing
	b, err := f.engine.Score("B", DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, b.Missing)
}

func TestDegenerateWeightsSingleFactor(t *testing.T) {
	f := newFixture(t)
	seedTwoTickers(t, f)

	cfg := DefaultConfig()
	cfg.Weights = Weights{Valuation: 1}

	score, err := f.engine.Score("A", cfg)
	require.NoError(t, err)
	assert.InDelta(t, score.Valuation, score.Total, 1e-9)
}

func TestWeightNormalization(t *testing.T) {
	f := newFixture(t)
	seedTwoTickers(t, f)

	base := DefaultConfig()
	scaled := DefaultConfig()
	scaled.Weights = Weights{Valuation: 1.2, Growth: 0.45, Quality: 0.45, Chips: 0.45, Momentum: 0.45}

	a, err := f.engine.Score("A", base)
	require.NoError(t, err)
	b, err := f.engine.Score("A", scaled)
	require.NoError(t, err)

	assert.InDelta(t, a.Total, b.Total, 1e-9)
}

func TestScoreRangeAndZeroSigma(t *testing.T) {
	f := newFixture(t)

	// identical values: sigma = 0, z = 0, every component scores 50
	require.NoError(t, f.valuation.Upsert([]domain.Valuation{
		{Ticker: "A", Date: "2024-01-31", PER: domain.Float64Ptr(10)},
		{Ticker: "B", Date: "2024-01-31", PER: domain.Float64Ptr(10)},
	}))

	score, err := f.engine.Score("A", DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, score.Valuation, 1e-9)

	scores, err := f.engine.RankAll(DefaultConfig())
	require.NoError(t, err)
	for _, s := range scores {
		assert.GreaterOrEqual(t, s.Total, 0.0)
		assert.LessOrEqual(t, s.Total, 100.0)
	}
}

func TestPercentileMethod(t *testing.T) {
	f := newFixture(t)
	seedTwoTickers(t, f)

	cfg := DefaultConfig()
	cfg.Method = MethodPercentile

	a, err := f.engine.Score("A", cfg)
	require.NoError(t, err)
	b, err := f.engine.Score("B", cfg)
	require.NoError(t, err)

	// A is cheaper on PER/PBR, B pays more dividend and grows faster
	assert.Greater(t, a.Valuation, b.Valuation)
	assert.Greater(t, b.Growth, a.Growth)
	assert.Greater(t, b.Total, a.Total)
}

func TestRollingMethodUsesHistoryMean(t *testing.T) {
	f := newFixture(t)

	// A's latest YoY is low but its history mean is high; B is flat
	require.NoError(t, f.growth.Upsert([]domain.GrowthRow{
		{Ticker: "A", Month: "2023-11-01", Revenue: 1, YoY: domain.Float64Ptr(90)},
		{Ticker: "A", Month: "2023-12-01", Revenue: 1, YoY: domain.Float64Ptr(90)},
		{Ticker: "A", Month: "2024-01-01", Revenue: 1, YoY: domain.Float64Ptr(0)},
		{Ticker: "B", Month: "2023-11-01", Revenue: 1, YoY: domain.Float64Ptr(10)},
		{Ticker: "B", Month: "2023-12-01", Revenue: 1, YoY: domain.Float64Ptr(10)},
		{Ticker: "B", Month: "2024-01-01", Revenue: 1, YoY: domain.Float64Ptr(10)},
	}))

	zscoreCfg := DefaultConfig()
	rollingCfg := DefaultConfig()
	rollingCfg.Method = MethodRolling
	rollingCfg.Window = 3

	flat, err := f.engine.Score("A", zscoreCfg)
	require.NoError(t, err)
	rolled, err := f.engine.Score("A", rollingCfg)
	require.NoError(t, err)

	// latest-only scoring sees YoY 0 < 10; the 3-month mean (60) beats B
	assert.Less(t, flat.Growth, 50.0)
	assert.Greater(t, rolled.Growth, 50.0)
}
