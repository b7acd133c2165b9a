package index

import (
	"context"
	"testing"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store/storetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertWeightsValid(t *testing.T, idx domain.Index, maxWeight float64) {
	t.Helper()
	if len(idx.Constituents) == 0 {
		return
	}
	sum := 0.0
	for _, c := range idx.Constituents {
		assert.LessOrEqual(t, c.Weight, maxWeight+1e-9)
		assert.GreaterOrEqual(t, c.Weight, 0.0)
		sum += c.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestCapAndNormalizeDominantWeight(t *testing.T) {
	// One wallet with score 1000 against nine with score 10: a single cap
	// pass leaves the top weight above the cap again, so the loop must
	// iterate until the top sits exactly at the cap and the rest share the
	// residual evenly.
	raw := make([]float64, 10)
	raw[0] = 1000
	for i := 1; i < 10; i++ {
		raw[i] = 10
	}

	got := CapAndNormalize(raw, 0.20)
	assert.InDelta(t, 0.20, got[0], 1e-9)
	for i := 1; i < 10; i++ {
		assert.InDelta(t, 0.80/9, got[i], 1e-9)
	}

	sum := 0.0
	for _, w := range got {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestCapAndNormalizeIdempotent(t *testing.T) {
	raw := []float64{0.5, 0.3, 0.1, 0.05, 0.05}
	once := CapAndNormalize(raw, 0.35)
	twice := CapAndNormalize(once, 0.35)
	for i := range once {
		assert.InDelta(t, once[i], twice[i], 1e-9)
	}
}

func TestCapAndNormalizeInfeasibleCapFallsBackToEqual(t *testing.T) {
	got := CapAndNormalize([]float64{9, 1}, 0.3) // 2 * 0.3 < 1
	assert.InDelta(t, 0.5, got[0], 1e-9)
	assert.InDelta(t, 0.5, got[1], 1e-9)
}

func TestRawWeightsPolicies(t *testing.T) {
	candidates := []candidate{
		{Score: domain.WalletScore{TotalScore: 80}, Profile: domain.WalletProfile{TotalVolume: 3000}, Sharpe: 2},
		{Score: domain.WalletScore{TotalScore: 20}, Profile: domain.WalletProfile{TotalVolume: 1000}, Sharpe: -1},
	}

	equal := rawWeights(WeightEqual, candidates)
	assert.InDelta(t, 0.5, equal[0], 1e-9)

	score := rawWeights(WeightScore, candidates)
	assert.InDelta(t, 0.8, score[0], 1e-9)

	// Negative Sharpe is floored at zero before normalization.
	sharpe := rawWeights(WeightSharpe, candidates)
	assert.InDelta(t, 1.0, sharpe[0], 1e-9)
	assert.Zero(t, sharpe[1])

	volume := rawWeights(WeightVolume, candidates)
	assert.InDelta(t, 0.75, volume[0], 1e-9)
}

func universeOf(n int, score float64, strategy domain.StrategyType) Universe {
	u := Universe{
		Profiles: map[string]domain.WalletProfile{},
		Sharpes:  map[string]domain.WalletSharpe{},
		Mix:      map[string]map[domain.MarketCategory]float64{},
	}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		u.Scores = append(u.Scores, domain.WalletScore{
			WalletID: id, TotalScore: score, StrategyType: strategy,
		})
		u.Profiles[id] = domain.WalletProfile{
			WalletID: id, TotalTrades: 100, DaysActive: 30, TotalVolume: 50_000,
		}
		u.Sharpes[id] = domain.WalletSharpe{WalletID: id, SharpeCapped: 2.0}
	}
	return u
}

func TestBuildExcludesLatencyStrategiesFromReplicableIndex(t *testing.T) {
	u := universeOf(5, 80, domain.StrategyDirectionalMomentum)
	u.Scores[0].StrategyType = domain.StrategyArbitrageur
	u.Scores[1].StrategyType = domain.StrategyMarketMaker

	cfg := Config{
		IndexID: "T", NumConstituents: 5, Weighting: WeightEqual,
		MaxWeightPerTrader: 0.5, MinTotalScore: 60, Replicable: true,
	}
	idx := Build(cfg, u, time.Now(), zerolog.Nop())
	require.Len(t, idx.Constituents, 3)
	for _, c := range idx.Constituents {
		assert.Equal(t, domain.StrategyDirectionalMomentum, c.StrategyType)
	}
	assertWeightsValid(t, idx, 0.5)
}

func TestBuildEligibilityThresholds(t *testing.T) {
	u := universeOf(3, 80, domain.StrategyDirectionalMomentum)
	low := u.Profiles["a"]
	low.TotalTrades = 5 // below MinTrades
	u.Profiles["a"] = low
	u.Sharpes["b"] = domain.WalletSharpe{WalletID: "b", SharpeCapped: 0.1} // below MinSharpe

	cfg := Config{
		IndexID: "T", NumConstituents: 10, Weighting: WeightEqual,
		MaxWeightPerTrader: 1.0, MinTotalScore: 60,
		MinTrades: 50, MinDaysActive: 14, MinVolume: 10_000, MinSharpe: 0.5,
	}
	idx := Build(cfg, u, time.Now(), zerolog.Nop())
	require.Len(t, idx.Constituents, 1)
	assert.Equal(t, "c", idx.Constituents[0].WalletID)
}

func TestBuildSectoralCategoryFilter(t *testing.T) {
	u := universeOf(2, 80, domain.StrategyDirectionalMomentum)
	u.Mix["a"] = map[domain.MarketCategory]float64{domain.CategoryCrypto: 0.8}
	u.Mix["b"] = map[domain.MarketCategory]float64{domain.CategoryCrypto: 0.2, domain.CategorySports: 0.8}

	cfg := Config{
		IndexID: "T", NumConstituents: 10, Weighting: WeightEqual,
		MaxWeightPerTrader: 1.0, MinTotalScore: 60,
		RequiredCategories:       []domain.MarketCategory{domain.CategoryCrypto},
		MinCategoryConcentration: 0.5,
	}
	idx := Build(cfg, u, time.Now(), zerolog.Nop())
	require.Len(t, idx.Constituents, 1)
	assert.Equal(t, "a", idx.Constituents[0].WalletID)
}

func TestBuildEmptyUniverse(t *testing.T) {
	cfg := Config{IndexID: "T", NumConstituents: 10, Weighting: WeightScore, MaxWeightPerTrader: 0.2}
	idx := Build(cfg, Universe{}, time.Now(), zerolog.Nop())
	assert.Empty(t, idx.Constituents)
}

func TestBuildSelectsTopNByScore(t *testing.T) {
	u := universeOf(6, 80, domain.StrategyDirectionalMomentum)
	for i := range u.Scores {
		u.Scores[i].TotalScore = 60 + float64(i)*5
	}

	cfg := Config{
		IndexID: "T", NumConstituents: 3, Weighting: WeightScore,
		MaxWeightPerTrader: 0.5, MinTotalScore: 60,
	}
	idx := Build(cfg, u, time.Now(), zerolog.Nop())
	require.Len(t, idx.Constituents, 3)
	assert.Equal(t, "f", idx.Constituents[0].WalletID)
	assert.Equal(t, "e", idx.Constituents[1].WalletID)
	assert.Equal(t, "d", idx.Constituents[2].WalletID)
	assertWeightsValid(t, idx, 0.5)
}

func TestDiff(t *testing.T) {
	prev := domain.Index{Constituents: []domain.IndexConstituent{
		{WalletID: "a"}, {WalletID: "b"}, {WalletID: "c"},
	}}
	next := domain.Index{Constituents: []domain.IndexConstituent{
		{WalletID: "b"}, {WalletID: "c"}, {WalletID: "d"},
	}}

	diff := Diff(prev, next)
	assert.Equal(t, []string{"d"}, diff.Added)
	assert.Equal(t, []string{"a"}, diff.Removed)
}

func TestRebalancePersistsConstituents(t *testing.T) {
	fake := storetest.New() // no previous rebalance rows

	cfg := Config{
		IndexID: "PSI-TEST", NumConstituents: 3, Weighting: WeightEqual,
		MaxWeightPerTrader: 0.5, MinTotalScore: 60,
	}
	b := NewBuilder(fake, []Config{cfg}, zerolog.Nop())

	u := universeOf(3, 80, domain.StrategyDirectionalMomentum)
	out, err := b.Rebalance(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, out, 1)

	rows := fake.InsertedInto("psi_index")
	require.Len(t, rows, 3)
	row := rows[0].(constituentRow)
	assert.Equal(t, "PSI-TEST", row.IndexID)
	assert.InDelta(t, 1.0/3.0, row.Weight, 1e-9)
	assert.False(t, row.RebalancedAt.IsZero())

	// First build: creation time is stamped, no return history yet.
	assert.Equal(t, row.RebalancedAt, row.CreatedAt)
	assert.Zero(t, row.CumulativeReturn)
}

func TestRebalanceCarriesCreationTimeAndCompoundsReturns(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lastRebalanced := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fake := storetest.New()
	fake.On("FROM psi_index", []constituentRow{
		{
			IndexID: "PSI-TEST", WalletID: "a", Weight: 0.5,
			RebalancedAt: lastRebalanced, CreatedAt: created, CumulativeReturn: 0.10,
		},
		{
			IndexID: "PSI-TEST", WalletID: "b", Weight: 0.5,
			RebalancedAt: lastRebalanced, CreatedAt: created, CumulativeReturn: 0.10,
		},
	})
	fake.On("FROM position_pnl", []struct {
		WalletID string  `ch:"wallet_id"`
		PnL      float64 `ch:"pnl"`
		Basis    float64 `ch:"basis"`
	}{
		{WalletID: "a", PnL: 200, Basis: 1000}, // +20%
		{WalletID: "b", PnL: -50, Basis: 1000}, // -5%
	})

	cfg := Config{
		IndexID: "PSI-TEST", NumConstituents: 3, Weighting: WeightEqual,
		MaxWeightPerTrader: 0.5, MinTotalScore: 60,
	}
	b := NewBuilder(fake, []Config{cfg}, zerolog.Nop())
	b.now = func() time.Time { return now }

	out, err := b.Rebalance(context.Background(), universeOf(3, 80, domain.StrategyDirectionalMomentum))
	require.NoError(t, err)
	require.Len(t, out, 1)

	// created_at survives the rebalance; the period return of the held
	// book is 0.5*0.20 + 0.5*(-0.05) = 0.075, compounded onto +10%.
	assert.Equal(t, created, out[0].CreatedAt)
	assert.Equal(t, now, out[0].LastRebalanced)
	assert.InDelta(t, 1.10*1.075-1, out[0].CumulativeReturn, 1e-9)

	rows := fake.InsertedInto("psi_index")
	require.Len(t, rows, 3)
	row := rows[0].(constituentRow)
	assert.Equal(t, created, row.CreatedAt)
	assert.Equal(t, now, row.RebalancedAt)
	assert.InDelta(t, 1.10*1.075-1, row.CumulativeReturn, 1e-9)
}
