package scoring

import (
	"context"
	"testing"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store/storetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A balanced low-activity wallet: 10 trades over 10 days, modest profit,
// 5 markets, no strategy signal.
func balancedProfile() domain.WalletProfile {
	return domain.WalletProfile{
		WalletID:         "0xw",
		TotalTrades:      10,
		TotalVolume:      2000,
		UniqueMarkets:    5,
		DaysActive:       10,
		BuyCount:         5,
		SellCount:        5,
		AvgTradeSize:     200,
		CompleteSetRatio: 0.0,
		DirectionBias:    0.5,
		TotalPnL:         500,
	}
}

func TestScoreBalancedWallet(t *testing.T) {
	score := Score(balancedProfile(), nil)

	assert.InDelta(t, 40.0, score.Profitability, 1e-9) // 35 + 500/1000*10
	assert.InDelta(t, 80.0, score.RiskAdjusted, 1e-9)  // 50 + 15 (size) + 15 (markets)
	// 10/30*20 days + 35 balance + 20 one-trade-per-day
	assert.InDelta(t, 61.666666, score.Consistency, 1e-4)
	assert.InDelta(t, 25.0, score.TrackRecord, 1e-9) // 5 days + 10 volume + 10 markets

	want := 0.40*40 + 0.30*80 + 0.20*score.Consistency + 0.10*25
	assert.InDelta(t, want, score.TotalScore, 1e-9)
	assert.Equal(t, domain.TierSilver, score.Tier)
	assert.Equal(t, ModelVersion, score.ModelVersion)
}

func TestProfitabilityUsesPercentileWithEnoughPeers(t *testing.T) {
	cohort := []float64{-100, 0, 100, 200, 300, 400, 500, 600, 700, 900}
	got := Profitability(500, cohort)
	// 6 below, 1 tie counted half, cohort of 10.
	assert.InDelta(t, 65.0, got, 1e-9)

	// Small cohort falls back to the ladder.
	assert.InDelta(t, 40.0, Profitability(500, cohort[:5]), 1e-9)
}

func TestProfitabilityLadderMonotone(t *testing.T) {
	pnls := []float64{-10000, -5000, -2000, -1000, -1, 0, 500, 999, 1000,
		4999, 5000, 24999, 25000, 99999, 100000, 1e7}
	prev := -1.0
	for _, pnl := range pnls {
		got := ProfitabilityLadder(pnl)
		assert.GreaterOrEqual(t, got, prev, "pnl=%v", pnl)
		prev = got
	}
}

func TestTierMonotone(t *testing.T) {
	prev := domain.TierBronze
	for score := 0.0; score <= 100; score += 0.5 {
		tier := domain.TierForScore(score)
		assert.GreaterOrEqual(t, domain.TierRank(tier), domain.TierRank(prev),
			"score=%v", score)
		prev = tier
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		ind      Indicators
		want     domain.StrategyType
	}{
		{
			name: "arbitrageur from complete sets",
			ind:  Indicators{CompleteSetRatio: 0.9, DirectionBias: 0.5, TotalTrades: 600, UniqueMarkets: 200, BuyCount: 400, SellCount: 200},
			want: domain.StrategyArbitrageur,
		},
		{
			name: "market maker from balance and volume",
			ind:  Indicators{CompleteSetRatio: 0.05, DirectionBias: 0.52, TotalTrades: 2000, UniqueMarkets: 300, BuyCount: 1000, SellCount: 1000},
			want: domain.StrategyMarketMaker,
		},
		{
			name: "directional momentum from bias and focus",
			ind:  Indicators{CompleteSetRatio: 0.0, DirectionBias: 0.95, TotalTrades: 100, UniqueMarkets: 5, BuyCount: 90, SellCount: 10},
			want: domain.StrategyDirectionalMomentum,
		},
		{
			name: "unknown when every candidate is weak",
			ind:  Indicators{CompleteSetRatio: 0.1, DirectionBias: 0.5, TotalTrades: 50, UniqueMarkets: 80, BuyCount: 40, SellCount: 10},
			want: domain.StrategyUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := Classify(tt.ind)
			assert.Equal(t, tt.want, got)
			if tt.want == domain.StrategyUnknown {
				assert.Zero(t, conf)
			} else {
				assert.Greater(t, conf, 0.0)
				assert.LessOrEqual(t, conf, 1.0)
			}
		})
	}
}

func TestClassifyHybridOnCloseCandidates(t *testing.T) {
	// Arbitrage and momentum candidates land within the hybrid spread.
	ind := Indicators{
		CompleteSetRatio: 0.45, // arb 45
		DirectionBias:    0.62, // dm 12 + 30 focus = 42
		TotalTrades:      100,
		UniqueMarkets:    10,
		BuyCount:         60,
		SellCount:        40,
	}
	got, conf := Classify(ind)
	assert.Equal(t, domain.StrategyHybrid, got)
	assert.InDelta(t, 0.45*0.7, conf, 1e-9)
}

func TestClassifyIsPure(t *testing.T) {
	ind := Indicators{CompleteSetRatio: 0.4, DirectionBias: 0.7, TotalTrades: 600, UniqueMarkets: 20, BuyCount: 400, SellCount: 200}
	t1, c1 := Classify(ind)
	t2, c2 := Classify(ind)
	assert.Equal(t, t1, t2)
	assert.Equal(t, c1, c2)
}

func TestArbitrageurAdjustmentPenalizesLowConsistency(t *testing.T) {
	p := balancedProfile()
	p.CompleteSetRatio = 0.9
	p.TotalTrades = 600
	p.BuyCount = 400
	p.SellCount = 200
	p.UniqueMarkets = 200

	// base = 6.67 days + 23.3 balance + 45 frequency = 75, above the
	// 70 threshold, so the arbitrageur bonus applies.
	base := Consistency(p.DaysActive, p.TotalTrades, p.BuyCount, p.SellCount)
	require.GreaterOrEqual(t, base, 70.0)

	score := Score(p, nil)
	require.Equal(t, domain.StrategyArbitrageur, score.StrategyType)
	assert.InDelta(t, base*1.1, score.Consistency, 1e-9)

	// Below the threshold the penalty applies instead.
	p.DaysActive = 40
	p.TotalTrades = 20
	p.BuyCount = 18
	p.SellCount = 2
	low := Consistency(p.DaysActive, p.TotalTrades, p.BuyCount, p.SellCount)
	require.Less(t, low, 70.0)

	lowScore := Score(p, nil)
	require.Equal(t, domain.StrategyArbitrageur, lowScore.StrategyType)
	assert.InDelta(t, low*0.8, lowScore.Consistency, 1e-9)
}

func TestRankAssignsDescending(t *testing.T) {
	scores := []domain.WalletScore{
		{WalletID: "0xa", TotalScore: 41},
		{WalletID: "0xb", TotalScore: 88},
		{WalletID: "0xc", TotalScore: 63},
	}
	Rank(scores)
	assert.Equal(t, "0xb", scores[0].WalletID)
	assert.Equal(t, uint32(1), scores[0].Rank)
	assert.Equal(t, "0xc", scores[1].WalletID)
	assert.Equal(t, uint32(2), scores[1].Rank)
	assert.Equal(t, "0xa", scores[2].WalletID)
	assert.Equal(t, uint32(3), scores[2].Rank)
}

func TestRunPersistsScoresAndHistory(t *testing.T) {
	fake := storetest.New().On("FROM trader_profiles FINAL", []domain.WalletProfile{
		balancedProfile(),
	})

	scorer := NewScorer(fake, zerolog.Nop())
	scores, err := scorer.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, scores, 1)

	current := fake.InsertedInto("smart_money_scores")
	history := fake.InsertedInto("smart_money_scores_history")
	require.Len(t, current, 1)
	require.Len(t, history, 1)
	assert.Equal(t, current[0], history[0])
	assert.False(t, current[0].(domain.WalletScore).CalculatedAt.IsZero())
}
