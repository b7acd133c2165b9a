// Package scoring turns wallet profiles into composite smart-money scores.
// The composite is a weighted sum of four subscores with strategy-dependent
// adjustments; tiers and ranks are assigned within the scored batch.
package scoring

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// ModelVersion tags every score row with the scoring model that produced it.
const ModelVersion = "v1"

// Scorer computes one scoring batch over all profiled wallets.
type Scorer struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewScorer creates a scorer.
func NewScorer(s store.Store, log zerolog.Logger) *Scorer {
	return &Scorer{
		store: s,
		log:   log.With().Str("component", "scoring").Logger(),
		now:   time.Now,
	}
}

// Score computes one wallet's score from its profile, against the cohort's
// P&L distribution. Pure function of its inputs.
func Score(p domain.WalletProfile, cohortPnL []float64) domain.WalletScore {
	profitability := Profitability(p.TotalPnL, cohortPnL)
	riskAdjusted := RiskAdjusted(p.AvgTradeSize, p.UniqueMarkets)
	consistency := Consistency(p.DaysActive, p.TotalTrades, p.BuyCount, p.SellCount)
	trackRecord := TrackRecord(p.DaysActive, p.TotalVolume, p.UniqueMarkets)

	strategy, confidence := Classify(Indicators{
		CompleteSetRatio: p.CompleteSetRatio,
		DirectionBias:    p.DirectionBias,
		TotalTrades:      p.TotalTrades,
		UniqueMarkets:    p.UniqueMarkets,
		BuyCount:         p.BuyCount,
		SellCount:        p.SellCount,
	})

	// Strategy adjustments reshape the subscores before the weighted sum.
	switch strategy {
	case domain.StrategyArbitrageur:
		if consistency < 70 {
			consistency *= 0.8
		} else {
			consistency = math.Min(consistency*1.1, 100)
		}
	case domain.StrategyDirectionalMomentum:
		if profitability > 60 {
			profitability = math.Min(profitability*1.1, 100)
		}
	}

	total := weightProfitability*profitability +
		weightRiskAdjusted*riskAdjusted +
		weightConsistency*consistency +
		weightTrackRecord*trackRecord

	return domain.WalletScore{
		WalletID:           p.WalletID,
		TotalScore:         total,
		Tier:               domain.TierForScore(total),
		Profitability:      profitability,
		RiskAdjusted:       riskAdjusted,
		Consistency:        consistency,
		TrackRecord:        trackRecord,
		StrategyType:       strategy,
		StrategyConfidence: confidence,
		ModelVersion:       ModelVersion,
	}
}

// Rank orders scores descending and assigns 1-based ranks in place.
func Rank(scores []domain.WalletScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].TotalScore > scores[j].TotalScore
	})
	for i := range scores {
		scores[i].Rank = uint32(i + 1)
	}
}

// Run scores every profiled wallet and persists the batch to the scores table
// and its history. The batch fully replaces the previous scores per wallet.
func (s *Scorer) Run(ctx context.Context) ([]domain.WalletScore, error) {
	var profiles []domain.WalletProfile
	if err := s.store.Select(ctx, &profiles, `SELECT * FROM trader_profiles FINAL`); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		s.log.Info().Msg("No profiles to score")
		return nil, nil
	}

	cohortPnL := make([]float64, len(profiles))
	for i, p := range profiles {
		cohortPnL[i] = p.TotalPnL
	}

	now := s.now().UTC()
	scores := make([]domain.WalletScore, 0, len(profiles))
	for _, p := range profiles {
		score := Score(p, cohortPnL)
		score.CalculatedAt = now
		scores = append(scores, score)
	}
	Rank(scores)

	if err := s.store.InsertBatch(ctx, "smart_money_scores", scores); err != nil {
		return nil, err
	}
	if err := s.store.InsertBatch(ctx, "smart_money_scores_history", scores); err != nil {
		return nil, err
	}

	s.log.Info().Int("wallets", len(scores)).Str("model", ModelVersion).Msg("Scoring batch complete")
	return scores, nil
}
