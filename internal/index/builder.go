// Package index builds investable baskets of smart-money wallets: filter an
// eligible universe, pick the top performers, weight them under a per-trader
// cap, and persist the rebalanced constituents.
package index

import (
	"context"
	"sort"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// replicationUnsafe are strategies that earn through latency or inventory
// and cannot be copied with a delay. Always excluded from replicable indices.
var replicationUnsafe = []domain.StrategyType{
	domain.StrategyArbitrageur,
	domain.StrategyMarketMaker,
	domain.StrategyScalper,
}

// Config parameterizes one index.
type Config struct {
	IndexID         string
	NumConstituents int
	Weighting       WeightingPolicy

	MaxWeightPerTrader       float64
	MaxStrategyConcentration float64

	MinTotalScore float64
	MinTrades     uint64
	MinDaysActive uint64
	MinVolume     float64
	MinSharpe     float64

	// AllowedStrategies is a whitelist when non-empty; ExcludedStrategies is
	// always a blacklist. Replicable additionally excludes latency strategies.
	AllowedStrategies  []domain.StrategyType
	ExcludedStrategies []domain.StrategyType
	Replicable         bool

	// Sectoral indices: a candidate's combined volume fraction across
	// RequiredCategories must reach MinCategoryConcentration.
	RequiredCategories       []domain.MarketCategory
	MinCategoryConcentration float64
}

// DefaultConfigs are the shipped index definitions.
func DefaultConfigs() []Config {
	return []Config{
		{
			IndexID:                  "PSI-10",
			NumConstituents:          10,
			Weighting:                WeightScore,
			MaxWeightPerTrader:       0.20,
			MaxStrategyConcentration: 0.5,
			MinTotalScore:            60,
			MinTrades:                50,
			MinDaysActive:            14,
			MinVolume:                10_000,
			MinSharpe:                0.5,
			Replicable:               true,
		},
		{
			IndexID:                  "PSI-SHARPE-5",
			NumConstituents:          5,
			Weighting:                WeightSharpe,
			MaxWeightPerTrader:       0.35,
			MaxStrategyConcentration: 0.6,
			MinTotalScore:            55,
			MinTrades:                30,
			MinDaysActive:            21,
			MinVolume:                5_000,
			MinSharpe:                1.0,
			Replicable:               true,
		},
		{
			IndexID:                  "PSI-CRYPTO-10",
			NumConstituents:          10,
			Weighting:                WeightScore,
			MaxWeightPerTrader:       0.20,
			MaxStrategyConcentration: 0.5,
			MinTotalScore:            55,
			MinTrades:                30,
			MinDaysActive:            14,
			MinVolume:                5_000,
			MinSharpe:                0.0,
			Replicable:               true,
			RequiredCategories:       []domain.MarketCategory{domain.CategoryCrypto},
			MinCategoryConcentration: 0.5,
		},
	}
}

// candidate bundles everything known about one wallet at selection time.
type candidate struct {
	Score       domain.WalletScore
	Profile     domain.WalletProfile
	Sharpe      float64
	CategoryMix map[domain.MarketCategory]float64
}

// Universe is the candidate pool a build draws from.
type Universe struct {
	Scores   []domain.WalletScore
	Profiles map[string]domain.WalletProfile
	Sharpes  map[string]domain.WalletSharpe
	Mix      map[string]map[domain.MarketCategory]float64
}

// Build constructs one index from the universe. Pure: no I/O. An empty
// eligible set yields an index with zero constituents.
func Build(cfg Config, u Universe, now time.Time, log zerolog.Logger) domain.Index {
	candidates := eligible(cfg, u)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score.TotalScore > candidates[j].Score.TotalScore
	})
	if len(candidates) > cfg.NumConstituents {
		candidates = candidates[:cfg.NumConstituents]
	}

	weights := CapAndNormalize(rawWeights(cfg.Weighting, candidates), cfg.MaxWeightPerTrader)

	constituents := make([]domain.IndexConstituent, len(candidates))
	strategyCounts := map[domain.StrategyType]int{}
	for i, c := range candidates {
		constituents[i] = domain.IndexConstituent{
			WalletID:          c.Score.WalletID,
			Weight:            weights[i],
			ScoreAtInclusion:  c.Score.TotalScore,
			SharpeAtInclusion: c.Sharpe,
			StrategyType:      c.Score.StrategyType,
			AddedAt:           now,
		}
		strategyCounts[c.Score.StrategyType]++
	}

	if cfg.MaxStrategyConcentration > 0 {
		limit := cfg.MaxStrategyConcentration * float64(cfg.NumConstituents)
		for strategy, count := range strategyCounts {
			if float64(count) > limit {
				log.Warn().
					Str("index", cfg.IndexID).
					Str("strategy", string(strategy)).
					Int("count", count).
					Float64("limit", limit).
					Msg("Strategy concentration above limit")
			}
		}
	}

	return domain.Index{
		IndexID:        cfg.IndexID,
		Constituents:   constituents,
		CreatedAt:      now,
		LastRebalanced: now,
	}
}

func eligible(cfg Config, u Universe) []candidate {
	excluded := map[domain.StrategyType]bool{}
	for _, s := range cfg.ExcludedStrategies {
		excluded[s] = true
	}
	if cfg.Replicable {
		for _, s := range replicationUnsafe {
			excluded[s] = true
		}
	}
	allowed := map[domain.StrategyType]bool{}
	for _, s := range cfg.AllowedStrategies {
		allowed[s] = true
	}

	var out []candidate
	for _, score := range u.Scores {
		if score.TotalScore < cfg.MinTotalScore {
			continue
		}
		if excluded[score.StrategyType] {
			continue
		}
		if len(allowed) > 0 && !allowed[score.StrategyType] {
			continue
		}

		profile, ok := u.Profiles[score.WalletID]
		if !ok {
			continue
		}
		if profile.TotalTrades < cfg.MinTrades ||
			profile.DaysActive < cfg.MinDaysActive ||
			profile.TotalVolume < cfg.MinVolume {
			continue
		}

		sharpe := 0.0
		if s, ok := u.Sharpes[score.WalletID]; ok {
			sharpe = s.SharpeCapped
		}
		if sharpe < cfg.MinSharpe {
			continue
		}

		mix := u.Mix[score.WalletID]
		if len(cfg.RequiredCategories) > 0 {
			concentration := 0.0
			for _, cat := range cfg.RequiredCategories {
				concentration += mix[cat]
			}
			if concentration < cfg.MinCategoryConcentration {
				continue
			}
		}

		out = append(out, candidate{Score: score, Profile: profile, Sharpe: sharpe, CategoryMix: mix})
	}
	return out
}

// Diff reports constituent churn by wallet id between two rebalances.
func Diff(prev, next domain.Index) domain.RebalanceDiff {
	prevSet := map[string]bool{}
	for _, c := range prev.Constituents {
		prevSet[c.WalletID] = true
	}
	nextSet := map[string]bool{}
	for _, c := range next.Constituents {
		nextSet[c.WalletID] = true
	}

	var diff domain.RebalanceDiff
	for _, c := range next.Constituents {
		if !prevSet[c.WalletID] {
			diff.Added = append(diff.Added, c.WalletID)
		}
	}
	for _, c := range prev.Constituents {
		if !nextSet[c.WalletID] {
			diff.Removed = append(diff.Removed, c.WalletID)
		}
	}
	return diff
}

// constituentRow is the persisted shape of one constituent at one rebalance.
// CreatedAt and CumulativeReturn are index-level values repeated on every
// row of the rebalance.
type constituentRow struct {
	IndexID           string              `ch:"index_id"`
	WalletID          string              `ch:"wallet_id"`
	Weight            float64             `ch:"weight"`
	ScoreAtInclusion  float64             `ch:"score_at_inclusion"`
	SharpeAtInclusion float64             `ch:"sharpe_at_inclusion"`
	StrategyType      domain.StrategyType `ch:"strategy_type"`
	RebalancedAt      time.Time           `ch:"rebalanced_at"`
	CreatedAt         time.Time           `ch:"created_at"`
	CumulativeReturn  float64             `ch:"cumulative_return"`
}

// Builder rebalances the configured indices against the latest scores.
type Builder struct {
	store   store.Store
	configs []Config
	log     zerolog.Logger
	now     func() time.Time
}

// NewBuilder creates an index builder with the given configurations.
func NewBuilder(s store.Store, configs []Config, log zerolog.Logger) *Builder {
	return &Builder{
		store:   s,
		configs: configs,
		log:     log.With().Str("component", "index").Logger(),
		now:     time.Now,
	}
}

// previous loads the constituents of the most recent rebalance of indexID.
func (b *Builder) previous(ctx context.Context, indexID string) (domain.Index, error) {
	var rows []constituentRow
	err := b.store.Select(ctx, &rows, `
		SELECT index_id, wallet_id, weight, score_at_inclusion,
		       sharpe_at_inclusion, strategy_type, rebalanced_at,
		       created_at, cumulative_return
		FROM psi_index
		WHERE index_id = @index_id
		  AND rebalanced_at = (
			SELECT max(rebalanced_at) FROM psi_index WHERE index_id = @index_id
		  )`,
		store.Named("index_id", indexID))
	if err != nil {
		return domain.Index{}, err
	}

	prev := domain.Index{IndexID: indexID}
	for _, r := range rows {
		prev.Constituents = append(prev.Constituents, domain.IndexConstituent{
			WalletID:          r.WalletID,
			Weight:            r.Weight,
			ScoreAtInclusion:  r.ScoreAtInclusion,
			SharpeAtInclusion: r.SharpeAtInclusion,
			StrategyType:      r.StrategyType,
			AddedAt:           r.RebalancedAt,
		})
		prev.LastRebalanced = r.RebalancedAt
		prev.CreatedAt = r.CreatedAt
		prev.CumulativeReturn = r.CumulativeReturn
	}
	return prev, nil
}

// periodReturn measures the index return since the previous rebalance: each
// held constituent's realized P&L over its settled cost basis in the period,
// combined under the weights the index actually held.
func (b *Builder) periodReturn(ctx context.Context, prev domain.Index, until time.Time) (float64, error) {
	wallets := make([]string, len(prev.Constituents))
	for i, c := range prev.Constituents {
		wallets[i] = c.WalletID
	}

	var rows []struct {
		WalletID string  `ch:"wallet_id"`
		PnL      float64 `ch:"pnl"`
		Basis    float64 `ch:"basis"`
	}
	err := b.store.Select(ctx, &rows, `
		SELECT
			wallet_id,
			sum(realized_pnl) AS pnl,
			sum(abs(net_cost)) AS basis
		FROM position_pnl FINAL
		WHERE wallet_id IN (@wallets)
		  AND resolved_at > @since AND resolved_at <= @until
		GROUP BY wallet_id`,
		store.Named("wallets", wallets),
		store.Named("since", prev.LastRebalanced.UTC()),
		store.Named("until", until))
	if err != nil {
		return 0, err
	}

	returns := make(map[string]float64, len(rows))
	for _, r := range rows {
		if r.Basis > 0 {
			returns[r.WalletID] = r.PnL / r.Basis
		}
	}

	total := 0.0
	for _, c := range prev.Constituents {
		total += c.Weight * returns[c.WalletID]
	}
	return total, nil
}

// Rebalance rebuilds every configured index and appends the new constituent
// rows. Per-index failures are logged and skipped.
func (b *Builder) Rebalance(ctx context.Context, u Universe) ([]domain.Index, error) {
	now := b.now().UTC()
	var out []domain.Index

	for _, cfg := range b.configs {
		prev, err := b.previous(ctx, cfg.IndexID)
		if err != nil {
			b.log.Error().Err(err).Str("index", cfg.IndexID).Msg("Skipping index, previous state unavailable")
			continue
		}

		idx := Build(cfg, u, now, b.log)
		diff := Diff(prev, idx)

		// created_at is fixed at the first build; every later rebalance
		// carries it forward. The cumulative return compounds the period
		// return earned by the previously held constituents.
		if !prev.CreatedAt.IsZero() {
			idx.CreatedAt = prev.CreatedAt
		}
		idx.CumulativeReturn = prev.CumulativeReturn
		if len(prev.Constituents) > 0 {
			period, err := b.periodReturn(ctx, prev, now)
			if err != nil {
				b.log.Warn().Err(err).Str("index", cfg.IndexID).Msg("Period return unavailable, carrying cumulative return forward")
			} else {
				idx.CumulativeReturn = (1+prev.CumulativeReturn)*(1+period) - 1
			}
		}

		rows := make([]constituentRow, len(idx.Constituents))
		for i, c := range idx.Constituents {
			rows[i] = constituentRow{
				IndexID:           idx.IndexID,
				WalletID:          c.WalletID,
				Weight:            c.Weight,
				ScoreAtInclusion:  c.ScoreAtInclusion,
				SharpeAtInclusion: c.SharpeAtInclusion,
				StrategyType:      c.StrategyType,
				RebalancedAt:      now,
				CreatedAt:         idx.CreatedAt,
				CumulativeReturn:  idx.CumulativeReturn,
			}
		}
		if err := b.store.InsertBatch(ctx, "psi_index", rows); err != nil {
			b.log.Error().Err(err).Str("index", cfg.IndexID).Msg("Failed to persist rebalance")
			continue
		}

		b.log.Info().
			Str("index", cfg.IndexID).
			Int("constituents", len(idx.Constituents)).
			Strs("added", diff.Added).
			Strs("removed", diff.Removed).
			Msg("Index rebalanced")
		out = append(out, idx)
	}
	return out, nil
}
