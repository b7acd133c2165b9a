// Package gems surfaces strong wallets that the headline rankings bury.
// A hidden gem scores well and trades profitably but moves too little
// volume to show up in the top of the leaderboard.
package gems

import (
	"context"
	"fmt"
	"sort"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// Config holds the gem thresholds.
type Config struct {
	MinScore   float64 // composite score floor
	MinRank    uint32  // only wallets ranked below this are "hidden"
	MinSharpe  float64 // capped sharpe floor
	MaxVolume  float64 // USD ceiling, above this the wallet is already visible
	MinDays    int     // days active floor
	MinWinRate float64
}

// DefaultConfig returns the production gem thresholds.
func DefaultConfig() Config {
	return Config{
		MinScore:   70,
		MinRank:    20,
		MinSharpe:  2.0,
		MaxVolume:  50_000,
		MinDays:    14,
		MinWinRate: 0.6,
	}
}

// Scanner cross-references scores, profiles and realized outcomes.
type Scanner struct {
	store store.Store
	cfg   Config
	log   zerolog.Logger
}

func New(s store.Store, cfg Config, log zerolog.Logger) *Scanner {
	return &Scanner{
		store: s,
		cfg:   cfg,
		log:   log.With().Str("component", "gems-scanner").Logger(),
	}
}

// winRates loads realized win rates for the given wallets.
func (s *Scanner) winRates(ctx context.Context, wallets []string) (map[string]float64, error) {
	if len(wallets) == 0 {
		return map[string]float64{}, nil
	}
	var rows []struct {
		WalletID string  `ch:"wallet_id"`
		WinRate  float64 `ch:"win_rate"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT wallet_id, win_rate
		FROM trader_pnl
		WHERE wallet_id IN (@wallets)`,
		store.Named("wallets", wallets))
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.WalletID] = r.WinRate
	}
	return out, nil
}

// Scan picks hidden gems out of the current scoring batch. Scores, profiles
// and sharpes come from the in-flight cycle rather than the store so the scan
// sees exactly what was just computed.
func (s *Scanner) Scan(
	ctx context.Context,
	scores []domain.WalletScore,
	profiles map[string]domain.WalletProfile,
	sharpes map[string]domain.WalletSharpe,
) ([]domain.Alert, error) {
	var candidates []domain.WalletScore
	for _, score := range scores {
		if score.TotalScore < s.cfg.MinScore || score.Rank <= s.cfg.MinRank {
			continue
		}
		sharpe, ok := sharpes[score.WalletID]
		if !ok || sharpe.SharpeCapped < s.cfg.MinSharpe {
			continue
		}
		profile, ok := profiles[score.WalletID]
		if !ok || profile.TotalVolume > s.cfg.MaxVolume || int(profile.DaysActive) < s.cfg.MinDays {
			continue
		}
		candidates = append(candidates, score)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	wallets := make([]string, len(candidates))
	for i, c := range candidates {
		wallets[i] = c.WalletID
	}
	rates, err := s.winRates(ctx, wallets)
	if err != nil {
		return nil, err
	}

	var alerts []domain.Alert
	for _, score := range candidates {
		rate, ok := rates[score.WalletID]
		if !ok || rate < s.cfg.MinWinRate {
			continue
		}
		profile := profiles[score.WalletID]
		sharpe := sharpes[score.WalletID]
		alerts = append(alerts, domain.NewAlert(
			domain.AlertHiddenGem,
			domain.SeverityLow,
			fmt.Sprintf("Hidden gem %s", score.WalletID),
			fmt.Sprintf("rank %d, score %.1f, sharpe %.2f, %.0f%% win rate on $%.0f volume",
				score.Rank, score.TotalScore, sharpe.SharpeCapped, rate*100, profile.TotalVolume),
			score.WalletID, "",
			&domain.GemPayload{
				Score:      score.TotalScore,
				Sharpe:     sharpe.SharpeCapped,
				WinRate:    rate,
				DaysActive: int(profile.DaysActive),
			}))
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].WalletID < alerts[j].WalletID })

	s.log.Info().Int("candidates", len(candidates)).Int("gems", len(alerts)).Msg("Gem scan complete")
	return alerts, nil
}
