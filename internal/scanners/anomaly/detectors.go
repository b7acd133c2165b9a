package anomaly

import (
	"context"
	"fmt"
	"math"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
)

// scanWinRate flags wallets winning implausibly often over a meaningful
// sample. Severity escalates with the rate.
func (s *Scanner) scanWinRate(ctx context.Context) ([]domain.Alert, error) {
	var rows []struct {
		WalletID string  `ch:"wallet_id"`
		Settled  uint64  `ch:"settled"`
		WinRate  float64 `ch:"win_rate"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT
			wallet_id,
			count() AS settled,
			countIf(realized_pnl > 0) / count() AS win_rate
		FROM position_pnl FINAL
		GROUP BY wallet_id
		HAVING settled >= @min_trades AND win_rate > @floor`,
		store.Named("min_trades", s.cfg.WinRateMinTrades),
		store.Named("floor", s.cfg.WinRateFloor))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		severity := domain.SeverityMedium
		switch {
		case r.WinRate > 0.98:
			severity = domain.SeverityCritical
		case r.WinRate > 0.95:
			severity = domain.SeverityHigh
		}
		alerts = append(alerts, domain.NewAlert(domain.AlertWinRateAnomaly, severity,
			"Implausible win rate",
			fmt.Sprintf("Wallet %s won %.1f%% of %d settled positions", r.WalletID, r.WinRate*100, r.Settled),
			r.WalletID, "",
			&domain.AnomalyPayload{
				Pattern:    "win_rate",
				Confidence: math.Min(1, (r.WinRate-s.cfg.WinRateFloor)/(1-s.cfg.WinRateFloor)),
				Measurement: map[string]float64{
					"win_rate": r.WinRate,
					"settled":  float64(r.Settled),
				},
			}))
	}
	return alerts, nil
}

// scanTiming flags metronomic sub-5-second trade spacing, a bot signature.
func (s *Scanner) scanTiming(ctx context.Context) ([]domain.Alert, error) {
	var rows []struct {
		WalletID string  `ch:"wallet_id"`
		Trades   uint64  `ch:"trades"`
		MeanGapS float64 `ch:"mean_gap_s"`
		GapCV    float64 `ch:"gap_cv"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT wallet_id, trades, mean_gap_s, gap_cv
		FROM (
			SELECT
				wallet_id,
				count() AS trades,
				arrayPopFront(arrayDifference(groupArray(toUnixTimestamp(ts)))) AS gaps,
				if(length(gaps) > 0, arrayAvg(gaps), 0) AS mean_gap_s,
				if(length(gaps) > 0 AND arrayAvg(gaps) > 0,
					arrayReduce('stddevPop', gaps) / arrayAvg(gaps), 1e9) AS gap_cv
			FROM (SELECT wallet_id, ts FROM trades ORDER BY wallet_id, ts)
			GROUP BY wallet_id
		)
		WHERE trades >= @min_trades
		  AND gap_cv < @max_cv
		  AND mean_gap_s > 0 AND mean_gap_s < @max_gap`,
		store.Named("min_trades", s.cfg.TimingMinTrades),
		store.Named("max_cv", s.cfg.TimingMaxCV),
		store.Named("max_gap", s.cfg.TimingMaxMeanGapS))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, domain.NewAlert(domain.AlertTimingPattern, domain.SeverityMedium,
			"Bot-like trade timing",
			fmt.Sprintf("Wallet %s trades every %.1fs with cv %.3f over %d trades", r.WalletID, r.MeanGapS, r.GapCV, r.Trades),
			r.WalletID, "",
			&domain.AnomalyPayload{
				Pattern:    "timing",
				Confidence: math.Min(1, 1-r.GapCV/s.cfg.TimingMaxCV),
				Measurement: map[string]float64{
					"mean_gap_s": r.MeanGapS,
					"gap_cv":     r.GapCV,
				},
			}))
	}
	return alerts, nil
}

// scanWash flags heavy traders whose entire volume sits in a single market.
func (s *Scanner) scanWash(ctx context.Context) ([]domain.Alert, error) {
	var rows []struct {
		WalletID string  `ch:"wallet_id"`
		Trades   uint64  `ch:"trades"`
		Market   string  `ch:"market_slug"`
		Volume   float64 `ch:"volume"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT
			wallet_id,
			count() AS trades,
			any(market_slug) AS market_slug,
			sum(notional) AS volume
		FROM trades
		GROUP BY wallet_id
		HAVING trades >= @min_trades AND uniqExact(condition_id) = 1`,
		store.Named("min_trades", s.cfg.WashMinTrades))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, domain.NewAlert(domain.AlertVolumeWash, domain.SeverityHigh,
			"Single-market volume concentration",
			fmt.Sprintf("Wallet %s placed all %d trades ($%.0f) in %s", r.WalletID, r.Trades, r.Volume, r.Market),
			r.WalletID, r.Market,
			&domain.AnomalyPayload{
				Pattern:    "volume_concentration",
				Confidence: 0.9,
				Volume:     r.Volume,
				Measurement: map[string]float64{
					"trades": float64(r.Trades),
				},
			}))
	}
	return alerts, nil
}

// scanSharpe flags trade-level Sharpe ratios no honest strategy produces.
func (s *Scanner) scanSharpe(ctx context.Context) ([]domain.Alert, error) {
	var rows []struct {
		WalletID string  `ch:"wallet_id"`
		Settled  uint64  `ch:"settled"`
		Sharpe   float64 `ch:"trade_sharpe"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT
			wallet_id,
			count() AS settled,
			avg(realized_pnl) / stddevPop(realized_pnl) AS trade_sharpe
		FROM position_pnl FINAL
		GROUP BY wallet_id
		HAVING settled >= @min_trades
		   AND stddevPop(realized_pnl) > 0
		   AND trade_sharpe > @ceiling`,
		store.Named("min_trades", s.cfg.SharpeMinTrades),
		store.Named("ceiling", s.cfg.SharpeCeiling))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, domain.NewAlert(domain.AlertImpossibleSharpe, domain.SeverityHigh,
			"Impossible trade-level Sharpe",
			fmt.Sprintf("Wallet %s shows trade-level Sharpe %.2f over %d positions", r.WalletID, r.Sharpe, r.Settled),
			r.WalletID, "",
			&domain.AnomalyPayload{
				Pattern:    "impossible_sharpe",
				Confidence: math.Min(1, r.Sharpe/(2*s.cfg.SharpeCeiling)),
				Measurement: map[string]float64{
					"trade_sharpe": r.Sharpe,
					"settled":      float64(r.Settled),
				},
			}))
	}
	return alerts, nil
}

// scanStreak flags runs of consecutive winning positions too long for chance.
func (s *Scanner) scanStreak(ctx context.Context) ([]domain.Alert, error) {
	var rows []struct {
		WalletID string `ch:"wallet_id"`
		Streak   uint64 `ch:"streak"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT wallet_id, streak
		FROM (
			SELECT
				wallet_id,
				groupArray(realized_pnl > 0) AS outcomes,
				arrayMax(arrayMap(r -> if(r[1], length(r), 0),
					arraySplit((x, y) -> x != y, outcomes,
						arrayPushFront(arrayPopBack(outcomes), outcomes[1])))) AS streak
			FROM (
				SELECT wallet_id, realized_pnl
				FROM position_pnl FINAL
				ORDER BY wallet_id, resolved_at
			)
			GROUP BY wallet_id
		)
		WHERE streak > @ceiling`,
		store.Named("ceiling", s.cfg.StreakCeiling))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, domain.NewAlert(domain.AlertWinStreak, domain.SeverityMedium,
			"Extended winning streak",
			fmt.Sprintf("Wallet %s won %d consecutive positions", r.WalletID, r.Streak),
			r.WalletID, "",
			&domain.AnomalyPayload{
				Pattern:    "win_streak",
				Confidence: math.Min(1, float64(r.Streak)/(2*float64(s.cfg.StreakCeiling))),
				Measurement: map[string]float64{
					"streak": float64(r.Streak),
				},
			}))
	}
	return alerts, nil
}
