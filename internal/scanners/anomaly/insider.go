package anomaly

import (
	"context"
	"fmt"
	"math"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// scanInsider fans out the six insider subtypes concurrently and merges their
// alerts. Every subtype excludes short-horizon price markets both in SQL and
// again on the returned rows.
func (s *Scanner) scanInsider(ctx context.Context) ([]domain.Alert, error) {
	subtypes := []detector{
		{"new_account_whale", s.scanNewAccountWhale},
		{"volume_spike", s.scanVolumeSpike},
		{"smart_money_divergence", s.scanDivergence},
		{"whale_anomaly", s.scanWhaleAnomaly},
		{"coordinated_entry", s.scanCoordinatedEntry},
		{"late_entry_conviction", s.scanLateConviction},
	}

	results := make(chan []domain.Alert, len(subtypes))
	for _, d := range subtypes {
		go func(d detector, log zerolog.Logger) {
			found, err := d.run(ctx)
			if err != nil {
				log.Error().Err(err).Str("subtype", d.name).Msg("Insider subtype failed")
				results <- nil
				return
			}
			results <- found
		}(d, s.log)
	}

	var alerts []domain.Alert
	for range subtypes {
		alerts = append(alerts, <-results...)
	}
	return alerts, nil
}

// keep drops alerts whose market slipped past the SQL exclusion.
func (s *Scanner) keep(alerts []domain.Alert) []domain.Alert {
	out := alerts[:0]
	for _, a := range alerts {
		if a.MarketID != "" && s.cfg.Excluded(a.MarketID) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// scanNewAccountWhale flags accounts created days ago placing concentrated
// five-figure bets.
func (s *Scanner) scanNewAccountWhale(ctx context.Context) ([]domain.Alert, error) {
	var rows []struct {
		WalletID      string  `ch:"wallet_id"`
		Market        string  `ch:"market_slug"`
		MaxBet        float64 `ch:"max_bet"`
		Concentration float64 `ch:"concentration"`
		AgeHours      float64 `ch:"age_hours"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT
			wallet_id,
			argMax(market_slug, market_volume) AS market_slug,
			max(market_volume) AS max_bet,
			max(market_volume) / sum(market_volume) AS concentration,
			dateDiff('hour', min(first_ts), now()) AS age_hours
		FROM (
			SELECT
				wallet_id,
				market_slug,
				sum(notional) AS market_volume,
				min(ts) AS first_ts
			FROM trades
			WHERE `+s.cfg.notExcluded("market_slug")+`
			GROUP BY wallet_id, market_slug
		)
		GROUP BY wallet_id
		HAVING age_hours <= @max_age_hours
		   AND max_bet >= @bet_floor
		   AND concentration >= @concentration_floor`,
		store.Named("max_age_hours", s.cfg.NewAccountMaxAge.Hours()),
		store.Named("bet_floor", s.cfg.WhaleBetFloor),
		store.Named("concentration_floor", s.cfg.ConcentrationFloor))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, domain.NewAlert(domain.AlertNewAccountWhale, domain.SeverityHigh,
			"New account placing whale bets",
			fmt.Sprintf("Wallet %s (%.0fh old) bet $%.0f on %s at %.0f%% concentration",
				r.WalletID, r.AgeHours, r.MaxBet, r.Market, r.Concentration*100),
			r.WalletID, r.Market,
			&domain.AnomalyPayload{
				Pattern:    "new_account_whale",
				Confidence: math.Min(1, r.Concentration),
				Volume:     r.MaxBet,
				Measurement: map[string]float64{
					"age_hours":     r.AgeHours,
					"concentration": r.Concentration,
				},
			}))
	}
	return s.keep(alerts), nil
}

// scanVolumeSpike flags markets whose recent volume runs an order of
// magnitude above their daily baseline with a one-sided flow. Baseline is
// the 30 days preceding the lookback, divided by 30.
func (s *Scanner) scanVolumeSpike(ctx context.Context) ([]domain.Alert, error) {
	lookbackHours := s.cfg.Lookback.Hours()

	var rows []struct {
		Market      string  `ch:"market_slug"`
		RecentDaily float64 `ch:"recent_daily"`
		Baseline    float64 `ch:"baseline_daily"`
		Imbalance   float64 `ch:"imbalance"`
		Direction   string  `ch:"direction"`
		Volume      float64 `ch:"recent_volume"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT
			r.market_slug AS market_slug,
			r.volume / (@lookback_hours / 24) AS recent_daily,
			h.volume / 30 AS baseline_daily,
			greatest(r.yes_volume, r.volume - r.yes_volume) / r.volume AS imbalance,
			if(r.yes_volume * 2 >= r.volume, 'YES', 'NO') AS direction,
			r.volume AS recent_volume
		FROM (
			SELECT
				market_slug,
				sum(notional) AS volume,
				sumIf(notional, (side = 'BUY' AND outcome_index = 0)
					OR (side = 'SELL' AND outcome_index = 1)) AS yes_volume
			FROM trades
			WHERE ts >= now() - INTERVAL @lookback_hours HOUR
			  AND `+s.cfg.notExcluded("market_slug")+`
			GROUP BY market_slug
			HAVING volume > 0
		) AS r
		INNER JOIN (
			SELECT market_slug, sum(notional) AS volume
			FROM trades
			WHERE ts >= now() - INTERVAL 30 DAY
			  AND ts < now() - INTERVAL @lookback_hours HOUR
			GROUP BY market_slug
			HAVING volume > 0
		) AS h ON h.market_slug = r.market_slug
		WHERE recent_daily >= baseline_daily * @multiple
		  AND imbalance >= @imbalance_floor`,
		store.Named("lookback_hours", lookbackHours),
		store.Named("multiple", s.cfg.SpikeMultiple),
		store.Named("imbalance_floor", s.cfg.SpikeImbalanceFloor))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		multiple := 0.0
		if r.Baseline > 0 {
			multiple = r.RecentDaily / r.Baseline
		}
		alerts = append(alerts, domain.NewAlert(domain.AlertVolumeSpike, domain.SeverityHigh,
			"Directional volume spike",
			fmt.Sprintf("Market %s running %.1fx its daily baseline, %.0f%% %s",
				r.Market, multiple, r.Imbalance*100, r.Direction),
			"", r.Market,
			&domain.AnomalyPayload{
				Pattern:    "volume_spike",
				Confidence: math.Min(1, r.Imbalance),
				Direction:  r.Direction,
				Volume:     r.Volume,
				Measurement: map[string]float64{
					"multiple":  multiple,
					"imbalance": r.Imbalance,
				},
			}))
	}
	return s.keep(alerts), nil
}

// scanDivergence flags markets where several top-ranked wallets just bet
// against the week's smart-money consensus.
func (s *Scanner) scanDivergence(ctx context.Context) ([]domain.Alert, error) {
	var rows []struct {
		Market     string  `ch:"market_slug"`
		Consensus  string  `ch:"consensus_direction"`
		Dissenters uint64  `ch:"dissenters"`
		Volume     float64 `ch:"dissent_volume"`
	}
	err := s.store.Select(ctx, &rows, `
		WITH week AS (
			SELECT
				market_slug,
				if(sumIf(notional, (side = 'BUY' AND outcome_index = 0)
					OR (side = 'SELL' AND outcome_index = 1)) * 2 >= sum(notional),
					'YES', 'NO') AS consensus_direction
			FROM trades
			WHERE ts >= now() - INTERVAL 7 DAY
			  AND `+s.cfg.notExcluded("market_slug")+`
			GROUP BY market_slug
		)
		SELECT
			d.market_slug AS market_slug,
			any(w.consensus_direction) AS consensus_direction,
			uniqExact(d.wallet_id) AS dissenters,
			sum(d.notional) AS dissent_volume
		FROM (
			SELECT
				t.market_slug AS market_slug,
				t.wallet_id AS wallet_id,
				t.notional AS notional,
				if((t.side = 'BUY' AND t.outcome_index = 0)
					OR (t.side = 'SELL' AND t.outcome_index = 1), 'YES', 'NO') AS direction
			FROM trades AS t
			INNER JOIN smart_money_scores AS s FINAL ON s.wallet_id = t.wallet_id
			WHERE t.ts >= now() - INTERVAL @lookback_hours HOUR
			  AND s.rank <= 100
		) AS d
		INNER JOIN week AS w ON w.market_slug = d.market_slug
		WHERE d.direction != w.consensus_direction
		GROUP BY d.market_slug
		HAVING dissenters >= @min_wallets`,
		store.Named("lookback_hours", s.cfg.Lookback.Hours()),
		store.Named("min_wallets", s.cfg.DivergenceMinWallets))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		against := "YES"
		if r.Consensus == "YES" {
			against = "NO"
		}
		alerts = append(alerts, domain.NewAlert(domain.AlertSmartDivergence, domain.SeverityHigh,
			"Top wallets diverging from consensus",
			fmt.Sprintf("%d top-100 wallets bet %s against the weekly %s consensus on %s",
				r.Dissenters, against, r.Consensus, r.Market),
			"", r.Market,
			&domain.AnomalyPayload{
				Pattern:    "smart_money_divergence",
				Confidence: math.Min(1, float64(r.Dissenters)/10),
				Direction:  against,
				Volume:     r.Volume,
				Measurement: map[string]float64{
					"dissenters": float64(r.Dissenters),
				},
			}))
	}
	return s.keep(alerts), nil
}

// scanWhaleAnomaly flags known large wallets making a first-ever entry into a
// market with a five-figure bet.
func (s *Scanner) scanWhaleAnomaly(ctx context.Context) ([]domain.Alert, error) {
	var rows []struct {
		WalletID string  `ch:"wallet_id"`
		Market   string  `ch:"market_slug"`
		Bet      float64 `ch:"bet"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT
			t.wallet_id AS wallet_id,
			t.market_slug AS market_slug,
			sum(t.notional) AS bet
		FROM trades AS t
		INNER JOIN (
			SELECT wallet_id FROM trader_profiles FINAL WHERE total_volume >= 100000
		) AS w ON w.wallet_id = t.wallet_id
		INNER JOIN (
			SELECT wallet_id, market_slug, min(ts) AS first_ts
			FROM trades
			GROUP BY wallet_id, market_slug
		) AS f ON f.wallet_id = t.wallet_id AND f.market_slug = t.market_slug
		WHERE t.ts >= now() - INTERVAL @lookback_hours HOUR
		  AND `+s.cfg.notExcluded("t.market_slug")+`
		GROUP BY t.wallet_id, t.market_slug
		HAVING bet >= @bet_floor
		   AND any(f.first_ts) >= now() - INTERVAL @lookback_hours HOUR`,
		store.Named("lookback_hours", s.cfg.Lookback.Hours()),
		store.Named("bet_floor", s.cfg.WhaleBetFloor))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, domain.NewAlert(domain.AlertWhaleAnomaly, domain.SeverityMedium,
			"Whale first entry",
			fmt.Sprintf("High-volume wallet %s entered %s for the first time with $%.0f", r.WalletID, r.Market, r.Bet),
			r.WalletID, r.Market,
			&domain.AnomalyPayload{
				Pattern:    "whale_anomaly",
				Confidence: math.Min(1, r.Bet/(10*s.cfg.WhaleBetFloor)),
				Volume:     r.Bet,
			}))
	}
	return s.keep(alerts), nil
}

// scanCoordinatedEntry flags several wallets taking the same side of the same
// market inside a short window with meaningful combined size.
func (s *Scanner) scanCoordinatedEntry(ctx context.Context) ([]domain.Alert, error) {
	windowMinutes := int(s.cfg.CoordinationWindow.Minutes())

	var rows []struct {
		Market    string  `ch:"market_slug"`
		Direction string  `ch:"direction"`
		Wallets   uint64  `ch:"wallets"`
		Volume    float64 `ch:"volume"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT
			market_slug,
			direction,
			uniqExact(wallet_id) AS wallets,
			sum(notional) AS volume
		FROM (
			SELECT
				market_slug,
				wallet_id,
				notional,
				if((side = 'BUY' AND outcome_index = 0)
					OR (side = 'SELL' AND outcome_index = 1), 'YES', 'NO') AS direction,
				toStartOfInterval(ts, INTERVAL @window_minutes MINUTE) AS bucket
			FROM trades
			WHERE ts >= now() - INTERVAL @lookback_hours HOUR
			  AND `+s.cfg.notExcluded("market_slug")+`
		)
		GROUP BY market_slug, direction, bucket
		HAVING wallets >= @min_wallets AND volume >= @min_volume`,
		store.Named("window_minutes", windowMinutes),
		store.Named("lookback_hours", s.cfg.Lookback.Hours()),
		store.Named("min_wallets", s.cfg.CoordinationMinWallets),
		store.Named("min_volume", s.cfg.CoordinationMinVolume))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, domain.NewAlert(domain.AlertCoordinatedEntry, domain.SeverityHigh,
			"Coordinated market entry",
			fmt.Sprintf("%d wallets entered %s on %s within %dm for $%.0f combined",
				r.Wallets, r.Direction, r.Market, windowMinutes, r.Volume),
			"", r.Market,
			&domain.AnomalyPayload{
				Pattern:    "coordinated_entry",
				Confidence: math.Min(1, float64(r.Wallets)/10),
				Direction:  r.Direction,
				Volume:     r.Volume,
				Measurement: map[string]float64{
					"wallets": float64(r.Wallets),
				},
			}))
	}
	return s.keep(alerts), nil
}

// scanLateConviction flags five-figure bets that are either a wallet's first
// touch of a market or far above its historical size there.
func (s *Scanner) scanLateConviction(ctx context.Context) ([]domain.Alert, error) {
	var rows []struct {
		WalletID   string  `ch:"wallet_id"`
		Market     string  `ch:"market_slug"`
		Bet        float64 `ch:"bet"`
		Historical float64 `ch:"historical"`
	}
	err := s.store.Select(ctx, &rows, `
		SELECT
			r.wallet_id AS wallet_id,
			r.market_slug AS market_slug,
			r.bet AS bet,
			coalesce(h.volume, 0) AS historical
		FROM (
			SELECT wallet_id, market_slug, sum(notional) AS bet
			FROM trades
			WHERE ts >= now() - INTERVAL @lookback_hours HOUR
			  AND `+s.cfg.notExcluded("market_slug")+`
			GROUP BY wallet_id, market_slug
			HAVING bet >= @bet_floor
		) AS r
		LEFT JOIN (
			SELECT wallet_id, market_slug, sum(notional) AS volume
			FROM trades
			WHERE ts < now() - INTERVAL @lookback_hours HOUR
			GROUP BY wallet_id, market_slug
		) AS h ON h.wallet_id = r.wallet_id AND h.market_slug = r.market_slug
		WHERE historical = 0 OR bet >= historical * 2`,
		store.Named("lookback_hours", s.cfg.Lookback.Hours()),
		store.Named("bet_floor", s.cfg.ConvictionBetFloor))
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		reason := "first entry"
		if r.Historical > 0 {
			reason = fmt.Sprintf("%.1fx historical size", r.Bet/r.Historical)
		}
		alerts = append(alerts, domain.NewAlert(domain.AlertLateConviction, domain.SeverityMedium,
			"Late-entry conviction bet",
			fmt.Sprintf("Wallet %s bet $%.0f on %s (%s)", r.WalletID, r.Bet, r.Market, reason),
			r.WalletID, r.Market,
			&domain.AnomalyPayload{
				Pattern:    "late_entry_conviction",
				Confidence: math.Min(1, r.Bet/(5*s.cfg.ConvictionBetFloor)),
				Volume:     r.Bet,
				Measurement: map[string]float64{
					"historical": r.Historical,
				},
			}))
	}
	return s.keep(alerts), nil
}
