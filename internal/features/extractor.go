// Package features computes per-wallet feature vectors with batched
// aggregation SQL. One query covers the whole cohort; there are no
// per-wallet round trips.
package features

import (
	"context"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// profileQuery aggregates every wallet's trading profile in one pass.
// Strategy indicators ride along: complete_set_ratio is the fraction of
// markets where the wallet traded more than one outcome, direction_bias is
// the buy share of notional volume.
const profileQuery = `
	SELECT
		a.wallet_id AS wallet_id,
		a.display_name AS display_name,
		a.total_trades AS total_trades,
		a.total_volume AS total_volume,
		a.unique_markets AS unique_markets,
		a.first_trade_at AS first_trade_at,
		a.last_trade_at AS last_trade_at,
		a.days_active AS days_active,
		a.buy_count AS buy_count,
		a.sell_count AS sell_count,
		a.avg_trade_size AS avg_trade_size,
		a.avg_price AS avg_price,
		a.direction_bias AS direction_bias,
		if(m.markets > 0, m.complete / m.markets, 0) AS complete_set_ratio
	FROM (
		SELECT
			wallet_id,
			any(display_name) AS display_name,
			count() AS total_trades,
			sum(notional) AS total_volume,
			uniqExact(condition_id) AS unique_markets,
			min(ts) AS first_trade_at,
			max(ts) AS last_trade_at,
			uniqExact(toDate(ts)) AS days_active,
			countIf(side = 'BUY') AS buy_count,
			countIf(side = 'SELL') AS sell_count,
			avg(notional) AS avg_trade_size,
			avg(price) AS avg_price,
			if(sum(notional) > 0, sumIf(notional, side = 'BUY') / sum(notional), 0.5) AS direction_bias
		FROM trades
		GROUP BY wallet_id
	) AS a
	LEFT JOIN (
		SELECT
			wallet_id,
			count() AS markets,
			toFloat64(countIf(outcomes_traded >= 2)) AS complete
		FROM (
			SELECT wallet_id, condition_id, uniqExact(outcome_index) AS outcomes_traded
			FROM trades
			GROUP BY wallet_id, condition_id
		)
		GROUP BY wallet_id
	) AS m ON m.wallet_id = a.wallet_id`

// windowQuery computes the risk, behavioral and sequence feature families for
// every wallet active inside [from, to). Sequence stats come from ordered
// per-wallet arrays; realized P&L from positions resolved inside the window.
const windowQuery = `
	SELECT
		t.wallet_id AS wallet_id,
		t.trades AS trades,
		t.volume AS volume,
		t.avg_notional AS avg_notional,
		t.max_notional AS max_notional,
		t.direction_bias AS direction_bias,
		t.hhi AS hhi,
		t.hours_entropy AS hours_entropy,
		t.mean_gap_s AS mean_gap_s,
		t.gap_cv AS gap_cv,
		t.longest_run AS longest_run,
		if(m.markets > 0, m.complete / m.markets, 0) AS complete_set_ratio,
		p.realized_pnl AS realized_pnl,
		p.wins AS wins,
		p.losses AS losses,
		s.daily_pnl_mean AS daily_pnl_mean,
		s.daily_pnl_std AS daily_pnl_std,
		s.pnl_days AS pnl_days
	FROM (
		SELECT
			wallet_id,
			count() AS trades,
			sum(notional) AS volume,
			avg(notional) AS avg_notional,
			max(notional) AS max_notional,
			if(volume > 0, sumIf(notional, side = 'BUY') / volume, 0.5) AS direction_bias,
			if(volume > 0,
				arraySum(arrayMap(v -> (v / volume) * (v / volume),
					mapValues(sumMap(map(condition_id, notional))))),
				0) AS hhi,
			entropy(toHour(ts)) AS hours_entropy,
			arrayPopFront(arrayDifference(groupArray(toUnixTimestamp(ts)))) AS gaps,
			if(length(gaps) > 0, arrayAvg(gaps), 0) AS mean_gap_s,
			if(length(gaps) > 0 AND arrayAvg(gaps) > 0,
				arrayReduce('stddevPop', gaps) / arrayAvg(gaps), 0) AS gap_cv,
			groupArray(side) AS sides,
			arrayMax(arrayMap(r -> length(r),
				arraySplit((x, y) -> x != y, sides,
					arrayPushFront(arrayPopBack(sides), sides[1])))) AS longest_run
		FROM (
			SELECT wallet_id, condition_id, notional, side, ts
			FROM trades
			WHERE ts >= @from AND ts < @to
			ORDER BY wallet_id, ts
		)
		GROUP BY wallet_id
	) AS t
	LEFT JOIN (
		SELECT
			wallet_id,
			count() AS markets,
			toFloat64(countIf(outcomes_traded >= 2)) AS complete
		FROM (
			SELECT wallet_id, condition_id, uniqExact(outcome_index) AS outcomes_traded
			FROM trades
			WHERE ts >= @from AND ts < @to
			GROUP BY wallet_id, condition_id
		)
		GROUP BY wallet_id
	) AS m ON m.wallet_id = t.wallet_id
	LEFT JOIN (
		SELECT
			wallet_id,
			sum(realized_pnl) AS realized_pnl,
			countIf(realized_pnl > 0) AS wins,
			countIf(realized_pnl <= 0) AS losses
		FROM position_pnl FINAL
		WHERE resolved_at >= @from AND resolved_at < @to
		GROUP BY wallet_id
	) AS p ON p.wallet_id = t.wallet_id
	LEFT JOIN (
		SELECT
			wallet_id,
			avg(daily_pnl) AS daily_pnl_mean,
			stddevPop(daily_pnl) AS daily_pnl_std,
			count() AS pnl_days
		FROM (
			SELECT wallet_id, toDate(resolved_at) AS day, sum(realized_pnl) AS daily_pnl
			FROM position_pnl FINAL
			WHERE resolved_at >= @from AND resolved_at < @to
			GROUP BY wallet_id, day
		)
		GROUP BY wallet_id
	) AS s ON s.wallet_id = t.wallet_id`

// WalletWindow is one wallet's feature vector over a time window.
type WalletWindow struct {
	WalletID      string  `ch:"wallet_id"`
	Trades        uint64  `ch:"trades"`
	Volume        float64 `ch:"volume"`
	AvgNotional   float64 `ch:"avg_notional"`
	MaxNotional   float64 `ch:"max_notional"`
	DirectionBias float64 `ch:"direction_bias"`
	HHI           float64 `ch:"hhi"`
	HoursEntropy  float64 `ch:"hours_entropy"`
	MeanGapS      float64 `ch:"mean_gap_s"`
	GapCV         float64 `ch:"gap_cv"`
	LongestRun    uint64  `ch:"longest_run"`

	CompleteSetRatio float64 `ch:"complete_set_ratio"`

	RealizedPnL  float64 `ch:"realized_pnl"`
	Wins         uint64  `ch:"wins"`
	Losses       uint64  `ch:"losses"`
	DailyPnLMean float64 `ch:"daily_pnl_mean"`
	DailyPnLStd  float64 `ch:"daily_pnl_std"`
	PnLDays      uint64  `ch:"pnl_days"`
}

// WinRate returns wins over settled positions in the window, 0 when none.
func (w WalletWindow) WinRate() float64 {
	settled := w.Wins + w.Losses
	if settled == 0 {
		return 0
	}
	return float64(w.Wins) / float64(settled)
}

// Sharpe returns the daily Sharpe ratio over the window, unannualized: mean
// daily realized P&L over its standard deviation. 0 when daily P&L never
// varies, which also covers windows with no settled positions.
func (w WalletWindow) Sharpe() float64 {
	if w.DailyPnLStd == 0 {
		return 0
	}
	return w.DailyPnLMean / w.DailyPnLStd
}

// PnLPerTrade returns realized P&L per trade in the window, 0 when no trades.
func (w WalletWindow) PnLPerTrade() float64 {
	if w.Trades == 0 {
		return 0
	}
	return w.RealizedPnL / float64(w.Trades)
}

// Extractor runs the batched feature queries and maintains trader profiles.
type Extractor struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewExtractor creates a feature extractor.
func NewExtractor(s store.Store, log zerolog.Logger) *Extractor {
	return &Extractor{
		store: s,
		log:   log.With().Str("component", "features").Logger(),
		now:   time.Now,
	}
}

// profileRow mirrors profileQuery output.
type profileRow struct {
	WalletID         string    `ch:"wallet_id"`
	DisplayName      string    `ch:"display_name"`
	TotalTrades      uint64    `ch:"total_trades"`
	TotalVolume      float64   `ch:"total_volume"`
	UniqueMarkets    uint64    `ch:"unique_markets"`
	FirstTradeAt     time.Time `ch:"first_trade_at"`
	LastTradeAt      time.Time `ch:"last_trade_at"`
	DaysActive       uint64    `ch:"days_active"`
	BuyCount         uint64    `ch:"buy_count"`
	SellCount        uint64    `ch:"sell_count"`
	AvgTradeSize     float64   `ch:"avg_trade_size"`
	AvgPrice         float64   `ch:"avg_price"`
	DirectionBias    float64   `ch:"direction_bias"`
	CompleteSetRatio float64   `ch:"complete_set_ratio"`
}

// BuildProfiles recomputes every wallet's trading profile from trades and
// rewrites trader_profiles. P&L totals already present on a profile are
// preserved; the P&L calculator owns those fields.
func (e *Extractor) BuildProfiles(ctx context.Context) (int, error) {
	var rows []profileRow
	if err := e.store.Select(ctx, &rows, profileQuery); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		e.log.Info().Msg("No trades, no profiles to build")
		return 0, nil
	}

	var existing []domain.WalletProfile
	if err := e.store.Select(ctx, &existing, `SELECT * FROM trader_profiles FINAL`); err != nil {
		return 0, err
	}
	pnlByID := make(map[string]domain.WalletProfile, len(existing))
	for _, p := range existing {
		pnlByID[p.WalletID] = p
	}

	now := e.now().UTC()
	profiles := make([]domain.WalletProfile, 0, len(rows))
	for _, r := range rows {
		profile := domain.WalletProfile{
			WalletID:         r.WalletID,
			DisplayName:      r.DisplayName,
			TotalTrades:      r.TotalTrades,
			TotalVolume:      r.TotalVolume,
			UniqueMarkets:    r.UniqueMarkets,
			FirstTradeAt:     r.FirstTradeAt,
			LastTradeAt:      r.LastTradeAt,
			DaysActive:       r.DaysActive,
			BuyCount:         r.BuyCount,
			SellCount:        r.SellCount,
			AvgTradeSize:     r.AvgTradeSize,
			AvgPrice:         r.AvgPrice,
			CompleteSetRatio: r.CompleteSetRatio,
			DirectionBias:    r.DirectionBias,
			UpdatedAt:        now,
			DataQuality:      domain.DataQualityGood,
		}
		if prev, ok := pnlByID[r.WalletID]; ok {
			profile.TotalPnL = prev.TotalPnL
			profile.RealizedPnL = prev.RealizedPnL
			if prev.DataQuality == domain.DataQualityPnLCalculated {
				profile.DataQuality = domain.DataQualityPnLCalculated
			}
		}
		profiles = append(profiles, profile)
	}

	if err := e.store.InsertBatch(ctx, "trader_profiles", profiles); err != nil {
		return 0, err
	}
	e.log.Info().Int("profiles", len(profiles)).Msg("Rebuilt trader profiles")
	return len(profiles), nil
}

// Windows returns per-wallet feature vectors over [from, to).
func (e *Extractor) Windows(ctx context.Context, from, to time.Time) ([]WalletWindow, error) {
	var rows []WalletWindow
	err := e.store.Select(ctx, &rows, windowQuery,
		store.Named("from", from.UTC()), store.Named("to", to.UTC()))
	if err != nil {
		return nil, err
	}
	return rows, nil
}
