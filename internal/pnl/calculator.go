// Package pnl settles positions against market resolutions and aggregates
// realized profit and loss per wallet. One SQL pass produces every
// (wallet, condition, outcome) position; settlement pricing and wallet
// rollups happen in memory.
package pnl

import (
	"context"
	"math"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// Position inclusion thresholds: dust positions are noise, but a fully
// closed position (net shares ~0) with real cost flow still counts.
const (
	minAbsShares = 0.001
	minAbsCost   = 0.01
)

// positionRow is the aggregation query output for one position.
type positionRow struct {
	WalletID      string    `ch:"wallet_id"`
	ConditionID   string    `ch:"condition_id"`
	OutcomeIndex  int32     `ch:"outcome_index"`
	NetShares     float64   `ch:"net_shares"`
	NetCost       float64   `ch:"net_cost"`
	BuyShares     float64   `ch:"buy_shares"`
	BuyNotional   float64   `ch:"buy_notional"`
	BuyCount      uint64    `ch:"buy_count"`
	SellCount     uint64    `ch:"sell_count"`
	FirstTradeAt  time.Time `ch:"first_trade_at"`
	LastTradeAt   time.Time `ch:"last_trade_at"`
	WinningIndex  int32     `ch:"winning_outcome_index"`
	ResolvedAt    time.Time `ch:"resolved_at"`
}

const positionsQuery = `
	SELECT
		t.wallet_id AS wallet_id,
		t.condition_id AS condition_id,
		t.outcome_index AS outcome_index,
		sumIf(t.size, t.side = 'BUY') - sumIf(t.size, t.side = 'SELL') AS net_shares,
		sumIf(t.notional, t.side = 'BUY') - sumIf(t.notional, t.side = 'SELL') AS net_cost,
		sumIf(t.size, t.side = 'BUY') AS buy_shares,
		sumIf(t.notional, t.side = 'BUY') AS buy_notional,
		countIf(t.side = 'BUY') AS buy_count,
		countIf(t.side = 'SELL') AS sell_count,
		min(t.ts) AS first_trade_at,
		max(t.ts) AS last_trade_at,
		any(r.winning_outcome_index) AS winning_outcome_index,
		any(r.resolution_time) AS resolved_at
	FROM trades AS t
	INNER JOIN (
		SELECT condition_id, winning_outcome_index, resolution_time
		FROM market_resolutions FINAL
		WHERE is_resolved
	) AS r ON r.condition_id = t.condition_id
	GROUP BY wallet_id, condition_id, outcome_index
	HAVING abs(net_shares) > 0.001 OR abs(net_cost) > 0.01`

// Calculator computes realized P&L for resolved positions.
type Calculator struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewCalculator creates a P&L calculator.
func NewCalculator(s store.Store, log zerolog.Logger) *Calculator {
	return &Calculator{
		store: s,
		log:   log.With().Str("component", "pnl").Logger(),
		now:   time.Now,
	}
}

// Settle converts an aggregated position row into a settled position.
// Invariant: RealizedPnL = SettlementPrice*NetShares - NetCost.
func Settle(row positionRow, calculatedAt time.Time) domain.PositionPnL {
	settlement := 0.0
	if row.OutcomeIndex == row.WinningIndex {
		settlement = 1.0
	}
	avgEntry := 0.0
	if row.BuyShares > 0 {
		avgEntry = row.BuyNotional / row.BuyShares
	}
	return domain.PositionPnL{
		WalletID:        row.WalletID,
		ConditionID:     row.ConditionID,
		OutcomeIndex:    row.OutcomeIndex,
		NetShares:       row.NetShares,
		NetCost:         row.NetCost,
		AvgEntryPrice:   avgEntry,
		SettlementPrice: settlement,
		RealizedPnL:     settlement*row.NetShares - row.NetCost,
		BuyCount:        row.BuyCount,
		SellCount:       row.SellCount,
		FirstTradeAt:    row.FirstTradeAt,
		LastTradeAt:     row.LastTradeAt,
		ResolvedAt:      row.ResolvedAt,
		CalculatedAt:    calculatedAt,
	}
}

// AggregateWallets rolls settled positions up into per-wallet totals.
// Invariant: TotalRealizedPnL is the exact sum over the wallet's positions.
func AggregateWallets(positions []domain.PositionPnL) []domain.WalletPnL {
	byWallet := map[string]*domain.WalletPnL{}
	order := []string{}
	for _, p := range positions {
		w, ok := byWallet[p.WalletID]
		if !ok {
			w = &domain.WalletPnL{WalletID: p.WalletID}
			byWallet[p.WalletID] = w
			order = append(order, p.WalletID)
		}
		w.TotalRealizedPnL += p.RealizedPnL
		w.PositionsClosed++
		if p.RealizedPnL > 0 {
			w.Wins++
		} else {
			w.Losses++
		}
	}

	out := make([]domain.WalletPnL, 0, len(order))
	for _, id := range order {
		w := byWallet[id]
		if w.PositionsClosed > 0 {
			w.WinRate = float64(w.Wins) / float64(w.PositionsClosed)
		}
		out = append(out, *w)
	}
	return out
}

// Run executes one P&L pass: settle every resolved position, aggregate per
// wallet, and fold totals into the trader profiles without disturbing the
// profile fields other components own.
func (c *Calculator) Run(ctx context.Context) (int, error) {
	var rows []positionRow
	if err := c.store.Select(ctx, &rows, positionsQuery); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		c.log.Info().Msg("No resolved positions to settle")
		return 0, nil
	}

	calculatedAt := c.now().UTC()
	positions := make([]domain.PositionPnL, 0, len(rows))
	for _, row := range rows {
		if math.Abs(row.NetShares) <= minAbsShares && math.Abs(row.NetCost) <= minAbsCost {
			continue
		}
		positions = append(positions, Settle(row, calculatedAt))
	}

	if err := c.store.InsertBatch(ctx, "position_pnl", positions); err != nil {
		return 0, err
	}

	wallets := AggregateWallets(positions)
	if err := c.store.InsertBatch(ctx, "trader_pnl", wallets); err != nil {
		return 0, err
	}

	if err := c.updateProfiles(ctx, wallets, calculatedAt); err != nil {
		return 0, err
	}

	c.log.Info().
		Int("positions", len(positions)).
		Int("wallets", len(wallets)).
		Msg("P&L pass complete")
	return len(positions), nil
}

// updateProfiles re-reads the existing profile rows and rewrites them with
// fresh P&L totals. Only total_pnl, realized_pnl, updated_at and
// data_quality change; all other fields are carried over verbatim so the
// profile builder's aggregates survive. Wallets without a profile get a
// minimal partial row.
func (c *Calculator) updateProfiles(ctx context.Context, wallets []domain.WalletPnL, updatedAt time.Time) error {
	var existing []domain.WalletProfile
	if err := c.store.Select(ctx, &existing, `SELECT * FROM trader_profiles FINAL`); err != nil {
		return err
	}
	byID := make(map[string]domain.WalletProfile, len(existing))
	for _, p := range existing {
		byID[p.WalletID] = p
	}

	updated := make([]domain.WalletProfile, 0, len(wallets))
	for _, w := range wallets {
		profile, ok := byID[w.WalletID]
		if !ok {
			profile = domain.WalletProfile{WalletID: w.WalletID}
		}
		profile.TotalPnL = w.TotalRealizedPnL
		profile.RealizedPnL = w.TotalRealizedPnL
		profile.UpdatedAt = updatedAt
		if ok {
			profile.DataQuality = domain.DataQualityPnLCalculated
		} else {
			profile.DataQuality = domain.DataQualityPartial
		}
		updated = append(updated, profile)
	}

	return c.store.InsertBatch(ctx, "trader_profiles", updated)
}
