// Package domain contains the core records of the analytics engine.
// The domain layer is pure: plain records and free functions, no
// infrastructure dependencies. Entities are owned by exactly one producing
// component; everyone else reads them.
package domain

import "time"

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is a single fill from the append-only trades table. Read-only input;
// deduplication by (tx_hash, wallet_id, outcome_index) happens upstream.
type Trade struct {
	Timestamp    time.Time `ch:"ts"`
	WalletID     string    `ch:"wallet_id"`
	DisplayName  string    `ch:"display_name"`
	MarketID     string    `ch:"market_id"`
	MarketSlug   string    `ch:"market_slug"`
	ConditionID  string    `ch:"condition_id"`
	OutcomeLabel string    `ch:"outcome_label"`
	OutcomeIndex int32     `ch:"outcome_index"`
	Side         Side      `ch:"side"`
	Price        float64   `ch:"price"` // [0,1]
	Size         float64   `ch:"size"`
	Notional     float64   `ch:"notional"`
	TxHash       string    `ch:"tx_hash"`
}

// MarketResolution is the settled state of a market, produced by the
// resolution tracker. A market is resolved iff exactly one outcome price
// reached 0.99.
type MarketResolution struct {
	ConditionID         string    `ch:"condition_id"`
	MarketSlug          string    `ch:"market_slug"`
	Title               string    `ch:"title"`
	IsResolved          bool      `ch:"is_resolved"`
	WinningOutcomeLabel string    `ch:"winning_outcome_label"`
	WinningOutcomeIndex int32     `ch:"winning_outcome_index"`
	OutcomePrices       []float64 `ch:"outcome_prices"`
	Outcomes            []string  `ch:"outcomes"`
	EndTime             time.Time `ch:"end_time"`
	ResolutionTime      time.Time `ch:"resolution_time"`
}

// PositionPnL is realized profit and loss for one (wallet, condition, outcome)
// position. Invariant: RealizedPnL = SettlementPrice*NetShares - NetCost.
type PositionPnL struct {
	WalletID        string    `ch:"wallet_id"`
	ConditionID     string    `ch:"condition_id"`
	OutcomeIndex    int32     `ch:"outcome_index"`
	NetShares       float64   `ch:"net_shares"`
	NetCost         float64   `ch:"net_cost"`
	AvgEntryPrice   float64   `ch:"avg_entry_price"`
	SettlementPrice float64   `ch:"settlement_price"` // 0.0 or 1.0
	RealizedPnL     float64   `ch:"realized_pnl"`
	BuyCount        uint64    `ch:"buy_count"`
	SellCount       uint64    `ch:"sell_count"`
	FirstTradeAt    time.Time `ch:"first_trade_at"`
	LastTradeAt     time.Time `ch:"last_trade_at"`
	ResolvedAt      time.Time `ch:"resolved_at"`
	CalculatedAt    time.Time `ch:"calculated_at"`
}

// WalletPnL aggregates realized P&L over all of a wallet's settled positions.
type WalletPnL struct {
	WalletID         string  `ch:"wallet_id"`
	TotalRealizedPnL float64 `ch:"total_realized_pnl"`
	PositionsClosed  uint64  `ch:"positions_closed"`
	Wins             uint64  `ch:"wins"`
	Losses           uint64  `ch:"losses"`
	WinRate          float64 `ch:"win_rate"`
}

// DataQuality describes how complete a wallet profile is.
type DataQuality string

const (
	DataQualityGood          DataQuality = "good"
	DataQualityPartial       DataQuality = "partial"
	DataQualityPnLCalculated DataQuality = "pnl_calculated"
)

// WalletProfile holds trading aggregates for a wallet. The P&L calculator
// overwrites only TotalPnL, RealizedPnL, UpdatedAt and DataQuality; every
// other field is preserved on upsert.
type WalletProfile struct {
	WalletID         string      `ch:"wallet_id"`
	DisplayName      string      `ch:"display_name"`
	TotalTrades      uint64      `ch:"total_trades"`
	TotalVolume      float64     `ch:"total_volume"`
	UniqueMarkets    uint64      `ch:"unique_markets"`
	FirstTradeAt     time.Time   `ch:"first_trade_at"`
	LastTradeAt      time.Time   `ch:"last_trade_at"`
	DaysActive       uint64      `ch:"days_active"`
	BuyCount         uint64      `ch:"buy_count"`
	SellCount        uint64      `ch:"sell_count"`
	AvgTradeSize     float64     `ch:"avg_trade_size"`
	AvgPrice         float64     `ch:"avg_price"`
	CompleteSetRatio float64     `ch:"complete_set_ratio"`
	DirectionBias    float64     `ch:"direction_bias"`
	TotalPnL         float64     `ch:"total_pnl"`
	RealizedPnL      float64     `ch:"realized_pnl"`
	UpdatedAt        time.Time   `ch:"updated_at"`
	DataQuality      DataQuality `ch:"data_quality"`
}

// WalletSharpe holds risk-adjusted performance derived from daily P&L.
// SharpeCapped is min(SharpeRatio, 10.0); Confidence is min(days/30, 1.0).
type WalletSharpe struct {
	WalletID     string  `ch:"wallet_id"`
	SharpeRatio  float64 `ch:"sharpe_ratio"`
	SharpeCapped float64 `ch:"sharpe_capped"`
	MeanDailyPnL float64 `ch:"mean_daily_pnl"`
	StdDailyPnL  float64 `ch:"std_daily_pnl"`
	MaxDrawdown  float64 `ch:"max_drawdown"`
	DaysWithPnL  int     `ch:"days_with_pnl"`
	Confidence   float64 `ch:"confidence"` // [0,1]
}

// StrategyType is the categorical classification of a wallet's trading style.
type StrategyType string

const (
	StrategyArbitrageur         StrategyType = "ARBITRAGEUR"
	StrategyMarketMaker         StrategyType = "MARKET_MAKER"
	StrategyDirectionalMomentum StrategyType = "DIRECTIONAL_MOMENTUM"
	StrategyScalper             StrategyType = "SCALPER"
	StrategyHybrid              StrategyType = "HYBRID"
	StrategyUnknown             StrategyType = "UNKNOWN"
)

// WalletScore is the composite score and tier for a wallet within one
// scoring batch.
type WalletScore struct {
	WalletID           string       `ch:"wallet_id"`
	TotalScore         float64      `ch:"total_score"` // [0,100]
	Tier               Tier         `ch:"tier"`
	Profitability      float64      `ch:"profitability"`
	RiskAdjusted       float64      `ch:"risk_adjusted"`
	Consistency        float64      `ch:"consistency"`
	TrackRecord        float64      `ch:"track_record"`
	StrategyType       StrategyType `ch:"strategy_type"`
	StrategyConfidence float64      `ch:"strategy_confidence"`
	Rank               uint32       `ch:"rank"`
	CalculatedAt       time.Time    `ch:"calculated_at"`
	ModelVersion       string       `ch:"model_version"`
}

// MarketCategory buckets markets by subject matter.
type MarketCategory string

const (
	CategoryCrypto        MarketCategory = "CRYPTO"
	CategoryPolitics      MarketCategory = "POLITICS"
	CategorySports        MarketCategory = "SPORTS"
	CategoryNews          MarketCategory = "NEWS"
	CategoryEntertainment MarketCategory = "ENTERTAINMENT"
	CategoryEconomics     MarketCategory = "ECONOMICS"
	CategoryScience       MarketCategory = "SCIENCE"
	CategoryOther         MarketCategory = "OTHER"
)

// MarketClassification is the category assignment for one market slug.
type MarketClassification struct {
	MarketSlug      string         `ch:"market_slug"`
	Category        MarketCategory `ch:"category"`
	Confidence      float64        `ch:"confidence"`
	MatchedPatterns []string       `ch:"matched_patterns"`
}

// IndexConstituent is one wallet inside an index, with the weight it held at
// the most recent rebalance.
type IndexConstituent struct {
	WalletID          string       `ch:"wallet_id"`
	Weight            float64      `ch:"weight"` // [0,1]
	ScoreAtInclusion  float64      `ch:"score_at_inclusion"`
	SharpeAtInclusion float64      `ch:"sharpe_at_inclusion"`
	StrategyType      StrategyType `ch:"strategy_type"`
	AddedAt           time.Time    `ch:"added_at"`
}

// Index is an investable basket of smart-money wallets.
// Invariant: constituent weights sum to 1.0 within 1e-6 and each weight is
// at most the configured per-trader cap.
type Index struct {
	IndexID          string
	Constituents     []IndexConstituent
	CreatedAt        time.Time
	LastRebalanced   time.Time
	CumulativeReturn float64
}

// RebalanceDiff describes constituent churn between two rebalances.
type RebalanceDiff struct {
	Added   []string
	Removed []string
}
