package store

import "context"

// Schema DDL for the tables this engine owns. The trades table is created too
// so a fresh database is immediately usable, but the engine only ever reads
// it. Replace-on-insert tables use ReplacingMergeTree keyed by their primary
// identifier; re-running a pipeline step converges to the same state.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		ts DateTime64(3),
		wallet_id String,
		display_name String,
		market_id String,
		market_slug String,
		condition_id String,
		outcome_label String,
		outcome_index Int32,
		side Enum8('BUY' = 1, 'SELL' = 2),
		price Float64,
		size Float64,
		notional Float64,
		tx_hash String
	) ENGINE = MergeTree()
	ORDER BY (wallet_id, condition_id, ts)`,

	`CREATE TABLE IF NOT EXISTS market_resolutions (
		condition_id String,
		market_slug String,
		title String,
		is_resolved Bool,
		winning_outcome_label String,
		winning_outcome_index Int32,
		outcome_prices Array(Float64),
		outcomes Array(String),
		end_time DateTime64(3),
		resolution_time DateTime64(3)
	) ENGINE = ReplacingMergeTree(resolution_time)
	ORDER BY condition_id`,

	`CREATE TABLE IF NOT EXISTS position_pnl (
		wallet_id String,
		condition_id String,
		outcome_index Int32,
		net_shares Float64,
		net_cost Float64,
		avg_entry_price Float64,
		settlement_price Float64,
		realized_pnl Float64,
		buy_count UInt64,
		sell_count UInt64,
		first_trade_at DateTime64(3),
		last_trade_at DateTime64(3),
		resolved_at DateTime64(3),
		calculated_at DateTime64(3)
	) ENGINE = ReplacingMergeTree(calculated_at)
	ORDER BY (wallet_id, condition_id, outcome_index)`,

	`CREATE TABLE IF NOT EXISTS trader_pnl (
		wallet_id String,
		total_realized_pnl Float64,
		positions_closed UInt64,
		wins UInt64,
		losses UInt64,
		win_rate Float64
	) ENGINE = ReplacingMergeTree()
	ORDER BY wallet_id`,

	`CREATE TABLE IF NOT EXISTS trader_profiles (
		wallet_id String,
		display_name String,
		total_trades UInt64,
		total_volume Float64,
		unique_markets UInt64,
		first_trade_at DateTime64(3),
		last_trade_at DateTime64(3),
		days_active UInt64,
		buy_count UInt64,
		sell_count UInt64,
		avg_trade_size Float64,
		avg_price Float64,
		complete_set_ratio Float64,
		direction_bias Float64,
		total_pnl Float64,
		realized_pnl Float64,
		updated_at DateTime64(3),
		data_quality Enum8('good' = 1, 'partial' = 2, 'pnl_calculated' = 3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY wallet_id`,

	`CREATE TABLE IF NOT EXISTS smart_money_scores (
		wallet_id String,
		total_score Float64,
		tier Enum8('BRONZE' = 1, 'SILVER' = 2, 'GOLD' = 3, 'DIAMOND' = 4),
		profitability Float64,
		risk_adjusted Float64,
		consistency Float64,
		track_record Float64,
		strategy_type String,
		strategy_confidence Float64,
		rank UInt32,
		calculated_at DateTime64(3),
		model_version String
	) ENGINE = ReplacingMergeTree(calculated_at)
	ORDER BY wallet_id`,

	`CREATE TABLE IF NOT EXISTS smart_money_scores_history (
		wallet_id String,
		total_score Float64,
		tier Enum8('BRONZE' = 1, 'SILVER' = 2, 'GOLD' = 3, 'DIAMOND' = 4),
		profitability Float64,
		risk_adjusted Float64,
		consistency Float64,
		track_record Float64,
		strategy_type String,
		strategy_confidence Float64,
		rank UInt32,
		calculated_at DateTime64(3),
		model_version String
	) ENGINE = MergeTree()
	ORDER BY (wallet_id, calculated_at)`,

	`CREATE TABLE IF NOT EXISTS market_classifications (
		market_slug String,
		category String,
		confidence Float64,
		matched_patterns Array(String)
	) ENGINE = ReplacingMergeTree()
	ORDER BY market_slug`,

	`CREATE TABLE IF NOT EXISTS psi_index (
		index_id String,
		wallet_id String,
		weight Float64,
		score_at_inclusion Float64,
		sharpe_at_inclusion Float64,
		strategy_type String,
		rebalanced_at DateTime64(3),
		created_at DateTime64(3),
		cumulative_return Float64
	) ENGINE = MergeTree()
	ORDER BY (index_id, rebalanced_at, wallet_id)`,

	`CREATE TABLE IF NOT EXISTS alerts (
		alert_id String,
		alert_type String,
		severity Enum8('LOW' = 1, 'MEDIUM' = 2, 'HIGH' = 3, 'CRITICAL' = 4),
		title String,
		message String,
		wallet_id String,
		market_id String,
		payload String,
		created_at DateTime64(3),
		delivered_at Nullable(DateTime64(3))
	) ENGINE = MergeTree()
	ORDER BY (created_at, alert_id)`,
}

// Migrate creates all engine tables that do not yet exist.
func Migrate(ctx context.Context, s Store) error {
	for _, ddl := range schemaDDL {
		if err := s.Exec(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}
