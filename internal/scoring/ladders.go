package scoring

import "math"

// Subscore weights for the composite score.
const (
	weightProfitability = 0.40
	weightRiskAdjusted  = 0.30
	weightConsistency   = 0.20
	weightTrackRecord   = 0.10
)

// minPeersForPercentile switches profitability from the absolute ladder to a
// cohort percentile rank.
const minPeersForPercentile = 10

// Profitability scores realized P&L on a 0-100 scale. With a cohort of at
// least minPeersForPercentile peers the score is the percentile rank of pnl
// within the cohort; smaller cohorts fall back to the absolute ladder.
func Profitability(pnl float64, cohort []float64) float64 {
	if len(cohort) >= minPeersForPercentile {
		return percentileRank(pnl, cohort)
	}
	return ProfitabilityLadder(pnl)
}

// ProfitabilityLadder is the absolute-P&L fallback. Buckets interpolate
// linearly so nearby wallets do not tie.
func ProfitabilityLadder(pnl float64) float64 {
	switch {
	case pnl <= -5000:
		return 5
	case pnl <= -1000:
		return 15
	case pnl < 0:
		return 25
	case pnl < 1000:
		return 35 + pnl/1000*10
	case pnl < 5000:
		return 45 + (pnl-1000)/4000*15
	case pnl < 25000:
		return 60 + (pnl-5000)/20000*20
	case pnl < 100000:
		return 80 + (pnl-25000)/75000*15
	default:
		return 95
	}
}

// percentileRank returns the percentage of the cohort at or below pnl, with
// ties counted half.
func percentileRank(pnl float64, cohort []float64) float64 {
	below, equal := 0, 0
	for _, v := range cohort {
		switch {
		case v < pnl:
			below++
		case v == pnl:
			equal++
		}
	}
	return (float64(below) + float64(equal)/2) / float64(len(cohort)) * 100
}

// RiskAdjusted rewards small average position size and market diversity on
// top of a neutral base of 50.
func RiskAdjusted(avgTradeSize float64, uniqueMarkets uint64) float64 {
	score := 50.0

	switch {
	case avgTradeSize <= 100:
		score += 20
	case avgTradeSize <= 500:
		score += 15
	case avgTradeSize <= 2000:
		score += 5
	case avgTradeSize > 10000:
		score -= 15
	}

	switch {
	case uniqueMarkets >= 100:
		score += 30
	case uniqueMarkets >= 20:
		score += 20
	case uniqueMarkets >= 5:
		score += 15
	case uniqueMarkets >= 2:
		score += 5
	}

	return clampScore(score)
}

// Consistency combines days active, buy/sell balance and trade frequency.
func Consistency(daysActive, totalTrades, buyCount, sellCount uint64) float64 {
	days := math.Min(float64(daysActive), 30) / 30 * 20

	balance := 0.0
	if buyCount+sellCount > 0 {
		total := float64(buyCount + sellCount)
		balance = math.Min(float64(buyCount), float64(sellCount)) / (total / 2) * 35
	}

	tradesPerDay := float64(totalTrades)
	if daysActive > 0 {
		tradesPerDay = float64(totalTrades) / float64(daysActive)
	}
	frequency := 0.0
	switch {
	case tradesPerDay >= 5:
		frequency = 45
	case tradesPerDay >= 2:
		frequency = 35
	case tradesPerDay >= 1:
		frequency = 20
	case tradesPerDay >= 0.25:
		frequency = 10
	}

	return clampScore(days + balance + frequency)
}

// TrackRecord combines tenure, lifetime volume and market breadth.
func TrackRecord(daysActive uint64, totalVolume float64, uniqueMarkets uint64) float64 {
	days := 0.0
	switch {
	case daysActive < 30:
		days = float64(daysActive) / 30 * 15
	case daysActive < 90:
		days = 20
	case daysActive < 180:
		days = 25
	case daysActive < 365:
		days = 30
	default:
		days = 40
	}

	volume := 0.0
	switch {
	case totalVolume >= 1_000_000:
		volume = 35
	case totalVolume >= 100_000:
		volume = 25
	case totalVolume >= 10_000:
		volume = 15
	case totalVolume >= 1_000:
		volume = 10
	}

	markets := 0.0
	switch {
	case uniqueMarkets >= 100:
		markets = 25
	case uniqueMarkets >= 20:
		markets = 20
	case uniqueMarkets >= 5:
		markets = 10
	case uniqueMarkets >= 2:
		markets = 5
	}

	return clampScore(days + volume + markets)
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
