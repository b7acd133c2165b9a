package scoring

import (
	"math"

	"github.com/psilabs/psi-engine/internal/domain"
)

// Classification thresholds. Below minStrategyScore no label is trusted; two
// candidates closer than hybridSpread are indistinguishable.
const (
	minStrategyScore = 30.0
	hybridSpread     = 15.0
)

// Indicators are the inputs to strategy classification, extracted per wallet
// by one batched query.
type Indicators struct {
	CompleteSetRatio float64
	DirectionBias    float64
	TotalTrades      uint64
	UniqueMarkets    uint64
	BuyCount         uint64
	SellCount        uint64
}

// Classify labels a wallet's trading style. Pure function: same indicators,
// same label. Confidence is on [0,1].
func Classify(ind Indicators) (domain.StrategyType, float64) {
	arb := ind.CompleteSetRatio * 100
	if ind.TotalTrades > 500 {
		arb += 20
	}

	buyFrac := 0.5
	if ind.BuyCount+ind.SellCount > 0 {
		buyFrac = float64(ind.BuyCount) / float64(ind.BuyCount+ind.SellCount)
	}
	mm := (1 - math.Abs(0.5-buyFrac)*2) * 50
	if ind.TotalTrades > 500 {
		mm += 30
	}

	dm := math.Abs(ind.DirectionBias-0.5) * 100
	if ind.UniqueMarkets < 50 {
		dm += 30
	}

	best, second, label := rankCandidates(arb, mm, dm)

	if best < minStrategyScore {
		return domain.StrategyUnknown, 0
	}
	if best-second < hybridSpread {
		return domain.StrategyHybrid, math.Min(best*0.7/100, 1)
	}
	return label, math.Min(best/100, 1)
}

func rankCandidates(arb, mm, dm float64) (best, second float64, label domain.StrategyType) {
	best, label = arb, domain.StrategyArbitrageur
	if mm > best {
		second = best
		best, label = mm, domain.StrategyMarketMaker
	} else {
		second = mm
	}
	if dm > best {
		second = best
		best, label = dm, domain.StrategyDirectionalMomentum
	} else if dm > second {
		second = dm
	}
	return best, second, label
}
