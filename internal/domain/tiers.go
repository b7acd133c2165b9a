package domain

// Tier is the ordinal quality bucket over total score.
type Tier string

const (
	TierBronze  Tier = "BRONZE"
	TierSilver  Tier = "SILVER"
	TierGold    Tier = "GOLD"
	TierDiamond Tier = "DIAMOND"
)

// Tier boundaries: Bronze < 40 <= Silver < 60 <= Gold < 80 <= Diamond.
const (
	tierSilverMin  = 40.0
	tierGoldMin    = 60.0
	tierDiamondMin = 80.0
)

// TierForScore maps a total score to its tier. Monotone in score.
func TierForScore(score float64) Tier {
	switch {
	case score >= tierDiamondMin:
		return TierDiamond
	case score >= tierGoldMin:
		return TierGold
	case score >= tierSilverMin:
		return TierSilver
	default:
		return TierBronze
	}
}

// TierRank returns the ordinal position of a tier, Bronze being lowest.
func TierRank(t Tier) int {
	switch t {
	case TierDiamond:
		return 3
	case TierGold:
		return 2
	case TierSilver:
		return 1
	default:
		return 0
	}
}
