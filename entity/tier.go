package entity

// Tier is a loyalty rank derived from lifetime points.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Lower bounds of each tier, inclusive.
const (
	SilverThreshold   = 1000
	GoldThreshold     = 5000
	PlatinumThreshold = 10000
)

// TierFor derives the tier for a lifetime point total.
func TierFor(lifetimePoints int64) Tier {
	switch {
	case lifetimePoints >= PlatinumThreshold:
		return TierPlatinum
	case lifetimePoints >= GoldThreshold:
		return TierGold
	case lifetimePoints >= SilverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

// Rank orders tiers from 0 (bronze) to 3 (platinum); unknown tiers are -1.
func (t Tier) Rank() int {
	switch t {
	case TierBronze:
		return 0
	case TierSilver:
		return 1
	case TierGold:
		return 2
	case TierPlatinum:
		return 3
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}
