package catalog

import "fmt"

// Price returns the full monthly price of a tier, or 0 for an unknown tier.
func Price(id TierID) int64 {
	return tiers[id].Price
}

// UpgradePrice is the amount owed to move a month from one tier to a
// strictly higher one. Same-rank and downgrade requests are rejected.
func UpgradePrice(from, to TierID) (int64, error) {
	f, ok := tiers[from]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, from)
	}
	t, ok := tiers[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, to)
	}
	if t.Rank <= f.Rank {
		return 0, fmt.Errorf("%w: %s -> %s", ErrNotAnUpgrade, from, to)
	}
	return t.Price - f.Price, nil
}
