package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// TierID identifies a purchasable month-pass tier.
type TierID string

const (
	TierGo  TierID = "go"
	TierRun TierID = "run"
	TierFly TierID = "fly"
)

// UnlimitedCompanions is the capacity sentinel used for the top tier.
const UnlimitedCompanions = 999

var (
	ErrUnknownTier          = errors.New("catalog: unknown tier")
	ErrUnknownCompanionType = errors.New("catalog: unknown companion type")
	ErrNotAnUpgrade         = errors.New("catalog: target tier does not outrank current tier")
)

// Tier is one row of the static tier table. Prices are in minor units.
type Tier struct {
	ID            TierID `json:"id"`
	DisplayName   string `json:"display_name"`
	Rank          int    `json:"rank"`
	Price         int64  `json:"price"`
	MaxCompanions int    `json:"max_companions"`
}

var tiers = map[TierID]Tier{
	TierGo: {
		ID:            TierGo,
		DisplayName:   "Go",
		Rank:          1,
		Price:         300,
		MaxCompanions: 1,
	},
	TierRun: {
		ID:            TierRun,
		DisplayName:   "Run",
		Rank:          2,
		Price:         800,
		MaxCompanions: 5,
	},
	TierFly: {
		ID:            TierFly,
		DisplayName:   "Fly",
		Rank:          3,
		Price:         1500,
		MaxCompanions: UnlimitedCompanions,
	},
}

// TierOrder lists tiers from lowest to highest rank.
var TierOrder = []TierID{TierGo, TierRun, TierFly}

// Lookup returns the tier row for id.
func Lookup(id TierID) (Tier, bool) {
	t, ok := tiers[id]
	return t, ok
}

// All returns every tier in rank order.
func All() []Tier {
	out := make([]Tier, 0, len(TierOrder))
	for _, id := range TierOrder {
		out = append(out, tiers[id])
	}
	return out
}

// ParseTier normalizes s into a known tier id.
func ParseTier(s string) (TierID, error) {
	id := TierID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tiers[id]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return id, nil
}

// Rank returns the tier's rank, or 0 for an unknown tier.
func Rank(id TierID) int {
	return tiers[id].Rank
}

// MaxCompanions returns the tier's companion ceiling, or 0 for an unknown tier.
func MaxCompanions(id TierID) int {
	return tiers[id].MaxCompanions
}
