package catalog

import (
	"fmt"
	"strings"
)

// CompanionType is the kind of mentor a pass can be matched with.
type CompanionType string

const (
	CompanionNunu          CompanionType = "nunu"
	CompanionCertifiedNunu CompanionType = "certified-nunu"
	CompanionShangzhe      CompanionType = "shangzhe"
)

var companionRanks = map[CompanionType]int{
	CompanionNunu:          1,
	CompanionCertifiedNunu: 2,
	CompanionShangzhe:      3,
}

// ParseCompanionType normalizes s into a known companion type.
func ParseCompanionType(s string) (CompanionType, error) {
	c := CompanionType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := companionRanks[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCompanionType, s)
	}
	return c, nil
}

// CompanionRank returns the rank a tier must reach to access c.
func CompanionRank(c CompanionType) int {
	return companionRanks[c]
}

// Grants reports whether a pass of the given tier may be matched with c.
func Grants(tier TierID, c CompanionType) bool {
	need, ok := companionRanks[c]
	if !ok {
		return false
	}
	have, ok := tiers[tier]
	if !ok {
		return false
	}
	return have.Rank >= need
}
