package service

import (
	"context"
	"fmt"

	"duo-pass-api/internal/catalog"
	"duo-pass-api/internal/models"
	"duo-pass-api/internal/month"
	"duo-pass-api/internal/validation"
)

// monthDecision is the classification of a single month. Exactly one field
// is set.
type monthDecision struct {
	purchasable *models.PurchasableMonth
	upgrade     *models.UpgradeableMonth
	blocked     *models.BlockedMonth
}

// ResolveConflicts classifies each requested month for tier as purchasable,
// upgrade-eligible or blocked. It never writes.
func (s *Service) ResolveConflicts(ctx context.Context, userID string, tier catalog.TierID, months []string) (models.ConflictResult, error) {
	if err := validatePurchaseInput(userID, tier, months); err != nil {
		return models.ConflictResult{}, err
	}

	active, err := s.db.ActivePasses(ctx, userID)
	if err != nil {
		return models.ConflictResult{}, fmt.Errorf("failed to load active passes: %w", err)
	}

	return classifyMonths(tier, months, active, s.CurrentMonth()), nil
}

func validatePurchaseInput(userID string, tier catalog.TierID, months []string) error {
	if err := validation.ValidateUserID(userID); err != nil {
		return err
	}
	if _, ok := catalog.Lookup(tier); !ok {
		return &validation.ValidationError{Field: "tier", Message: "must be one of: go run fly"}
	}
	return validation.ValidateMonths(months)
}

func classifyMonths(tier catalog.TierID, months []string, active map[string]models.MonthPass, current string) models.ConflictResult {
	result := models.ConflictResult{
		Tier:        tier,
		Purchasable: []models.PurchasableMonth{},
		Upgradeable: []models.UpgradeableMonth{},
		Blocked:     []models.BlockedMonth{},
	}

	for _, m := range month.Dedupe(months) {
		var existing *models.MonthPass
		if p, ok := active[m]; ok {
			existing = &p
		}

		d := classifyMonth(tier, m, existing, current)
		switch {
		case d.blocked != nil:
			result.Blocked = append(result.Blocked, *d.blocked)
		case d.upgrade != nil:
			result.Upgradeable = append(result.Upgradeable, *d.upgrade)
			result.TotalPrice += d.upgrade.Price
		default:
			result.Purchasable = append(result.Purchasable, *d.purchasable)
			result.TotalPrice += d.purchasable.Price
		}
	}

	result.CanProceed = len(result.Purchasable) > 0 || len(result.Upgradeable) > 0
	return result
}

// classifyMonth applies the purchase rules to one month. Only months strictly
// after current may be bought; an existing pass at the same or a higher rank
// blocks, a lower one makes the month upgrade-eligible.
func classifyMonth(tier catalog.TierID, m string, existing *models.MonthPass, current string) monthDecision {
	if !month.After(m, current) {
		return monthDecision{blocked: &models.BlockedMonth{Month: m, Reason: models.BlockMonthElapsed}}
	}

	if existing == nil {
		return monthDecision{purchasable: &models.PurchasableMonth{Month: m, Price: catalog.Price(tier)}}
	}

	delta, err := catalog.UpgradePrice(existing.Tier, tier)
	if err != nil {
		owned := existing.Tier
		return monthDecision{blocked: &models.BlockedMonth{
			Month:        m,
			Reason:       models.BlockAlreadyOwnedSameOrHigher,
			ExistingTier: &owned,
		}}
	}

	return monthDecision{upgrade: &models.UpgradeableMonth{
		Month:    m,
		PassID:   existing.ID,
		FromTier: existing.Tier,
		ToTier:   tier,
		Price:    delta,
	}}
}
