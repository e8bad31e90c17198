package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"duo-pass-api/internal/catalog"
	"duo-pass-api/internal/month"
	"duo-pass-api/internal/tracing"
	"duo-pass-api/internal/validation"
)

// IncrementCompanionCount takes one companion slot on the user's active pass
// for m. It returns false, without error, when there is no active pass or
// the pass is already at its ceiling.
//
// Releasing a slot is not supported yet; see DESIGN.md.
func (s *Service) IncrementCompanionCount(ctx context.Context, userID, m string) (ok bool, err error) {
	if err := validateUserMonth(userID, m); err != nil {
		return false, err
	}

	ctx, span := tracing.StartUserSpan(ctx, "service.IncrementCompanionCount", userID)
	defer func() { tracing.EndSpan(span, err) }()

	ok, err = s.db.IncrementCompanions(ctx, userID, m)
	if err != nil {
		return false, fmt.Errorf("failed to take companion slot: %w", err)
	}
	if !ok {
		log.Debug().Str("user_id", userID).Str("month", m).Msg("no free companion slot")
	}
	return ok, nil
}

// CanAccessCompanionForMonth reports whether the user's active pass for m is
// ranked high enough for companion type c. Slot usage is not considered.
func (s *Service) CanAccessCompanionForMonth(ctx context.Context, userID, m string, c catalog.CompanionType) (bool, error) {
	if err := validateUserMonth(userID, m); err != nil {
		return false, err
	}
	if catalog.CompanionRank(c) == 0 {
		return false, &validation.ValidationError{Field: "companion_type", Message: "is not a known companion type"}
	}

	pass, err := s.db.ActivePass(ctx, userID, m)
	if err != nil {
		return false, fmt.Errorf("failed to load pass: %w", err)
	}
	if pass == nil {
		return false, nil
	}
	return catalog.Grants(pass.Tier, c), nil
}

// GetMonthsForCompanionType returns, oldest first, the months in which the
// user may take on another companion of type c.
func (s *Service) GetMonthsForCompanionType(ctx context.Context, userID string, c catalog.CompanionType) ([]string, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if catalog.CompanionRank(c) == 0 {
		return nil, &validation.ValidationError{Field: "companion_type", Message: "is not a known companion type"}
	}

	active, err := s.db.ActivePasses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active passes: %w", err)
	}

	months := []string{}
	for m, p := range active {
		if catalog.Grants(p.Tier, c) && p.HasFreeSlot() {
			months = append(months, m)
		}
	}
	month.SortAscending(months)
	return months, nil
}
