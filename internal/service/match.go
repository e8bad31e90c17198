package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"duo-pass-api/internal/models"
	"duo-pass-api/internal/tracing"
)

// RecordMatch stores the external matcher's result for a user-month and then
// re-runs the user's refund sweep, since a match change can settle a pass.
// A pass that was already refunded stays refunded.
func (s *Service) RecordMatch(ctx context.Context, userID, m string, upd models.MatchUpdate) (status models.MatchStatus, report models.RefundReport, err error) {
	if err := validateUserMonth(userID, m); err != nil {
		return models.MatchStatus{}, models.RefundReport{}, err
	}

	ctx, span := tracing.StartUserSpan(ctx, "service.RecordMatch", userID)
	defer func() { tracing.EndSpan(span, err) }()

	now := s.clock.Now().UTC()
	status = models.MatchStatus{
		UserID:            userID,
		Month:             m,
		Matched:           upd.Matched,
		MatchedAt:         upd.MatchedAt,
		MatchedWithUserID: upd.MatchedWithUserID,
		UpdatedAt:         now,
	}
	if status.Matched && status.MatchedAt == nil {
		status.MatchedAt = &now
	}
	if !status.Matched {
		status.MatchedAt = nil
		status.MatchedWithUserID = nil
	}

	if err := s.db.UpsertMatchStatus(ctx, status); err != nil {
		return models.MatchStatus{}, models.RefundReport{}, fmt.Errorf("failed to record match: %w", err)
	}
	s.events.PublishMatch(ctx, status)

	log.Info().
		Str("user_id", userID).
		Str("month", m).
		Bool("matched", status.Matched).
		Msg("match status recorded")

	report, err = s.sweep(ctx, userID)
	if err != nil {
		return status, report, fmt.Errorf("match recorded but refund sweep failed: %w", err)
	}
	return status, report, nil
}

// GetMatchStatus returns the match row for a user-month, or nil when none
// has been written.
func (s *Service) GetMatchStatus(ctx context.Context, userID, m string) (*models.MatchStatus, error) {
	if err := validateUserMonth(userID, m); err != nil {
		return nil, err
	}
	return s.db.GetMatchStatus(ctx, userID, m)
}
