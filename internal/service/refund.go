package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"duo-pass-api/internal/catalog"
	"duo-pass-api/internal/database"
	"duo-pass-api/internal/models"
	"duo-pass-api/internal/month"
	"duo-pass-api/internal/tracing"
	"duo-pass-api/internal/validation"
)

// RefundReason is recorded on every automatic refund.
const RefundReason = "no mentor match before the pass month started"

// ProcessRefunds refunds the user's active passes whose month has begun
// without a successful match. It is safe to run any number of times.
func (s *Service) ProcessRefunds(ctx context.Context, userID string) (models.RefundReport, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return models.RefundReport{}, err
	}
	return s.sweep(ctx, userID)
}

// ProcessAllRefunds runs the refund sweep across every user.
func (s *Service) ProcessAllRefunds(ctx context.Context) (models.RefundReport, error) {
	return s.sweep(ctx, "")
}

func (s *Service) sweep(ctx context.Context, userID string) (report models.RefundReport, err error) {
	ctx, span := tracing.StartUserSpan(ctx, "service.RefundSweep", userID)
	defer func() { tracing.EndSpan(span, err) }()

	current := s.CurrentMonth()
	now := s.clock.Now().UTC()

	report = models.RefundReport{
		CurrentMonth: current,
		Refunded:     []models.RefundedPass{},
	}

	passes, err := s.db.StartedActivePasses(ctx, userID, current)
	if err != nil {
		return report, fmt.Errorf("failed to load started passes: %w", err)
	}

	var errs []error
	for _, p := range passes {
		report.Scanned++

		refund, matched, err := s.refundIfUnmatched(ctx, p.ID, current, now)
		if err != nil {
			log.Error().Err(err).Str("user_id", p.UserID).Str("pass_id", p.ID).Msg("refund failed")
			errs = append(errs, fmt.Errorf("pass %s: %w", p.ID, err))
			continue
		}
		if matched {
			report.Matched++
			continue
		}
		if refund == nil {
			continue
		}

		report.Refunded = append(report.Refunded, *refund)
		s.events.PublishRefund(ctx, *refund)

		log.Info().
			Str("user_id", refund.UserID).
			Str("month", refund.Month).
			Str("tier", string(refund.Tier)).
			Str("pass_id", refund.PassID).
			Int64("amount", refund.Amount).
			Msg("pass refunded, no match before month start")
	}

	return report, errors.Join(errs...)
}

// refundIfUnmatched refunds one pass in a single transaction. A pass whose
// month has not started relative to current is left alone. It returns
// matched=true when the pass keeps its entitlement and a nil refund when
// the pass was already settled by an earlier sweep.
func (s *Service) refundIfUnmatched(ctx context.Context, passID, current string, now time.Time) (*models.RefundedPass, bool, error) {
	var (
		refund  *models.RefundedPass
		matched bool
	)
	err := s.db.WithTx(ctx, func(q *database.Queries) error {
		pass, err := q.GetPass(ctx, passID)
		if err != nil {
			return err
		}
		if pass.Status != models.PassActive || !month.Started(pass.Month, current) {
			return nil
		}

		ms, err := q.GetMatchStatus(ctx, pass.UserID, pass.Month)
		if err != nil {
			return err
		}
		if ms != nil && ms.Matched {
			matched = true
			return nil
		}

		from := pass.Status
		if err := pass.MarkRefunded(now); err != nil {
			return err
		}
		if err := q.UpdatePassStatus(ctx, pass, from); err != nil {
			return err
		}

		amount := catalog.Price(pass.Tier)
		written, err := q.InsertRefund(ctx, models.Transaction{
			ID:        uuid.New().String(),
			UserID:    pass.UserID,
			PassID:    pass.ID,
			Month:     pass.Month,
			Tier:      pass.Tier,
			Kind:      models.TransactionRefund,
			Amount:    amount,
			Reason:    RefundReason,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if !written {
			log.Warn().Str("pass_id", pass.ID).Msg("refund row already present, pass status repaired")
		}

		refund = &models.RefundedPass{
			PassID: pass.ID,
			UserID: pass.UserID,
			Month:  pass.Month,
			Tier:   pass.Tier,
			Amount: amount,
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return refund, matched, nil
}
