package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"duo-pass-api/internal/catalog"
	"duo-pass-api/internal/database"
	"duo-pass-api/internal/models"
	"duo-pass-api/internal/month"
	"duo-pass-api/internal/tracing"
)

// Purchase buys or upgrades tier for each requested month.
//
// A selection in which every month is blocked is rejected before anything
// is written. Otherwise months are processed in the order given, each in its
// own database transaction holding the pass write, the ledger entry and the
// match-status seed. A failure stops the batch; months committed before it
// stay committed and are listed in the returned result alongside the error.
func (s *Service) Purchase(ctx context.Context, userID string, tier catalog.TierID, months []string) (result models.PurchaseResult, err error) {
	ctx, span := tracing.StartUserSpan(ctx, "service.Purchase", userID)
	defer func() { tracing.EndSpan(span, err) }()

	conflicts, err := s.ResolveConflicts(ctx, userID, tier, months)
	if err != nil {
		return models.PurchaseResult{}, err
	}

	result = models.PurchaseResult{
		UserID:    userID,
		Tier:      tier,
		Committed: []models.PurchasedMonth{},
		Blocked:   conflicts.Blocked,
	}

	if !conflicts.CanProceed {
		result.Rejected = true
		log.Info().
			Str("user_id", userID).
			Str("tier", string(tier)).
			Int("blocked", len(conflicts.Blocked)).
			Msg("purchase rejected, every month blocked")
		return result, nil
	}

	blocked := make(map[string]struct{}, len(conflicts.Blocked))
	for _, b := range conflicts.Blocked {
		blocked[b.Month] = struct{}{}
	}

	for _, m := range month.Dedupe(months) {
		if _, skip := blocked[m]; skip {
			continue
		}

		item, late, err := s.purchaseMonth(ctx, userID, tier, m)
		if err != nil {
			log.Error().Err(err).
				Str("user_id", userID).
				Str("month", m).
				Str("tier", string(tier)).
				Int("committed", len(result.Committed)).
				Msg("purchase stopped")
			return result, fmt.Errorf("failed to purchase month %s: %w", m, err)
		}
		if late != nil {
			result.Blocked = append(result.Blocked, *late)
			continue
		}

		result.Committed = append(result.Committed, *item)
		result.TotalCharge += item.Transaction.Amount
		s.events.PublishPurchase(ctx, *item)

		log.Info().
			Str("user_id", userID).
			Str("month", m).
			Str("tier", string(tier)).
			Str("pass_id", item.Pass.ID).
			Str("action", string(item.Action)).
			Int64("amount", item.Transaction.Amount).
			Msg("month pass committed")
	}

	result.Rejected = len(result.Committed) == 0
	return result, nil
}

// purchaseMonth commits one month. The month is classified again inside the
// transaction; if it became blocked since the quote, it is returned as
// blocked and nothing is written.
func (s *Service) purchaseMonth(ctx context.Context, userID string, tier catalog.TierID, m string) (*models.PurchasedMonth, *models.BlockedMonth, error) {
	now := s.clock.Now().UTC()
	current := month.Current(s.clock)

	var (
		item    *models.PurchasedMonth
		blocked *models.BlockedMonth
	)
	err := s.db.WithTx(ctx, func(q *database.Queries) error {
		existing, err := q.ActivePass(ctx, userID, m)
		if err != nil {
			return err
		}

		d := classifyMonth(tier, m, existing, current)
		switch {
		case d.blocked != nil:
			blocked = d.blocked
			return nil
		case d.upgrade != nil:
			item, err = upgradePass(ctx, q, *existing, tier, d.upgrade.Price, now)
		default:
			item, err = issuePass(ctx, q, userID, m, tier, now)
		}
		if err != nil {
			return err
		}

		_, err = q.SeedMatchStatus(ctx, userID, m, now)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return item, blocked, nil
}

func issuePass(ctx context.Context, q *database.Queries, userID, m string, tier catalog.TierID, now time.Time) (*models.PurchasedMonth, error) {
	pass := models.MonthPass{
		ID:            uuid.New().String(),
		UserID:        userID,
		Month:         m,
		Tier:          tier,
		Status:        models.PassActive,
		MaxCompanions: catalog.MaxCompanions(tier),
		PricePaid:     catalog.Price(tier),
		PurchasedAt:   now,
	}
	if err := q.InsertPass(ctx, pass); err != nil {
		return nil, err
	}

	txn := models.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		PassID:    pass.ID,
		Month:     m,
		Tier:      tier,
		Kind:      models.TransactionCharge,
		Amount:    pass.PricePaid,
		CreatedAt: now,
	}
	if err := q.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	return &models.PurchasedMonth{
		Month:       m,
		Action:      models.ActionPurchased,
		Pass:        pass,
		Transaction: txn,
	}, nil
}

// upgradePass retires old and issues its successor at tier. The old pass is
// retired first so the successor never coexists with it as active.
func upgradePass(ctx context.Context, q *database.Queries, old models.MonthPass, tier catalog.TierID, delta int64, now time.Time) (*models.PurchasedMonth, error) {
	successor := models.MonthPass{
		ID:                uuid.New().String(),
		UserID:            old.UserID,
		Month:             old.Month,
		Tier:              tier,
		Status:            models.PassActive,
		MaxCompanions:     catalog.MaxCompanions(tier),
		CurrentCompanions: old.CurrentCompanions,
		PricePaid:         catalog.Price(tier),
		PurchasedAt:       now,
	}

	from := old.Status
	if err := old.MarkUpgraded(successor.ID); err != nil {
		return nil, err
	}
	if err := q.UpdatePassStatus(ctx, old, from); err != nil {
		return nil, err
	}
	if err := q.InsertPass(ctx, successor); err != nil {
		return nil, err
	}

	txn := models.Transaction{
		ID:        uuid.New().String(),
		UserID:    old.UserID,
		PassID:    successor.ID,
		Month:     old.Month,
		Tier:      tier,
		Kind:      models.TransactionUpgradeCharge,
		Amount:    delta,
		CreatedAt: now,
	}
	if err := q.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	return &models.PurchasedMonth{
		Month:       old.Month,
		Action:      models.ActionUpgraded,
		Pass:        successor,
		Transaction: txn,
		PreviousID:  old.ID,
	}, nil
}
