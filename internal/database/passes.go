package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duo-pass-api/internal/catalog"
	"duo-pass-api/internal/models"
)

const passColumns = `id, user_id, month, tier, status, max_companions, current_companions,
	price_paid, purchased_at, upgraded_to_id, refunded_at`

// InsertPass stores a new pass. A second active pass for the same user and
// month violates ux_month_passes_active and fails.
func (q *Queries) InsertPass(ctx context.Context, p models.MonthPass) error {
	_, err := q.q.ExecContext(ctx, `INSERT INTO month_passes (`+passColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.UserID,
		p.Month,
		string(p.Tier),
		string(p.Status),
		p.MaxCompanions,
		p.CurrentCompanions,
		p.PricePaid,
		formatTime(p.PurchasedAt),
		nullString(p.UpgradedToID),
		formatTimePtr(p.RefundedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pass %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePassStatus persists a status transition already applied to p. The
// update only matches while the stored row is still in status from.
func (q *Queries) UpdatePassStatus(ctx context.Context, p models.MonthPass, from models.PassStatus) error {
	res, err := q.q.ExecContext(ctx, `UPDATE month_passes
		SET status = ?, upgraded_to_id = ?, refunded_at = ?
		WHERE id = ? AND status = ?`,
		string(p.Status),
		nullString(p.UpgradedToID),
		formatTimePtr(p.RefundedAt),
		p.ID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update pass %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pass %s not in status %s: %w", p.ID, from, ErrStaleState)
	}
	return nil
}

// IncrementCompanions takes one companion slot on the user's active pass for
// month. It reports false when there is no active pass or it is full.
func (q *Queries) IncrementCompanions(ctx context.Context, userID, month string) (bool, error) {
	res, err := q.q.ExecContext(ctx, `UPDATE month_passes
		SET current_companions = current_companions + 1
		WHERE user_id = ? AND month = ? AND status = 'active'
		AND current_companions < max_companions`,
		userID, month,
	)
	if err != nil {
		return false, fmt.Errorf("failed to increment companions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// GetPass returns a pass by id.
func (q *Queries) GetPass(ctx context.Context, id string) (models.MonthPass, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+passColumns+` FROM month_passes WHERE id = ?`, id)
	p, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MonthPass{}, ErrNotFound
	}
	return p, err
}

// ActivePass returns the user's active pass for month, or nil when none exists.
func (q *Queries) ActivePass(ctx context.Context, userID, month string) (*models.MonthPass, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+passColumns+` FROM month_passes
		WHERE user_id = ? AND month = ? AND status = 'active'`, userID, month)
	p, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActivePasses returns the user's active passes keyed by month.
func (q *Queries) ActivePasses(ctx context.Context, userID string) (map[string]models.MonthPass, error) {
	passes, err := q.queryPasses(ctx, `SELECT `+passColumns+` FROM month_passes
		WHERE user_id = ? AND status = 'active'`, userID)
	if err != nil {
		return nil, err
	}
	byMonth := make(map[string]models.MonthPass, len(passes))
	for _, p := range passes {
		byMonth[p.Month] = p
	}
	return byMonth, nil
}

// ListPasses returns every pass the user ever held, oldest month first.
func (q *Queries) ListPasses(ctx context.Context, userID string) ([]models.MonthPass, error) {
	return q.queryPasses(ctx, `SELECT `+passColumns+` FROM month_passes
		WHERE user_id = ? ORDER BY month ASC, purchased_at ASC, rowid ASC`, userID)
}

// PassesForMonth returns the full pass history of one month, oldest first.
func (q *Queries) PassesForMonth(ctx context.Context, userID, month string) ([]models.MonthPass, error) {
	return q.queryPasses(ctx, `SELECT `+passColumns+` FROM month_passes
		WHERE user_id = ? AND month = ? ORDER BY purchased_at ASC, rowid ASC`, userID, month)
}

// StartedActivePasses returns active passes whose month is at or before
// currentMonth. An empty userID scans every user.
func (q *Queries) StartedActivePasses(ctx context.Context, userID, currentMonth string) ([]models.MonthPass, error) {
	if userID == "" {
		return q.queryPasses(ctx, `SELECT `+passColumns+` FROM month_passes
			WHERE status = 'active' AND month <= ? ORDER BY user_id ASC, month ASC`, currentMonth)
	}
	return q.queryPasses(ctx, `SELECT `+passColumns+` FROM month_passes
		WHERE user_id = ? AND status = 'active' AND month <= ? ORDER BY month ASC`, userID, currentMonth)
}

func (q *Queries) queryPasses(ctx context.Context, query string, args ...any) ([]models.MonthPass, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var passes []models.MonthPass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passes: %w", err)
	}
	return passes, nil
}

func scanPass(s scanner) (models.MonthPass, error) {
	var (
		p            models.MonthPass
		tier, status string
		purchasedAt  string
		upgradedToID sql.NullString
		refundedAt   sql.NullString
	)
	err := s.Scan(
		&p.ID,
		&p.UserID,
		&p.Month,
		&tier,
		&status,
		&p.MaxCompanions,
		&p.CurrentCompanions,
		&p.PricePaid,
		&purchasedAt,
		&upgradedToID,
		&refundedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("failed to scan pass: %w", err)
	}

	p.Tier = catalog.TierID(tier)
	p.Status = models.PassStatus(status)
	p.UpgradedToID = stringPtr(upgradedToID)

	if p.PurchasedAt, err = parseTime(purchasedAt); err != nil {
		return p, fmt.Errorf("failed to parse purchased_at: %w", err)
	}
	if p.RefundedAt, err = parseTimePtr(refundedAt); err != nil {
		return p, fmt.Errorf("failed to parse refunded_at: %w", err)
	}
	return p, nil
}
