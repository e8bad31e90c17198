package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"duo-pass-api/internal/models"
)

// SeedMatchStatus writes an unmatched row for the user-month unless one
// already exists. It reports whether a row was created.
func (q *Queries) SeedMatchStatus(ctx context.Context, userID, month string, now time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `INSERT OR IGNORE INTO match_statuses
		(user_id, month, matched, updated_at) VALUES (?, ?, 0, ?)`,
		userID, month, formatTime(now))
	if err != nil {
		return false, fmt.Errorf("failed to seed match status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// UpsertMatchStatus stores the matcher's latest view of a user-month.
func (q *Queries) UpsertMatchStatus(ctx context.Context, ms models.MatchStatus) error {
	_, err := q.q.ExecContext(ctx, `INSERT INTO match_statuses
		(user_id, month, matched, matched_at, matched_with_user_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, month) DO UPDATE SET
			matched = excluded.matched,
			matched_at = excluded.matched_at,
			matched_with_user_id = excluded.matched_with_user_id,
			updated_at = excluded.updated_at`,
		ms.UserID,
		ms.Month,
		ms.Matched,
		formatTimePtr(ms.MatchedAt),
		nullString(ms.MatchedWithUserID),
		formatTime(ms.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert match status: %w", err)
	}
	return nil
}

// GetMatchStatus returns the row for a user-month, or nil when none exists.
func (q *Queries) GetMatchStatus(ctx context.Context, userID, month string) (*models.MatchStatus, error) {
	var (
		ms          models.MatchStatus
		matchedAt   sql.NullString
		matchedWith sql.NullString
		updatedAt   string
	)
	err := q.q.QueryRowContext(ctx, `SELECT user_id, month, matched, matched_at, matched_with_user_id, updated_at
		FROM match_statuses WHERE user_id = ? AND month = ?`, userID, month).
		Scan(&ms.UserID, &ms.Month, &ms.Matched, &matchedAt, &matchedWith, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query match status: %w", err)
	}

	ms.MatchedWithUserID = stringPtr(matchedWith)
	if ms.MatchedAt, err = parseTimePtr(matchedAt); err != nil {
		return nil, fmt.Errorf("failed to parse matched_at: %w", err)
	}
	if ms.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &ms, nil
}
