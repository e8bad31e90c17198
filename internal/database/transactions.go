package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duo-pass-api/internal/catalog"
	"duo-pass-api/internal/models"
)

const transactionColumns = `id, user_id, pass_id, month, tier, kind, amount, reason, created_at`

// InsertTransaction appends a charge or upgrade charge. Refunds go through
// InsertRefund so the per-pass idempotency key applies.
func (q *Queries) InsertTransaction(ctx context.Context, t models.Transaction) error {
	if t.Kind == models.TransactionRefund {
		return fmt.Errorf("refund transactions must use InsertRefund")
	}
	if _, err := q.q.ExecContext(ctx, `INSERT INTO pass_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, transactionArgs(t)...); err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
	}
	return nil
}

// InsertRefund appends a refund unless one already exists for the pass.
// It reports whether a row was written; ux_pass_transactions_refund is the
// idempotency key.
func (q *Queries) InsertRefund(ctx context.Context, t models.Transaction) (bool, error) {
	if t.Kind != models.TransactionRefund {
		return false, fmt.Errorf("transaction %s is not a refund", t.ID)
	}
	res, err := q.q.ExecContext(ctx, `INSERT OR IGNORE INTO pass_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, transactionArgs(t)...)
	if err != nil {
		return false, fmt.Errorf("failed to insert refund for pass %s: %w", t.PassID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// RefundForPass returns the refund recorded for a pass, or nil.
func (q *Queries) RefundForPass(ctx context.Context, passID string) (*models.Transaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM pass_transactions
		WHERE pass_id = ? AND kind = 'refund'`, passID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransactions returns the user's ledger in the order it was written.
func (q *Queries) ListTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+transactionColumns+` FROM pass_transactions
		WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

func transactionArgs(t models.Transaction) []any {
	return []any{
		t.ID,
		t.UserID,
		t.PassID,
		t.Month,
		string(t.Tier),
		string(t.Kind),
		t.Amount,
		t.Reason,
		formatTime(t.CreatedAt),
	}
}

func scanTransaction(s scanner) (models.Transaction, error) {
	var (
		t          models.Transaction
		tier, kind string
		createdAt  string
	)
	err := s.Scan(&t.ID, &t.UserID, &t.PassID, &t.Month, &tier, &kind, &t.Amount, &t.Reason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, err
	}
	if err != nil {
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.Tier = catalog.TierID(tier)
	t.Kind = models.TransactionKind(kind)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return t, nil
}
