package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/metrics"
)

var _ repository.CreditLedger = (*creditLedger)(nil)

// creditLedger changes balances with single conditional statements so
// concurrent callers can never push credits_remaining outside 0..credits_total.
type creditLedger struct {
	pool *pgxpool.Pool
}

func NewCreditLedger(pool *pgxpool.Pool) *creditLedger {
	return &creditLedger{pool: pool}
}

func (l *creditLedger) Debit(ctx context.Context, tx repository.Tx, userID int64, amount int, polishID *int64) (int, error) {
	if amount <= 0 {
		return 0, domain.Invalid("debit amount must be positive, got %d", amount)
	}
	const q = `
WITH upd AS (
  UPDATE subscriptions
     SET credits_remaining = credits_remaining - $2, updated_at = NOW()
   WHERE user_id = $1 AND credits_remaining >= $2
  RETURNING user_id, credits_remaining
)
INSERT INTO credit_ledger (user_id, polish_id, entry_type, amount, balance_after)
SELECT user_id, $3::bigint, 'debit', $2, credits_remaining FROM upd
RETURNING balance_after;`
	balance, err := l.apply(ctx, tx, q, userID, amount, polishID)
	if err == nil {
		metrics.IncCreditOp("debit", "ok")
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		metrics.IncCreditOp("debit", "error")
		return 0, translate(err)
	}
	exists, err := l.subscriptionExists(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, domain.ErrSubscriptionNotFound
	}
	metrics.IncCreditOp("debit", "insufficient")
	return 0, domain.ErrInsufficientCredits
}

func (l *creditLedger) Refund(ctx context.Context, tx repository.Tx, userID int64, amount int, polishID *int64) (int, error) {
	if amount <= 0 {
		return 0, domain.Invalid("refund amount must be positive, got %d", amount)
	}
	const q = `
WITH upd AS (
  UPDATE subscriptions
     SET credits_remaining = LEAST(credits_remaining + $2, credits_total), updated_at = NOW()
   WHERE user_id = $1
  RETURNING user_id, credits_remaining
)
INSERT INTO credit_ledger (user_id, polish_id, entry_type, amount, balance_after)
SELECT user_id, $3::bigint, 'refund', $2, credits_remaining FROM upd
RETURNING balance_after;`
	balance, err := l.apply(ctx, tx, q, userID, amount, polishID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrSubscriptionNotFound
		}
		metrics.IncCreditOp("refund", "error")
		return 0, translate(err)
	}
	metrics.IncCreditOp("refund", "ok")
	return balance, nil
}

func (l *creditLedger) Record(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	const q = `
INSERT INTO credit_ledger (user_id, polish_id, entry_type, amount, balance_after)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, created_at;`
	row, err := pickRow(ctx, l.pool, tx, q, e.UserID, e.PolishID, e.EntryType, e.Amount, e.BalanceAfter)
	if err != nil {
		return err
	}
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return translate(err)
	}
	metrics.IncCreditOp(string(e.EntryType), "ok")
	return nil
}

func (l *creditLedger) ListByUser(ctx context.Context, tx repository.Tx, userID int64, limit int) ([]*model.LedgerEntry, error) {
	const q = `
SELECT id, user_id, polish_id, entry_type, amount, balance_after, created_at
  FROM credit_ledger WHERE user_id=$1 ORDER BY id DESC LIMIT $2;`
	rows, err := queryRows(ctx, l.pool, tx, q, userID, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PolishID, &e.EntryType, &e.Amount, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (l *creditLedger) apply(ctx context.Context, tx repository.Tx, q string, userID int64, amount int, polishID *int64) (int, error) {
	row, err := pickRow(ctx, l.pool, tx, q, userID, amount, polishID)
	if err != nil {
		return 0, err
	}
	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (l *creditLedger) subscriptionExists(ctx context.Context, tx repository.Tx, userID int64) (bool, error) {
	row, err := pickRow(ctx, l.pool, tx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE user_id=$1);`, userID)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, translate(err)
	}
	return ok, nil
}
