package repository

import (
	"context"

	"codepolish/internal/domain/model"
)

// CreditLedger is the only writer of credits_remaining for spending. Each
// call changes the balance and appends a ledger row atomically.
type CreditLedger interface {
	// Debit subtracts amount if the balance covers it. Returns
	// ErrInsufficientCredits or ErrSubscriptionNotFound otherwise.
	Debit(ctx context.Context, tx Tx, userID int64, amount int, polishID *int64) (balance int, err error)
	// Refund adds amount back, clamped to credits_total.
	Refund(ctx context.Context, tx Tx, userID int64, amount int, polishID *int64) (balance int, err error)
	// Record appends a grant or reset entry for a balance set elsewhere.
	Record(ctx context.Context, tx Tx, e *model.LedgerEntry) error
	ListByUser(ctx context.Context, tx Tx, userID int64, limit int) ([]*model.LedgerEntry, error)
}
