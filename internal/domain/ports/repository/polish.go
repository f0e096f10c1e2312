package repository

import (
	"context"
	"time"

	"codepolish/internal/domain/model"
)

// PolishRepository persists polish jobs. Every transition method is a
// compare-and-set on the current status and returns false when the row was
// not in the expected state.
type PolishRepository interface {
	Create(ctx context.Context, tx Tx, p *model.Polish) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Polish, error)
	// FindByIDForUpdate locks the row for the rest of tx.
	FindByIDForUpdate(ctx context.Context, tx Tx, id int64) (*model.Polish, error)
	List(ctx context.Context, tx Tx, f model.PolishFilter) ([]*model.Polish, error)
	Count(ctx context.Context, tx Tx, f model.PolishFilter) (int, error)
	// Delete removes a job owned by userID. Returns ErrNotFound otherwise.
	Delete(ctx context.Context, tx Tx, id, userID int64) error

	ClaimPending(ctx context.Context, tx Tx, id int64) (bool, error)
	MarkPolishing(ctx context.Context, tx Tx, id int64, scoreBefore int, issues []model.Issue) (bool, error)
	MarkCompleted(ctx context.Context, tx Tx, id int64, res model.PolishResult) (bool, error)
	// MarkFailed moves any non-terminal job to failed.
	MarkFailed(ctx context.Context, tx Tx, id int64, reason string, elapsed time.Duration) (bool, error)
	// MarkRefunded flips the refunded flag of a failed job exactly once.
	MarkRefunded(ctx context.Context, tx Tx, id int64) (bool, error)
	// ResetForRetry returns a failed job to pending and clears its results.
	ResetForRetry(ctx context.Context, tx Tx, id int64) (bool, error)

	ListPendingOlderThan(ctx context.Context, tx Tx, before time.Time, limit int) ([]int64, error)
	// TouchPending bumps updated_at of a job that is still pending.
	TouchPending(ctx context.Context, tx Tx, id int64) error
	ListStuck(ctx context.Context, tx Tx, before time.Time, limit int) ([]int64, error)
	ListUnrefundedFailed(ctx context.Context, tx Tx, limit int) ([]*model.Polish, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.PolishStatus]int, error)
}
