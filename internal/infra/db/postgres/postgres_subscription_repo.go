package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subColumns = `id, user_id, plan, status, credits_remaining, credits_total,
       stripe_customer_id, stripe_subscription_id, period_start, period_end, created_at, updated_at`

func (r *subscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (user_id, plan, status, credits_remaining, credits_total, period_start, period_end)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id) DO NOTHING
RETURNING id, created_at, updated_at;`
	row, err := pickRow(ctx, r.pool, tx, q, s.UserID, s.Plan, s.Status, s.CreditsRemaining, s.CreditsTotal, s.PeriodStart, s.PeriodEnd)
	if err != nil {
		return err
	}
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		err = translate(err)
		if err == domain.ErrNotFound {
			// ON CONFLICT DO NOTHING returned no row
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *subscriptionRepo) FindByUserID(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	const q = `SELECT ` + subColumns + ` FROM subscriptions WHERE user_id=$1;`
	return r.queryOne(ctx, tx, q, userID)
}

func (r *subscriptionRepo) FindByUserIDForUpdate(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	const q = `SELECT ` + subColumns + ` FROM subscriptions WHERE user_id=$1 FOR UPDATE;`
	return r.queryOne(ctx, tx, q, userID)
}

func (r *subscriptionRepo) FindByStripeCustomerID(ctx context.Context, tx repository.Tx, customerID string) (*model.Subscription, error) {
	const q = `SELECT ` + subColumns + ` FROM subscriptions WHERE stripe_customer_id=$1;`
	return r.queryOne(ctx, tx, q, customerID)
}

func (r *subscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
UPDATE subscriptions SET
  plan=$2, status=$3, credits_remaining=$4, credits_total=$5,
  stripe_customer_id=$6, stripe_subscription_id=$7, period_start=$8, period_end=$9, updated_at=NOW()
WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, s.ID, s.Plan, s.Status, s.CreditsRemaining, s.CreditsTotal,
		s.StripeCustomerID, s.StripeSubscriptionID, s.PeriodStart, s.PeriodEnd)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func (r *subscriptionRepo) SetStripeCustomerID(ctx context.Context, tx repository.Tx, userID int64, customerID string) error {
	const q = `UPDATE subscriptions SET stripe_customer_id=$2, updated_at=NOW() WHERE user_id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, customerID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func (r *subscriptionRepo) ListPeriodEnded(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]int64, error) {
	const q = `SELECT user_id FROM subscriptions WHERE period_end < $1 ORDER BY period_end ASC LIMIT $2;`
	return collectIDs(ctx, r.pool, tx, q, now, limit)
}

func (r *subscriptionRepo) CountByPlan(ctx context.Context, tx repository.Tx) (map[model.PlanID]int, error) {
	const q = `SELECT plan, COUNT(*) FROM subscriptions GROUP BY plan;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	counts := make(map[model.PlanID]int)
	for rows.Next() {
		var plan model.PlanID
		var n int
		if err := rows.Scan(&plan, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[plan] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSub(row)
	if err != nil {
		err = translate(err)
		if err == domain.ErrNotFound {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return s, nil
}

func scanSub(row scanner) (*model.Subscription, error) {
	var s model.Subscription
	if err := row.Scan(&s.ID, &s.UserID, &s.Plan, &s.Status, &s.CreditsRemaining, &s.CreditsTotal,
		&s.StripeCustomerID, &s.StripeSubscriptionID, &s.PeriodStart, &s.PeriodEnd, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func collectIDs(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) ([]int64, error) {
	rows, err := queryRows(ctx, pool, tx, q, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
