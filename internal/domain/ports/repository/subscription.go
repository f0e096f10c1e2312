package repository

import (
	"context"
	"time"

	"codepolish/internal/domain/model"
)

// SubscriptionRepository is the port for per-user subscriptions. Balance
// changes go through CreditLedger; Update never touches credits_remaining
// outside of plan changes.
type SubscriptionRepository interface {
	// Create inserts s unless the user already has a row. Returns ErrAlreadyExists then.
	Create(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByUserID(ctx context.Context, tx Tx, userID int64) (*model.Subscription, error)
	FindByUserIDForUpdate(ctx context.Context, tx Tx, userID int64) (*model.Subscription, error)
	FindByStripeCustomerID(ctx context.Context, tx Tx, customerID string) (*model.Subscription, error)
	Update(ctx context.Context, tx Tx, s *model.Subscription) error
	// SetStripeCustomerID writes only the provider customer id.
	SetStripeCustomerID(ctx context.Context, tx Tx, userID int64, customerID string) error
	// ListPeriodEnded returns user ids whose billing period ended before now.
	ListPeriodEnded(ctx context.Context, tx Tx, now time.Time, limit int) ([]int64, error)
	CountByPlan(ctx context.Context, tx Tx) (map[model.PlanID]int, error)
}
