package adapter

import (
	"context"

	"codepolish/internal/domain/model"
)

// CheckoutRequest describes a hosted checkout for a paid plan.
type CheckoutRequest struct {
	UserID     int64
	Email      string
	CustomerID string
	Plan       model.PlanID
	SuccessURL string
	CancelURL  string
}

type BillingEventType string

const (
	BillingCheckoutCompleted     BillingEventType = "checkout_completed"
	BillingSubscriptionRenewed   BillingEventType = "subscription_renewed"
	BillingSubscriptionCancelled BillingEventType = "subscription_cancelled"
	BillingSubscriptionDeleted   BillingEventType = "subscription_deleted"
	BillingIgnored               BillingEventType = "ignored"
)

// CheckoutSession is a hosted payment page the client is redirected to.
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// BillingEvent is a provider webhook reduced to what the subscription use case needs.
type BillingEvent struct {
	ID             string
	Type           BillingEventType
	UserID         int64
	CustomerID     string
	SubscriptionID string
	Plan           model.PlanID
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() string
	// EnsureCustomer returns the provider customer id for a user, creating one if needed.
	EnsureCustomer(ctx context.Context, userID int64, email, existing string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
	Resume(ctx context.Context, subscriptionID string) error
	// ParseWebhook verifies the signature and decodes the payload.
	ParseWebhook(payload []byte, signature string) (*BillingEvent, error)
}
