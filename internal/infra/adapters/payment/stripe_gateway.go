package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/adapter"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

const (
	metaUserID = "user_id"
	metaPlan   = "plan"
)

// StripeGateway implements adapter.PaymentGateway with Stripe Checkout and
// subscription webhooks.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
	prices        map[model.PlanID]string
}

// NewStripeGateway builds a gateway. backends may be nil to talk to the live API.
func NewStripeGateway(secretKey, webhookSecret string, prices map[string]string, backends *stripe.Backends) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key empty")
	}
	if webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret empty")
	}
	byPlan := make(map[model.PlanID]string, len(prices))
	for plan, price := range prices {
		if _, err := model.LookupPlan(model.PlanID(plan)); err != nil {
			return nil, fmt.Errorf("price for unknown plan %q", plan)
		}
		byPlan[model.PlanID(plan)] = price
	}
	return &StripeGateway{
		sc:            client.New(secretKey, backends),
		webhookSecret: webhookSecret,
		prices:        byPlan,
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) EnsureCustomer(ctx context.Context, userID int64, email, existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	params := &stripe.CustomerParams{
		Metadata: map[string]string{metaUserID: strconv.FormatInt(userID, 10)},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	cust, err := g.sc.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}
	return cust.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	price, ok := g.prices[req.Plan]
	if !ok || price == "" {
		return nil, fmt.Errorf("%w: no price configured for plan %s", domain.ErrBillingDisabled, req.Plan)
	}
	uid := strconv.FormatInt(req.UserID, 10)
	meta := map[string]string{metaUserID: uid, metaPlan: string(req.Plan)}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(uid),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		SuccessURL:       stripe.String(req.SuccessURL),
		CancelURL:        stripe.String(req.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta},
	}
	params.Metadata = meta
	params.Context = ctx

	sess, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &adapter.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	return g.setCancelAtPeriodEnd(ctx, subscriptionID, true)
}

func (g *StripeGateway) Resume(ctx context.Context, subscriptionID string) error {
	return g.setCancelAtPeriodEnd(ctx, subscriptionID, false)
}

func (g *StripeGateway) setCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx
	if _, err := g.sc.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("stripe: update subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*adapter.BillingEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: stripe signature: %v", domain.ErrInvalidArgument, err)
	}
	return toBillingEvent(event)
}

func toBillingEvent(event stripe.Event) (*adapter.BillingEvent, error) {
	ev := &adapter.BillingEvent{ID: event.ID, Type: adapter.BillingIgnored}
	if event.Data == nil {
		return ev, nil
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: checkout session payload: %v", domain.ErrInvalidArgument, err)
		}
		if sess.Mode != stripe.CheckoutSessionModeSubscription {
			return ev, nil
		}
		ev.Type = adapter.BillingCheckoutCompleted
		ev.UserID = parseUserID(sess.ClientReferenceID, sess.Metadata)
		ev.Plan = model.PlanID(sess.Metadata[metaPlan])
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}
		if _, err := model.LookupPlan(ev.Plan); err != nil {
			return nil, fmt.Errorf("%w: checkout session %s has no plan", domain.ErrInvalidArgument, sess.ID)
		}

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice payload: %v", domain.ErrInvalidArgument, err)
		}
		if inv.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
			return ev, nil
		}
		ev.Type = adapter.BillingSubscriptionRenewed
		if inv.SubscriptionDetails != nil {
			ev.UserID = parseUserID("", inv.SubscriptionDetails.Metadata)
			ev.Plan = model.PlanID(inv.SubscriptionDetails.Metadata[metaPlan])
		}
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			ev.SubscriptionID = inv.Subscription.ID
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription payload: %v", domain.ErrInvalidArgument, err)
		}
		switch {
		case event.Type == "customer.subscription.deleted":
			ev.Type = adapter.BillingSubscriptionDeleted
		case sub.CancelAtPeriodEnd:
			ev.Type = adapter.BillingSubscriptionCancelled
		default:
			return ev, nil
		}
		ev.SubscriptionID = sub.ID
		ev.UserID = parseUserID("", sub.Metadata)
		ev.Plan = model.PlanID(sub.Metadata[metaPlan])
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
	}
	return ev, nil
}

func parseUserID(ref string, meta map[string]string) int64 {
	if ref == "" {
		ref = meta[metaUserID]
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
