package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"codepolish/internal/domain"
	"codepolish/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for local development and tests.
// Checkout redirects straight to the success URL and webhooks are unsigned
// JSON-encoded adapter.BillingEvent values.
type NoopPaymentGateway struct {
	mu        sync.Mutex
	seq       int64
	customers map[int64]string
	cancelled map[string]bool
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{
		customers: make(map[int64]string),
		cancelled: make(map[string]bool),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_noop_%d", prefix, g.seq)
}

func (g *NoopPaymentGateway) EnsureCustomer(_ context.Context, userID int64, _ string, existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.customers[userID]; ok {
		return id, nil
	}
	id := g.next("cus")
	g.customers[userID] = id
	return id, nil
}

func (g *NoopPaymentGateway) CreateCheckoutSession(_ context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &adapter.CheckoutSession{ID: g.next("cs"), URL: req.SuccessURL}, nil
}

func (g *NoopPaymentGateway) CancelAtPeriodEnd(_ context.Context, subscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled[subscriptionID] = true
	return nil
}

func (g *NoopPaymentGateway) Resume(_ context.Context, subscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cancelled, subscriptionID)
	return nil
}

// Cancelled reports whether subscriptionID is set to cancel at period end.
func (g *NoopPaymentGateway) Cancelled(subscriptionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled[subscriptionID]
}

func (g *NoopPaymentGateway) ParseWebhook(payload []byte, _ string) (*adapter.BillingEvent, error) {
	var ev adapter.BillingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: billing event: %v", domain.ErrInvalidArgument, err)
	}
	if ev.Type == "" {
		ev.Type = adapter.BillingIgnored
	}
	return &ev, nil
}
