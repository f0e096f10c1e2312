package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Subscription is the per-user credit balance and billing state.
// CreditsRemaining stays within 0..CreditsTotal; the storage layer enforces it.
type Subscription struct {
	ID                   int64              `json:"id"`
	UserID               int64              `json:"userId"`
	Plan                 PlanID             `json:"plan"`
	Status               SubscriptionStatus `json:"status"`
	CreditsRemaining     int                `json:"creditsRemaining"`
	CreditsTotal         int                `json:"creditsTotal"`
	StripeCustomerID     *string            `json:"stripeCustomerId"`
	StripeSubscriptionID *string            `json:"stripeSubscriptionId"`
	PeriodStart          time.Time          `json:"periodStart"`
	PeriodEnd            time.Time          `json:"periodEnd"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// NewFreeSubscription is what a user gets on first access.
func NewFreeSubscription(userID int64, now time.Time) *Subscription {
	free := MustPlan(PlanFree)
	return &Subscription{
		UserID:           userID,
		Plan:             PlanFree,
		Status:           SubscriptionStatusActive,
		CreditsRemaining: free.Credits,
		CreditsTotal:     free.Credits,
		PeriodStart:      now,
		PeriodEnd:        now.Add(BillingPeriod),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *Subscription) IsZero() bool { return s == nil || s.ID == 0 }

// IsActive means the holder can still spend credits at now.
func (s *Subscription) IsActive(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive:
		return true
	case SubscriptionStatusCancelled:
		return !now.After(s.PeriodEnd)
	}
	return false
}

func (s *Subscription) WillRenew() bool {
	return s.Status == SubscriptionStatusActive && s.Plan != PlanFree
}

func (s *Subscription) CreditsUsed() int {
	used := s.CreditsTotal - s.CreditsRemaining
	if used < 0 {
		return 0
	}
	return used
}

// UsagePercentage is the share of the period allotment already consumed, rounded down.
func (s *Subscription) UsagePercentage() int {
	if s.CreditsTotal <= 0 {
		return 0
	}
	return s.CreditsUsed() * 100 / s.CreditsTotal
}

// ApplyPlan switches to plan p, carrying unspent credits over and starting a new period.
func (s *Subscription) ApplyPlan(p Plan, now time.Time) {
	credits := p.Credits + s.CreditsRemaining
	if credits > UnlimitedCredits {
		credits = UnlimitedCredits
	}
	s.Plan = p.ID
	s.Status = SubscriptionStatusActive
	s.CreditsRemaining = credits
	s.CreditsTotal = credits
	s.PeriodStart = now
	s.PeriodEnd = now.Add(BillingPeriod)
	s.UpdatedAt = now
}

// RollPeriod starts the next billing period with a full allotment of the current plan.
func (s *Subscription) RollPeriod(now time.Time) {
	p := MustPlan(s.Plan)
	s.CreditsRemaining = p.Credits
	s.CreditsTotal = p.Credits
	s.PeriodStart = now
	s.PeriodEnd = now.Add(BillingPeriod)
	s.UpdatedAt = now
}

// Downgrade drops a lapsed paid subscription back to the free tier.
func (s *Subscription) Downgrade(now time.Time) {
	free := MustPlan(PlanFree)
	s.Plan = PlanFree
	s.Status = SubscriptionStatusActive
	s.StripeSubscriptionID = nil
	s.CreditsRemaining = free.Credits
	s.CreditsTotal = free.Credits
	s.PeriodStart = now
	s.PeriodEnd = now.Add(BillingPeriod)
	s.UpdatedAt = now
}
