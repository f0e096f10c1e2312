// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/adapter"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/logging"
	"codepolish/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// SubscriptionView is a subscription decorated with its catalog entry.
type SubscriptionView struct {
	*model.Subscription
	PlanName  string   `json:"planName"`
	Features  []string `json:"features"`
	Price     *int     `json:"price"`
	IsActive  bool     `json:"isActive"`
	WillRenew bool     `json:"willRenew"`
}

type UsageStats struct {
	CreditsUsed        int       `json:"creditsUsed"`
	CreditsRemaining   int       `json:"creditsRemaining"`
	CreditsTotal       int       `json:"creditsTotal"`
	PolishesAllTime    int       `json:"polishesAllTime"`
	PolishesThisPeriod int       `json:"polishesThisPeriod"`
	UsagePercentage    int       `json:"usagePercentage"`
	PeriodEnd          time.Time `json:"periodEnd"`
}

// BillingURLs are the absolute return URLs handed to the checkout page.
type BillingURLs struct {
	Success string
	Cancel  string
}

type SubscriptionUseCase interface {
	Current(ctx context.Context, userID int64) (*SubscriptionView, error)
	Plans() []model.Plan
	Usage(ctx context.Context, userID int64) (*UsageStats, error)
	// Ledger returns the newest balance changes of the user first.
	Ledger(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error)
	CreateCheckoutSession(ctx context.Context, userID int64, email string, plan model.PlanID) (*adapter.CheckoutSession, error)
	Cancel(ctx context.Context, userID int64) (accessUntil time.Time, err error)
	Reactivate(ctx context.Context, userID int64) (*SubscriptionView, error)
	HandleBillingEvent(ctx context.Context, ev *adapter.BillingEvent) error
	// RollOverPeriods starts the next period of every subscription whose period ended before now.
	RollOverPeriods(ctx context.Context, now time.Time) (int, error)
}

type subscriptionUC struct {
	subs     repository.SubscriptionRepository
	ledger   repository.CreditLedger
	polishes repository.PolishRepository
	payments adapter.PaymentGateway // nil when billing is disabled
	urls     BillingURLs
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	ledger repository.CreditLedger,
	polishes repository.PolishRepository,
	payments adapter.PaymentGateway,
	urls BillingURLs,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *subscriptionUC {
	return &subscriptionUC{
		subs:     subs,
		ledger:   ledger,
		polishes: polishes,
		payments: payments,
		urls:     urls,
		tm:       tm,
		log:      logger,
	}
}

// ensureSubscription returns the user's subscription, creating the free tier on first access.
func ensureSubscription(ctx context.Context, subs repository.SubscriptionRepository, tx repository.Tx, userID int64) (*model.Subscription, error) {
	s, err := subs.FindByUserID(ctx, tx, userID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return nil, err
	}
	s = model.NewFreeSubscription(userID, time.Now())
	if err := subs.Create(ctx, tx, s); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// lost the race against a concurrent first access
			return subs.FindByUserID(ctx, tx, userID)
		}
		return nil, err
	}
	return s, nil
}

func view(s *model.Subscription, now time.Time) *SubscriptionView {
	p := model.MustPlan(s.Plan)
	return &SubscriptionView{
		Subscription: s,
		PlanName:     p.Name,
		Features:     p.Features,
		Price:        p.Price,
		IsActive:     s.IsActive(now),
		WillRenew:    s.WillRenew(),
	}
}

func (u *subscriptionUC) Current(ctx context.Context, userID int64) (*SubscriptionView, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Current")()
	s, err := ensureSubscription(ctx, u.subs, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	return view(s, time.Now()), nil
}

func (u *subscriptionUC) Plans() []model.Plan { return model.Plans() }

func (u *subscriptionUC) Usage(ctx context.Context, userID int64) (*UsageStats, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Usage")()
	s, err := ensureSubscription(ctx, u.subs, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	all, err := u.polishes.Count(ctx, repository.NoTX, model.PolishFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	since := s.PeriodStart
	period, err := u.polishes.Count(ctx, repository.NoTX, model.PolishFilter{UserID: userID, Since: &since})
	if err != nil {
		return nil, err
	}
	return &UsageStats{
		CreditsUsed:        s.CreditsUsed(),
		CreditsRemaining:   s.CreditsRemaining,
		CreditsTotal:       s.CreditsTotal,
		PolishesAllTime:    all,
		PolishesThisPeriod: period,
		UsagePercentage:    s.UsagePercentage(),
		PeriodEnd:          s.PeriodEnd,
	}, nil
}

func (u *subscriptionUC) Ledger(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Ledger")()
	if limit < 1 || limit > MaxListLimit {
		return nil, domain.Invalid("limit must be between 1 and %d", MaxListLimit)
	}
	entries, err := u.ledger.ListByUser(ctx, repository.NoTX, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*model.LedgerEntry{}
	}
	return entries, nil
}

func (u *subscriptionUC) CreateCheckoutSession(ctx context.Context, userID int64, email string, planID model.PlanID) (*adapter.CheckoutSession, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.CreateCheckoutSession")()

	plan, err := model.LookupPlan(planID)
	if err != nil {
		return nil, err
	}
	if !plan.SelfServe() {
		if plan.ID == model.PlanEnterprise {
			return nil, domain.Invalid("contact sales for the enterprise plan")
		}
		return nil, domain.Invalid("cannot check out the %s plan", plan.ID)
	}
	if u.payments == nil {
		return nil, domain.ErrBillingDisabled
	}

	s, err := ensureSubscription(ctx, u.subs, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	if s.Plan != model.PlanFree && s.Status == model.SubscriptionStatusActive && s.StripeSubscriptionID != nil {
		return nil, fmt.Errorf("%w: already subscribed to the %s plan", domain.ErrInvalidState, s.Plan)
	}
	existing := ""
	if s.StripeCustomerID != nil {
		existing = *s.StripeCustomerID
	}
	customerID, err := u.payments.EnsureCustomer(ctx, userID, email, existing)
	if err != nil {
		return nil, fmt.Errorf("ensure customer: %w", err)
	}
	if customerID != existing {
		// s is stale after the provider call; only the customer id is written
		if err := u.subs.SetStripeCustomerID(ctx, repository.NoTX, userID, customerID); err != nil {
			return nil, err
		}
	}

	return u.payments.CreateCheckoutSession(ctx, adapter.CheckoutRequest{
		UserID:     userID,
		Email:      email,
		CustomerID: customerID,
		Plan:       plan.ID,
		SuccessURL: u.urls.Success,
		CancelURL:  u.urls.Cancel,
	})
}

func (u *subscriptionUC) Cancel(ctx context.Context, userID int64) (time.Time, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Cancel")()

	var accessUntil time.Time
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.subs.FindByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if s.Plan == model.PlanFree {
			return domain.Invalid("cannot cancel the free plan")
		}
		if s.Status != model.SubscriptionStatusActive {
			return fmt.Errorf("%w: subscription is %s", domain.ErrInvalidState, s.Status)
		}
		if s.StripeSubscriptionID != nil && u.payments != nil {
			if err := u.payments.CancelAtPeriodEnd(ctx, *s.StripeSubscriptionID); err != nil {
				return fmt.Errorf("cancel at provider: %w", err)
			}
		}
		s.Status = model.SubscriptionStatusCancelled
		s.UpdatedAt = time.Now()
		accessUntil = s.PeriodEnd
		return u.subs.Update(ctx, tx, s)
	})
	return accessUntil, err
}

func (u *subscriptionUC) Reactivate(ctx context.Context, userID int64) (*SubscriptionView, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Reactivate")()

	var out *model.Subscription
	now := time.Now()
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.subs.FindByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if s.Status != model.SubscriptionStatusCancelled {
			return domain.Invalid("subscription is not cancelled")
		}
		if now.After(s.PeriodEnd) {
			return fmt.Errorf("%w: billing period has ended, start a new subscription", domain.ErrInvalidState)
		}
		if s.StripeSubscriptionID != nil && u.payments != nil {
			if err := u.payments.Resume(ctx, *s.StripeSubscriptionID); err != nil {
				return fmt.Errorf("resume at provider: %w", err)
			}
		}
		s.Status = model.SubscriptionStatusActive
		s.UpdatedAt = now
		out = s
		return u.subs.Update(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	return view(out, now), nil
}

func (u *subscriptionUC) HandleBillingEvent(ctx context.Context, ev *adapter.BillingEvent) error {
	defer logging.TraceDuration(u.log, "SubscriptionUC.HandleBillingEvent")()

	log := u.log.With().Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Logger()
	if ev.Type == adapter.BillingIgnored {
		metrics.IncBillingEvent(string(ev.Type), "ignored")
		return nil
	}

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.findForEvent(ctx, tx, ev)
		if err != nil {
			return err
		}
		now := time.Now()
		switch ev.Type {
		case adapter.BillingCheckoutCompleted:
			return u.applyCheckout(ctx, tx, s, ev, now)
		case adapter.BillingSubscriptionRenewed:
			if staleSubscription(s, ev) {
				log.Warn().Str("subscription_id", ev.SubscriptionID).Msg("event for a replaced subscription skipped")
				return nil
			}
			// the first invoice is paid together with the checkout
			if s.Plan == model.PlanFree || now.Sub(s.PeriodStart) < 24*time.Hour {
				return nil
			}
			s.Status = model.SubscriptionStatusActive
			s.RollPeriod(now)
			if err := u.subs.Update(ctx, tx, s); err != nil {
				return err
			}
			return u.ledger.Record(ctx, tx, &model.LedgerEntry{UserID: s.UserID, EntryType: model.LedgerReset, Amount: s.CreditsTotal, BalanceAfter: s.CreditsRemaining})
		case adapter.BillingSubscriptionCancelled:
			if staleSubscription(s, ev) {
				log.Warn().Str("subscription_id", ev.SubscriptionID).Msg("event for a replaced subscription skipped")
				return nil
			}
			if s.Status != model.SubscriptionStatusActive || s.Plan == model.PlanFree {
				return nil
			}
			s.Status = model.SubscriptionStatusCancelled
			s.UpdatedAt = now
			return u.subs.Update(ctx, tx, s)
		case adapter.BillingSubscriptionDeleted:
			if staleSubscription(s, ev) {
				log.Warn().Str("subscription_id", ev.SubscriptionID).Msg("event for a replaced subscription skipped")
				return nil
			}
			if s.Plan == model.PlanFree {
				return nil
			}
			if now.After(s.PeriodEnd) {
				return u.downgrade(ctx, tx, s, now)
			}
			// keep paid access until the period ends; the period roller downgrades then
			s.Status = model.SubscriptionStatusCancelled
			s.StripeSubscriptionID = nil
			s.UpdatedAt = now
			return u.subs.Update(ctx, tx, s)
		}
		return nil
	})
	if err != nil {
		metrics.IncBillingEvent(string(ev.Type), "error")
		log.Error().Err(err).Msg("billing event failed")
		return err
	}
	metrics.IncBillingEvent(string(ev.Type), "ok")
	log.Info().Int64("user_id", ev.UserID).Msg("billing event applied")
	return nil
}

// staleSubscription reports whether ev names a provider subscription other
// than the one currently stored for the user.
func staleSubscription(s *model.Subscription, ev *adapter.BillingEvent) bool {
	if ev.SubscriptionID == "" {
		return false
	}
	return s.StripeSubscriptionID == nil || *s.StripeSubscriptionID != ev.SubscriptionID
}

func (u *subscriptionUC) findForEvent(ctx context.Context, tx repository.Tx, ev *adapter.BillingEvent) (*model.Subscription, error) {
	if ev.UserID > 0 {
		if _, err := ensureSubscription(ctx, u.subs, tx, ev.UserID); err != nil {
			return nil, err
		}
		return u.subs.FindByUserIDForUpdate(ctx, tx, ev.UserID)
	}
	if ev.CustomerID == "" {
		return nil, domain.Invalid("billing event carries neither user nor customer")
	}
	s, err := u.subs.FindByStripeCustomerID(ctx, tx, ev.CustomerID)
	if err != nil {
		return nil, err
	}
	ev.UserID = s.UserID
	return u.subs.FindByUserIDForUpdate(ctx, tx, s.UserID)
}

func (u *subscriptionUC) applyCheckout(ctx context.Context, tx repository.Tx, s *model.Subscription, ev *adapter.BillingEvent, now time.Time) error {
	plan, err := model.LookupPlan(ev.Plan)
	if err != nil {
		return err
	}
	if ev.SubscriptionID != "" && s.StripeSubscriptionID != nil && *s.StripeSubscriptionID == ev.SubscriptionID && s.Plan == plan.ID {
		// redelivered webhook
		return nil
	}
	s.ApplyPlan(plan, now)
	if ev.CustomerID != "" {
		c := ev.CustomerID
		s.StripeCustomerID = &c
	}
	if ev.SubscriptionID != "" {
		sid := ev.SubscriptionID
		s.StripeSubscriptionID = &sid
	}
	if err := u.subs.Update(ctx, tx, s); err != nil {
		return err
	}
	return u.ledger.Record(ctx, tx, &model.LedgerEntry{UserID: s.UserID, EntryType: model.LedgerGrant, Amount: plan.Credits, BalanceAfter: s.CreditsRemaining})
}

func (u *subscriptionUC) downgrade(ctx context.Context, tx repository.Tx, s *model.Subscription, now time.Time) error {
	s.Downgrade(now)
	if err := u.subs.Update(ctx, tx, s); err != nil {
		return err
	}
	return u.ledger.Record(ctx, tx, &model.LedgerEntry{UserID: s.UserID, EntryType: model.LedgerReset, Amount: s.CreditsTotal, BalanceAfter: s.CreditsRemaining})
}

const rollBatch = 100

func (u *subscriptionUC) RollOverPeriods(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.RollOverPeriods")()

	ids, err := u.subs.ListPeriodEnded(ctx, repository.NoTX, now, rollBatch)
	if err != nil {
		return 0, err
	}
	rolled := 0
	for _, userID := range ids {
		var outcome string
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			s, err := u.subs.FindByUserIDForUpdate(ctx, tx, userID)
			if err != nil {
				return err
			}
			if !now.After(s.PeriodEnd) {
				// renewed by a webhook in the meantime
				outcome = "skipped"
				return nil
			}
			if s.Status != model.SubscriptionStatusActive {
				outcome = "downgraded"
				return u.downgrade(ctx, tx, s, now)
			}
			outcome = "renewed"
			s.RollPeriod(now)
			if err := u.subs.Update(ctx, tx, s); err != nil {
				return err
			}
			return u.ledger.Record(ctx, tx, &model.LedgerEntry{UserID: s.UserID, EntryType: model.LedgerReset, Amount: s.CreditsTotal, BalanceAfter: s.CreditsRemaining})
		})
		if err != nil {
			u.log.Error().Err(err).Int64("user_id", userID).Msg("roll period failed")
			metrics.IncSubscriptionsRolled("error", 1)
			continue
		}
		metrics.IncSubscriptionsRolled(outcome, 1)
		if outcome != "skipped" {
			rolled++
		}
	}
	return rolled, nil
}
