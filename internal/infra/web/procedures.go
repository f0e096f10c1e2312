package web

import (
	"context"
	"errors"
	"time"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/infra/ratelimit"
	"codepolish/internal/usecase"
)

func (s *Server) procedures() map[string]procedure {
	return map[string]procedure{
		"auth.me":     {kind: query, class: ratelimit.ClassQuery, run: s.authMe},
		"auth.logout": {kind: mutation, class: ratelimit.ClassMutation, run: s.authLogout},

		"polish.create": {kind: mutation, class: ratelimit.ClassPolish, auth: true, run: s.polishCreate},
		"polish.get":    {kind: query, class: ratelimit.ClassQuery, auth: true, run: s.polishGet},
		"polish.list":   {kind: query, class: ratelimit.ClassQuery, auth: true, run: s.polishList},
		"polish.delete": {kind: mutation, class: ratelimit.ClassMutation, auth: true, run: s.polishDelete},
		"polish.retry":  {kind: mutation, class: ratelimit.ClassPolish, auth: true, run: s.polishRetry},

		"subscription.current":               {kind: query, class: ratelimit.ClassQuery, auth: true, run: s.subscriptionCurrent},
		"subscription.plans":                 {kind: query, class: ratelimit.ClassQuery, run: s.subscriptionPlans},
		"subscription.usage":                 {kind: query, class: ratelimit.ClassQuery, auth: true, run: s.subscriptionUsage},
		"subscription.ledger":                {kind: query, class: ratelimit.ClassQuery, auth: true, run: s.subscriptionLedger},
		"subscription.createCheckoutSession": {kind: mutation, class: ratelimit.ClassMutation, auth: true, run: s.subscriptionCheckout},
		"subscription.cancel":                {kind: mutation, class: ratelimit.ClassMutation, auth: true, run: s.subscriptionCancel},
		"subscription.reactivate":            {kind: mutation, class: ratelimit.ClassMutation, auth: true, run: s.subscriptionReactivate},

		"apiKey.create": {kind: mutation, class: ratelimit.ClassMutation, auth: true, run: s.apiKeyCreate},
		"apiKey.list":   {kind: query, class: ratelimit.ClassQuery, auth: true, run: s.apiKeyList},
		"apiKey.revoke": {kind: mutation, class: ratelimit.ClassMutation, auth: true, run: s.apiKeyRevoke},

		"preferences.get":    {kind: query, class: ratelimit.ClassQuery, auth: true, run: s.preferencesGet},
		"preferences.update": {kind: mutation, class: ratelimit.ClassMutation, auth: true, run: s.preferencesUpdate},
	}
}

// ---- auth ----

func (s *Server) authMe(ctx context.Context, c *call) (any, error) {
	if c.userID == 0 {
		return nil, nil
	}
	u, err := s.deps.Users.GetByID(ctx, c.userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func (s *Server) authLogout(_ context.Context, c *call) (any, error) {
	s.deps.Auth.Clear(c.w)
	return success, nil
}

// ---- polish ----

type polishIDInput struct {
	PolishID int64 `json:"polishId"`
}

func (c *call) polishID() (int64, error) {
	var in polishIDInput
	if err := c.bind(&in); err != nil {
		return 0, err
	}
	if in.PolishID <= 0 {
		return 0, domain.Invalid("polishId is required")
	}
	return in.PolishID, nil
}

type polishCreateInput struct {
	Name         string          `json:"name"`
	Framework    model.Framework `json:"framework"`
	OriginalCode string          `json:"originalCode"`
	Preset       model.Preset    `json:"preset"`
	Rules        *model.Rules    `json:"rules"`
}

func (s *Server) polishCreate(ctx context.Context, c *call) (any, error) {
	var in polishCreateInput
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	return s.deps.Polishes.Create(ctx, c.userID, usecase.CreatePolishInput{
		Name:         in.Name,
		Framework:    in.Framework,
		OriginalCode: in.OriginalCode,
		Preset:       in.Preset,
		Rules:        in.Rules,
	})
}

func (s *Server) polishGet(ctx context.Context, c *call) (any, error) {
	id, err := c.polishID()
	if err != nil {
		return nil, err
	}
	return s.deps.Polishes.Get(ctx, c.userID, id)
}

type polishListInput struct {
	Limit  *int               `json:"limit"` // absent means DefaultListLimit
	Offset int                `json:"offset"`
	Status model.PolishStatus `json:"status"`
}

func (s *Server) polishList(ctx context.Context, c *call) (any, error) {
	var in polishListInput
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	limit := usecase.DefaultListLimit
	if in.Limit != nil {
		limit = *in.Limit
	}
	if limit < 1 || limit > usecase.MaxListLimit {
		return nil, domain.Invalid("limit must be between 1 and %d", usecase.MaxListLimit)
	}
	return s.deps.Polishes.List(ctx, c.userID, limit, in.Offset, in.Status)
}

func (s *Server) polishDelete(ctx context.Context, c *call) (any, error) {
	id, err := c.polishID()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Polishes.Delete(ctx, c.userID, id); err != nil {
		return nil, err
	}
	return success, nil
}

func (s *Server) polishRetry(ctx context.Context, c *call) (any, error) {
	id, err := c.polishID()
	if err != nil {
		return nil, err
	}
	return s.deps.Polishes.Retry(ctx, c.userID, id)
}

// ---- subscription ----

func (s *Server) subscriptionCurrent(ctx context.Context, c *call) (any, error) {
	return s.deps.Subs.Current(ctx, c.userID)
}

func (s *Server) subscriptionPlans(context.Context, *call) (any, error) {
	return s.deps.Subs.Plans(), nil
}

func (s *Server) subscriptionUsage(ctx context.Context, c *call) (any, error) {
	return s.deps.Subs.Usage(ctx, c.userID)
}

type ledgerInput struct {
	Limit *int `json:"limit"`
}

func (s *Server) subscriptionLedger(ctx context.Context, c *call) (any, error) {
	var in ledgerInput
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	limit := usecase.DefaultListLimit
	if in.Limit != nil {
		limit = *in.Limit
	}
	return s.deps.Subs.Ledger(ctx, c.userID, limit)
}

type checkoutInput struct {
	Plan model.PlanID `json:"plan"`
}

func (s *Server) subscriptionCheckout(ctx context.Context, c *call) (any, error) {
	var in checkoutInput
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	u, err := s.deps.Users.GetByID(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	return s.deps.Subs.CreateCheckoutSession(ctx, c.userID, u.Email, in.Plan)
}

type cancelResult struct {
	Success     bool      `json:"success"`
	AccessUntil time.Time `json:"accessUntil"`
}

func (s *Server) subscriptionCancel(ctx context.Context, c *call) (any, error) {
	until, err := s.deps.Subs.Cancel(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	return cancelResult{Success: true, AccessUntil: until}, nil
}

func (s *Server) subscriptionReactivate(ctx context.Context, c *call) (any, error) {
	return s.deps.Subs.Reactivate(ctx, c.userID)
}

// ---- api keys ----

type apiKeyCreateInput struct {
	Name          string `json:"name"`
	ExpiresInDays *int   `json:"expiresInDays"`
}

type apiKeyCreated struct {
	*model.APIKey
	Secret string `json:"secret"`
}

func (s *Server) apiKeyCreate(ctx context.Context, c *call) (any, error) {
	var in apiKeyCreateInput
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	key, secret, err := s.deps.APIKeys.Create(ctx, c.userID, in.Name, in.ExpiresInDays)
	if err != nil {
		return nil, err
	}
	return apiKeyCreated{APIKey: key, Secret: secret}, nil
}

func (s *Server) apiKeyList(ctx context.Context, c *call) (any, error) {
	return s.deps.APIKeys.List(ctx, c.userID)
}

type apiKeyIDInput struct {
	KeyID int64 `json:"keyId"`
}

func (s *Server) apiKeyRevoke(ctx context.Context, c *call) (any, error) {
	var in apiKeyIDInput
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if in.KeyID <= 0 {
		return nil, domain.Invalid("keyId is required")
	}
	if err := s.deps.APIKeys.Revoke(ctx, c.userID, in.KeyID); err != nil {
		return nil, err
	}
	return success, nil
}

// ---- preferences ----

func (s *Server) preferencesGet(ctx context.Context, c *call) (any, error) {
	return s.deps.Prefs.Get(ctx, c.userID)
}

func (s *Server) preferencesUpdate(ctx context.Context, c *call) (any, error) {
	var patch usecase.PreferencesPatch
	if err := c.bind(&patch); err != nil {
		return nil, err
	}
	return s.deps.Prefs.Update(ctx, c.userID, patch)
}
