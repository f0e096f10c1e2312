//go:build !integration

package usecase_test

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/adapter"
	"codepolish/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

// memStore backs every fake repository. MemTxManager snapshots it so a
// failing transaction leaves no trace, like the real database.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*model.User
	polishes map[int64]*model.Polish
	subs     map[int64]*model.Subscription // by user id
	ledger   []*model.LedgerEntry
	keys     map[int64]*model.APIKey
	prefs    map[int64]*model.Preferences

	refundErr error // returned once by the next Refund
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[int64]*model.User{},
		polishes: map[int64]*model.Polish{},
		subs:     map[int64]*model.Subscription{},
		keys:     map[int64]*model.APIKey{},
		prefs:    map[int64]*model.Preferences{},
	}
}

func (s *memStore) id() int64 { s.nextID++; return s.nextID }

// memState is the gob-encoded snapshot of a memStore.
type memState struct {
	NextID   int64
	Users    map[int64]*model.User
	Polishes map[int64]*model.Polish
	Subs     map[int64]*model.Subscription
	Ledger   []*model.LedgerEntry
	Keys     map[int64]*model.APIKey
	Prefs    map[int64]*model.Preferences
}

func (s *memStore) snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b bytes.Buffer
	st := memState{s.nextID, s.users, s.polishes, s.subs, s.ledger, s.keys, s.prefs}
	if err := gob.NewEncoder(&b).Encode(st); err != nil {
		panic(err)
	}
	return b.Bytes()
}

func (s *memStore) restore(sn []byte) {
	var st memState
	if err := gob.NewDecoder(bytes.NewReader(sn)).Decode(&st); err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID, s.ledger = st.NextID, st.Ledger
	s.users, s.polishes, s.subs = orEmpty(st.Users), orEmpty(st.Polishes), orEmpty(st.Subs)
	s.keys, s.prefs = orEmpty(st.Keys), orEmpty(st.Prefs)
}

func orEmpty[V any](m map[int64]V) map[int64]V {
	if m == nil {
		return map[int64]V{}
	}
	return m
}

// --- TxManager ---

type MemTxManager struct{ store *memStore }

func (m *MemTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	sn := m.store.snapshot()
	if err := fn(ctx, nil); err != nil {
		m.store.restore(sn)
		return err
	}
	return nil
}

// --- Polishes ---

type memPolishes struct{ s *memStore }

var _ repository.PolishRepository = (*memPolishes)(nil)

func clonePolish(p *model.Polish) *model.Polish {
	cp := *p
	cp.IssuesFound = append([]model.Issue(nil), p.IssuesFound...)
	return &cp
}

func (r *memPolishes) Create(_ context.Context, _ repository.Tx, p *model.Polish) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = r.s.id()
	r.s.polishes[p.ID] = clonePolish(p)
	return nil
}

func (r *memPolishes) FindByID(_ context.Context, _ repository.Tx, id int64) (*model.Polish, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.polishes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePolish(p), nil
}

func (r *memPolishes) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id int64) (*model.Polish, error) {
	return r.FindByID(ctx, tx, id)
}

func (r *memPolishes) filtered(f model.PolishFilter) []*model.Polish {
	var out []*model.Polish
	for _, p := range r.s.polishes {
		if p.UserID != f.UserID || (f.Status != "" && p.Status != f.Status) || (f.Since != nil && p.CreatedAt.Before(*f.Since)) {
			continue
		}
		out = append(out, clonePolish(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *memPolishes) List(_ context.Context, _ repository.Tx, f model.PolishFilter) ([]*model.Polish, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.filtered(f)
	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

func (r *memPolishes) Count(_ context.Context, _ repository.Tx, f model.PolishFilter) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.filtered(f)), nil
}

func (r *memPolishes) Delete(_ context.Context, _ repository.Tx, id, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.polishes[id]
	if !ok || p.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.s.polishes, id)
	return nil
}

// cas applies fn when the job is in one of from.
func (r *memPolishes) cas(id int64, from []model.PolishStatus, fn func(p *model.Polish) bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.polishes[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if p.Status == st {
			if fn != nil && !fn(p) {
				return false, nil
			}
			p.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r *memPolishes) ClaimPending(_ context.Context, _ repository.Tx, id int64) (bool, error) {
	return r.cas(id, []model.PolishStatus{model.PolishStatusPending}, func(p *model.Polish) bool {
		p.Status = model.PolishStatusAnalyzing
		return true
	})
}

func (r *memPolishes) MarkPolishing(_ context.Context, _ repository.Tx, id int64, score int, issues []model.Issue) (bool, error) {
	return r.cas(id, []model.PolishStatus{model.PolishStatusAnalyzing}, func(p *model.Polish) bool {
		p.Status = model.PolishStatusPolishing
		p.QualityScoreBefore = &score
		p.IssuesFound = issues
		return true
	})
}

func (r *memPolishes) MarkCompleted(_ context.Context, _ repository.Tx, id int64, res model.PolishResult) (bool, error) {
	return r.cas(id, []model.PolishStatus{model.PolishStatusPolishing}, func(p *model.Polish) bool {
		code, after, sum, ms := res.PolishedCode, res.QualityScoreAfter, res.Summary, res.ProcessingTime.Milliseconds()
		p.Status = model.PolishStatusCompleted
		p.PolishedCode, p.QualityScoreAfter, p.ImprovementsSummary, p.ProcessingTimeMs = &code, &after, &sum, &ms
		return true
	})
}

func (r *memPolishes) MarkFailed(_ context.Context, _ repository.Tx, id int64, reason string, elapsed time.Duration) (bool, error) {
	return r.cas(id, model.InFlight, func(p *model.Polish) bool {
		ms := elapsed.Milliseconds()
		p.Status = model.PolishStatusFailed
		p.ErrorMessage, p.ProcessingTimeMs = &reason, &ms
		return true
	})
}

func (r *memPolishes) MarkRefunded(_ context.Context, _ repository.Tx, id int64) (bool, error) {
	return r.cas(id, []model.PolishStatus{model.PolishStatusFailed}, func(p *model.Polish) bool {
		if p.Refunded {
			return false
		}
		p.Refunded = true
		return true
	})
}

func (r *memPolishes) ResetForRetry(_ context.Context, _ repository.Tx, id int64) (bool, error) {
	return r.cas(id, []model.PolishStatus{model.PolishStatusFailed}, func(p *model.Polish) bool {
		p.Status = model.PolishStatusPending
		p.PolishedCode, p.QualityScoreBefore, p.QualityScoreAfter = nil, nil, nil
		p.IssuesFound, p.ImprovementsSummary, p.ErrorMessage, p.ProcessingTimeMs = nil, nil, nil, nil
		p.Refunded = false
		return true
	})
}

func (r *memPolishes) ids(limit int, match func(p *model.Polish) bool) []int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []int64
	for id, p := range r.s.polishes {
		if match(p) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memPolishes) ListPendingOlderThan(_ context.Context, _ repository.Tx, before time.Time, limit int) ([]int64, error) {
	return r.ids(limit, func(p *model.Polish) bool {
		return p.Status == model.PolishStatusPending && p.UpdatedAt.Before(before)
	}), nil
}

func (r *memPolishes) TouchPending(_ context.Context, _ repository.Tx, id int64) error {
	_, err := r.cas(id, []model.PolishStatus{model.PolishStatusPending}, nil)
	return err
}

func (r *memPolishes) ListStuck(_ context.Context, _ repository.Tx, before time.Time, limit int) ([]int64, error) {
	return r.ids(limit, func(p *model.Polish) bool {
		return (p.Status == model.PolishStatusAnalyzing || p.Status == model.PolishStatusPolishing) && p.UpdatedAt.Before(before)
	}), nil
}

func (r *memPolishes) ListUnrefundedFailed(ctx context.Context, tx repository.Tx, limit int) ([]*model.Polish, error) {
	var out []*model.Polish
	for _, id := range r.ids(limit, func(p *model.Polish) bool { return p.Status == model.PolishStatusFailed && !p.Refunded }) {
		p, _ := r.FindByID(ctx, tx, id)
		out = append(out, p)
	}
	return out, nil
}

func (r *memPolishes) CountByStatus(context.Context, repository.Tx) (map[model.PolishStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.PolishStatus]int{}
	for _, p := range r.s.polishes {
		out[p.Status]++
	}
	return out, nil
}

// set mutates a stored job directly.
func (r *memPolishes) set(id int64, fn func(p *model.Polish)) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	fn(r.s.polishes[id])
}

// --- Subscriptions ---

type memSubs struct{ s *memStore }

var _ repository.SubscriptionRepository = (*memSubs)(nil)

func (r *memSubs) Create(_ context.Context, _ repository.Tx, sub *model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.subs[sub.UserID]; ok {
		return domain.ErrAlreadyExists
	}
	sub.ID = r.s.id()
	cp := *sub
	r.s.subs[sub.UserID] = &cp
	return nil
}

func (r *memSubs) FindByUserID(_ context.Context, _ repository.Tx, userID int64) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subs[userID]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *memSubs) FindByUserIDForUpdate(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	return r.FindByUserID(ctx, tx, userID)
}

func (r *memSubs) FindByStripeCustomerID(_ context.Context, _ repository.Tx, customerID string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.subs {
		if sub.StripeCustomerID != nil && *sub.StripeCustomerID == customerID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (r *memSubs) Update(_ context.Context, _ repository.Tx, sub *model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.subs[sub.UserID]; !ok {
		return domain.ErrSubscriptionNotFound
	}
	cp := *sub
	r.s.subs[sub.UserID] = &cp
	return nil
}

func (r *memSubs) SetStripeCustomerID(_ context.Context, _ repository.Tx, userID int64, customerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subs[userID]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	sub.StripeCustomerID = &customerID
	return nil
}

func (r *memSubs) ListPeriodEnded(_ context.Context, _ repository.Tx, now time.Time, limit int) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []int64
	for uid, sub := range r.s.subs {
		if sub.PeriodEnd.Before(now) {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSubs) CountByPlan(context.Context, repository.Tx) (map[model.PlanID]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.PlanID]int{}
	for _, sub := range r.s.subs {
		out[sub.Plan]++
	}
	return out, nil
}

func (r *memSubs) set(userID int64, fn func(s *model.Subscription)) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	fn(r.s.subs[userID])
}

// --- Ledger ---

type memLedger struct{ s *memStore }

var _ repository.CreditLedger = (*memLedger)(nil)

func (r *memLedger) Debit(_ context.Context, _ repository.Tx, userID int64, amount int, polishID *int64) (int, error) {
	if amount <= 0 {
		return 0, domain.Invalid("amount must be positive")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subs[userID]
	if !ok {
		return 0, domain.ErrSubscriptionNotFound
	}
	if sub.CreditsRemaining < amount {
		return 0, domain.ErrInsufficientCredits
	}
	sub.CreditsRemaining -= amount
	r.s.ledger = append(r.s.ledger, &model.LedgerEntry{UserID: userID, PolishID: polishID, EntryType: model.LedgerDebit, Amount: amount, BalanceAfter: sub.CreditsRemaining})
	return sub.CreditsRemaining, nil
}

func (r *memLedger) Refund(_ context.Context, _ repository.Tx, userID int64, amount int, polishID *int64) (int, error) {
	if amount <= 0 {
		return 0, domain.Invalid("amount must be positive")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.refundErr; err != nil {
		r.s.refundErr = nil
		return 0, err
	}
	sub, ok := r.s.subs[userID]
	if !ok {
		return 0, domain.ErrSubscriptionNotFound
	}
	sub.CreditsRemaining = min(sub.CreditsRemaining+amount, sub.CreditsTotal)
	r.s.ledger = append(r.s.ledger, &model.LedgerEntry{UserID: userID, PolishID: polishID, EntryType: model.LedgerRefund, Amount: amount, BalanceAfter: sub.CreditsRemaining})
	return sub.CreditsRemaining, nil
}

func (r *memLedger) Record(_ context.Context, _ repository.Tx, e *model.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	r.s.ledger = append(r.s.ledger, &cp)
	return nil
}

func (r *memLedger) ListByUser(_ context.Context, _ repository.Tx, userID int64, limit int) ([]*model.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.LedgerEntry
	for i := len(r.s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.s.ledger[i]; e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memLedger) count(t model.LedgerEntryType) int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, e := range r.s.ledger {
		if e.EntryType == t {
			n++
		}
	}
	return n
}

// --- Users ---

type memUsers struct{ s *memStore }

var _ repository.UserRepository = (*memUsers)(nil)

func (r *memUsers) Upsert(_ context.Context, _ repository.Tx, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ex := range r.s.users {
		if ex.OpenID == u.OpenID {
			ex.Name, ex.Email, ex.LastSignedIn = u.Name, u.Email, u.LastSignedIn
			*u = *ex
			return nil
		}
	}
	u.ID = r.s.id()
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r *memUsers) FindByID(_ context.Context, _ repository.Tx, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUsers) FindByOpenID(_ context.Context, _ repository.Tx, openID string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.OpenID == openID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// --- API keys ---

type memKeys struct{ s *memStore }

var _ repository.APIKeyRepository = (*memKeys)(nil)

func (r *memKeys) Create(_ context.Context, _ repository.Tx, k *model.APIKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k.ID = r.s.id()
	cp := *k
	r.s.keys[k.ID] = &cp
	return nil
}

func (r *memKeys) FindByHash(_ context.Context, _ repository.Tx, hash string) (*model.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, k := range r.s.keys {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memKeys) ListByUser(_ context.Context, _ repository.Tx, userID int64) ([]*model.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.APIKey
	for _, k := range r.s.keys {
		if k.UserID == userID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memKeys) Delete(_ context.Context, _ repository.Tx, id, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.keys[id]
	if !ok || k.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.s.keys, id)
	return nil
}

func (r *memKeys) TouchLastUsed(_ context.Context, _ repository.Tx, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if k, ok := r.s.keys[id]; ok {
		now := time.Now()
		k.LastUsed = &now
	}
	return nil
}

// --- Preferences ---

type memPrefs struct{ s *memStore }

var _ repository.PreferencesRepository = (*memPrefs)(nil)

func (r *memPrefs) Get(_ context.Context, _ repository.Tx, userID int64) (*model.Preferences, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.prefs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPrefs) Save(_ context.Context, _ repository.Tx, p *model.Preferences) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *p
	r.s.prefs[p.UserID] = &cp
	return nil
}

// --- Queue ---

type MockQueue struct {
	mu   sync.Mutex
	ids  []int64
	full bool
}

func (q *MockQueue) Enqueue(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return domain.ErrTooManyRequests
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *MockQueue) Enqueued() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.ids...)
}

// --- Polisher ---

// MockPolisher delegates to the wrapped polisher unless a hook is set.
type MockPolisher struct {
	inner         adapter.Polisher
	AnalyzeFunc   func(ctx context.Context, code string) (int, []model.Issue, error)
	TransformFunc func(ctx context.Context, code string) (adapter.Transformation, error)
}

func (m *MockPolisher) Name() string { return "mock" }

func (m *MockPolisher) Analyze(ctx context.Context, code string, fw model.Framework, rules model.Rules) (int, []model.Issue, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, code)
	}
	return m.inner.Analyze(ctx, code, fw, rules)
}

func (m *MockPolisher) Transform(ctx context.Context, code string, fw model.Framework, preset model.Preset, rules model.Rules, issues []model.Issue) (adapter.Transformation, error) {
	if m.TransformFunc != nil {
		return m.TransformFunc(ctx, code)
	}
	return m.inner.Transform(ctx, code, fw, preset, rules, issues)
}

// --- Payment gateway ---

type MockGateway struct {
	// OnEnsureCustomer runs inside EnsureCustomer, while the provider call is in flight.
	OnEnsureCustomer func()

	mu        sync.Mutex
	customers int
	cancelled []string
	resumed   []string
	lastReq   adapter.CheckoutRequest
}

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) EnsureCustomer(_ context.Context, _ int64, _ string, existing string) (string, error) {
	if g.OnEnsureCustomer != nil {
		g.OnEnsureCustomer()
	}
	if existing != "" {
		return existing, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers++
	return "cus_test", nil
}

func (g *MockGateway) CreateCheckoutSession(_ context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastReq = req
	return &adapter.CheckoutSession{ID: "cs_test", URL: "https://checkout.example/cs_test"}, nil
}

func (g *MockGateway) CancelAtPeriodEnd(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	return nil
}

func (g *MockGateway) Resume(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resumed = append(g.resumed, id)
	return nil
}

func (g *MockGateway) ParseWebhook([]byte, string) (*adapter.BillingEvent, error) {
	return nil, domain.ErrInvalidArgument
}
