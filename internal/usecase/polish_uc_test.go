//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/adapter"
	"codepolish/internal/infra/metrics"
	"codepolish/internal/infra/polisher"
	"codepolish/internal/usecase"
)

type polishEnv struct {
	store    *memStore
	polishes *memPolishes
	subs     *memSubs
	ledger   *memLedger
	queue    *MockQueue
	polisher *MockPolisher
	uc       usecase.PolishUseCase
}

func newPolishEnv(t *testing.T) *polishEnv {
	t.Helper()
	st := newMemStore()
	env := &polishEnv{
		store:    st,
		polishes: &memPolishes{st},
		subs:     &memSubs{st},
		ledger:   &memLedger{st},
		queue:    &MockQueue{},
		polisher: &MockPolisher{inner: polisher.NewHeuristic()},
	}
	env.uc = usecase.NewPolishUseCase(env.polishes, env.subs, env.ledger, env.polisher, env.queue, &MemTxManager{st}, newTestLogger())
	return env
}

// withCredits gives userID a free subscription holding n credits.
func (e *polishEnv) withCredits(t *testing.T, userID int64, n int) {
	t.Helper()
	s := model.NewFreeSubscription(userID, time.Now())
	s.CreditsRemaining = n
	if err := e.subs.Create(context.Background(), nil, s); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

func (e *polishEnv) balance(t *testing.T, userID int64) int {
	t.Helper()
	s, err := e.subs.FindByUserID(context.Background(), nil, userID)
	if err != nil {
		t.Fatalf("find subscription: %v", err)
	}
	return s.CreditsRemaining
}

const inlineStyleComponent = `export default function Card() {
  console.log("render");
  return <div style={{padding: 8}}>Hello</div>
}`

func createInput() usecase.CreatePolishInput {
	return usecase.CreatePolishInput{Name: "Card", Framework: model.FrameworkReact, OriginalCode: inlineStyleComponent}
}

func TestPolishUseCase_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 1)

	p, err := env.uc.Create(ctx, 1, createInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.Status != model.PolishStatusPending || p.CreditsUsed != 1 {
		t.Fatalf("unexpected new polish: %+v", p)
	}
	if got := env.balance(t, 1); got != 0 {
		t.Fatalf("expected balance 0 after create, got %d", got)
	}
	if q := env.queue.Enqueued(); len(q) != 1 || q[0] != p.ID {
		t.Fatalf("expected job to be enqueued, got %v", q)
	}

	if err := env.uc.Process(ctx, p.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got, err := env.uc.Get(ctx, 1, p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != model.PolishStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.PolishedCode == nil || strings.Contains(*got.PolishedCode, "console.log") {
		t.Fatalf("polished code missing or still logging: %v", got.PolishedCode)
	}
	if got.QualityScoreBefore == nil || *got.QualityScoreBefore != 40 {
		t.Errorf("expected score before 40, got %v", got.QualityScoreBefore)
	}
	if got.QualityScoreAfter == nil || got.ImprovementsSummary == nil || got.ProcessingTimeMs == nil {
		t.Error("completed job must carry its results")
	}
	found := false
	for _, is := range got.IssuesFound {
		if is.Type == model.IssueMaintainability && strings.Contains(is.Message, "Inline styles") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an inline style maintainability issue, got %+v", got.IssuesFound)
	}
	if env.ledger.count(model.LedgerDebit) != 1 || env.ledger.count(model.LedgerRefund) != 0 {
		t.Error("expected exactly one debit and no refund")
	}
}

func TestPolishUseCase_FailureRefundsOnce(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 1)
	env.polisher.TransformFunc = func(context.Context, string) (adapter.Transformation, error) {
		return adapter.Transformation{}, errors.New("model unavailable")
	}

	p, err := env.uc.Create(ctx, 1, createInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_ = env.uc.Process(ctx, p.ID)

	got, _ := env.uc.Get(ctx, 1, p.ID)
	if got.Status != model.PolishStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "model unavailable") {
		t.Errorf("expected error message, got %v", got.ErrorMessage)
	}
	if got.PolishedCode != nil {
		t.Error("failed job must not carry polished code")
	}
	if bal := env.balance(t, 1); bal != 1 {
		t.Fatalf("expected credit restored, balance %d", bal)
	}

	n, err := env.uc.ReconcileRefunds(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing to reconcile, got %d, %v", n, err)
	}
	if env.ledger.count(model.LedgerRefund) != 1 {
		t.Errorf("expected exactly one refund entry, got %d", env.ledger.count(model.LedgerRefund))
	}
}

// creditOps sums credit_operations_total over every label pair.
func creditOps(t *testing.T) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, mf := range mfs {
		if mf.GetName() != "credit_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// The ledger owns the credit counter; the in-memory ledger never touches it,
// so debits and refunds driven through the use case leave it unchanged.
func TestPolishUseCase_CreditMetricsLeftToLedger(t *testing.T) {
	metrics.MustRegister()
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 1)
	env.polisher.AnalyzeFunc = func(context.Context, string) (int, []model.Issue, error) {
		return 0, nil, errors.New("boom")
	}
	before := creditOps(t)

	p, err := env.uc.Create(ctx, 1, createInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_ = env.uc.Process(ctx, p.ID)
	if _, err := env.uc.Create(ctx, 1, createInput()); err != nil {
		t.Fatalf("Create after refund failed: %v", err)
	}
	if _, err := env.uc.Create(ctx, 1, createInput()); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if got := creditOps(t); got != before {
		t.Errorf("use case emitted %v credit operations, want none", got-before)
	}
}

func TestPolishUseCase_EmptyOutputFails(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 2)
	env.polisher.TransformFunc = func(context.Context, string) (adapter.Transformation, error) {
		return adapter.Transformation{Code: "   "}, nil
	}
	p, _ := env.uc.Create(ctx, 1, createInput())
	_ = env.uc.Process(ctx, p.ID)

	got, _ := env.uc.Get(ctx, 1, p.ID)
	if got.Status != model.PolishStatusFailed {
		t.Fatalf("expected failed on empty output, got %s", got.Status)
	}
}

func TestPolishUseCase_TimeoutFails(t *testing.T) {
	env := newPolishEnv(t)
	env.withCredits(t, 1, 1)
	env.polisher.AnalyzeFunc = func(ctx context.Context, _ string) (int, []model.Issue, error) {
		<-ctx.Done()
		return 0, nil, ctx.Err()
	}
	p, _ := env.uc.Create(context.Background(), 1, createInput())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = env.uc.Process(ctx, p.ID)

	got, _ := env.uc.Get(context.Background(), 1, p.ID)
	if got.Status != model.PolishStatusFailed || got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "timed out") {
		t.Fatalf("expected a timed out failure, got %s %v", got.Status, got.ErrorMessage)
	}
	if env.balance(t, 1) != 1 {
		t.Error("timed out job must be refunded")
	}
}

func TestPolishUseCase_RefundErrorLeftForReconciler(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 1)
	env.polisher.AnalyzeFunc = func(context.Context, string) (int, []model.Issue, error) {
		return 0, nil, errors.New("boom")
	}
	env.store.refundErr = errors.New("ledger down")

	p, _ := env.uc.Create(ctx, 1, createInput())
	_ = env.uc.Process(ctx, p.ID)

	if env.balance(t, 1) != 0 {
		t.Fatal("refund should have failed")
	}
	n, err := env.uc.ReconcileRefunds(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one refund reconciled, got %d, %v", n, err)
	}
	if env.balance(t, 1) != 1 {
		t.Error("reconciler should restore the credit")
	}
	if n, _ := env.uc.ReconcileRefunds(ctx); n != 0 {
		t.Errorf("second reconcile must be a no-op, got %d", n)
	}
}

func TestPolishUseCase_InsufficientCredits(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 0)

	_, err := env.uc.Create(ctx, 1, createInput())
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	page, _ := env.uc.List(ctx, 1, usecase.DefaultListLimit, 0, "")
	if page.Total != 0 {
		t.Error("rejected create must not leave a polish behind")
	}
	if len(env.queue.Enqueued()) != 0 {
		t.Error("rejected create must not enqueue")
	}
}

func TestPolishUseCase_SequentialDebits(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	const k = 3
	env.withCredits(t, 1, k)

	ok := 0
	var last error
	for i := 0; i < k+1; i++ {
		if _, err := env.uc.Create(ctx, 1, createInput()); err != nil {
			last = err
			continue
		}
		ok++
	}
	if ok != k || !errors.Is(last, domain.ErrInsufficientCredits) {
		t.Fatalf("expected %d successes then ErrInsufficientCredits, got %d and %v", k, ok, last)
	}
}

func TestPolishUseCase_FirstCreateMakesFreeSubscription(t *testing.T) {
	env := newPolishEnv(t)
	if _, err := env.uc.Create(context.Background(), 9, createInput()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if bal := env.balance(t, 9); bal != 4 {
		t.Fatalf("expected 5 free credits minus one, got %d", bal)
	}
}

func TestPolishUseCase_Ownership(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 5)
	p, _ := env.uc.Create(ctx, 1, createInput())

	if _, err := env.uc.Get(ctx, 2, p.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Get: expected ErrForbidden, got %v", err)
	}
	if err := env.uc.Delete(ctx, 2, p.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Delete: expected ErrForbidden, got %v", err)
	}
	if _, err := env.uc.Retry(ctx, 2, p.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Retry: expected ErrForbidden, got %v", err)
	}
	if _, err := env.uc.Get(ctx, 1, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing job, got %v", err)
	}
	if err := env.uc.Delete(ctx, 1, p.ID); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
	if _, err := env.uc.Get(ctx, 1, p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected deleted job to be gone, got %v", err)
	}
}

func TestPolishUseCase_Retry(t *testing.T) {
	ctx := context.Background()

	failJob := func(t *testing.T, env *polishEnv) *model.Polish {
		t.Helper()
		fail := true
		env.polisher.AnalyzeFunc = func(ctx context.Context, code string) (int, []model.Issue, error) {
			if fail {
				return 0, nil, errors.New("flaky")
			}
			return polisher.NewHeuristic().Analyze(ctx, code, model.FrameworkReact, model.DefaultRules())
		}
		p, err := env.uc.Create(ctx, 1, createInput())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		_ = env.uc.Process(ctx, p.ID)
		fail = false
		return p
	}

	t.Run("refunded job is charged again", func(t *testing.T) {
		env := newPolishEnv(t)
		env.withCredits(t, 1, 1)
		p := failJob(t, env)
		if env.balance(t, 1) != 1 {
			t.Fatal("expected refund after failure")
		}

		r, err := env.uc.Retry(ctx, 1, p.ID)
		if err != nil {
			t.Fatalf("Retry failed: %v", err)
		}
		if r.Status != model.PolishStatusPending || r.ErrorMessage != nil {
			t.Fatalf("expected clean pending job, got %s %v", r.Status, r.ErrorMessage)
		}
		if env.balance(t, 1) != 0 {
			t.Error("retry should debit again")
		}
		if err := env.uc.Process(ctx, p.ID); err != nil {
			t.Fatal(err)
		}
		got, _ := env.uc.Get(ctx, 1, p.ID)
		if got.Status != model.PolishStatusCompleted {
			t.Errorf("expected retried job to complete, got %s", got.Status)
		}
	})

	t.Run("unrefunded job keeps its charge", func(t *testing.T) {
		env := newPolishEnv(t)
		env.withCredits(t, 1, 1)
		env.store.refundErr = errors.New("ledger down")
		p := failJob(t, env)

		if _, err := env.uc.Retry(ctx, 1, p.ID); err != nil {
			t.Fatalf("Retry failed: %v", err)
		}
		if env.balance(t, 1) != 0 || env.ledger.count(model.LedgerDebit) != 1 {
			t.Error("retry of an unrefunded job must not charge twice")
		}
	})

	t.Run("insufficient credits leaves the job failed", func(t *testing.T) {
		env := newPolishEnv(t)
		env.withCredits(t, 1, 1)
		p := failJob(t, env)
		env.subs.set(1, func(s *model.Subscription) { s.CreditsRemaining = 0 })

		if _, err := env.uc.Retry(ctx, 1, p.ID); !errors.Is(err, domain.ErrInsufficientCredits) {
			t.Fatalf("expected ErrInsufficientCredits, got %v", err)
		}
		got, _ := env.uc.Get(ctx, 1, p.ID)
		if got.Status != model.PolishStatusFailed {
			t.Errorf("expected job to stay failed, got %s", got.Status)
		}
	})

	t.Run("only failed jobs", func(t *testing.T) {
		env := newPolishEnv(t)
		env.withCredits(t, 1, 1)
		p, _ := env.uc.Create(ctx, 1, createInput())
		if _, err := env.uc.Retry(ctx, 1, p.ID); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestPolishUseCase_List(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 5)
	for i := 0; i < 3; i++ {
		if _, err := env.uc.Create(ctx, 1, createInput()); err != nil {
			t.Fatal(err)
		}
	}

	page, err := env.uc.List(ctx, 1, 2, 0, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Items) != 2 || page.Total != 3 || !page.HasMore {
		t.Fatalf("unexpected first page: %d items, total %d, hasMore %v", len(page.Items), page.Total, page.HasMore)
	}
	page, _ = env.uc.List(ctx, 1, 2, 2, "")
	if len(page.Items) != 1 || page.HasMore {
		t.Fatalf("unexpected last page: %d items, hasMore %v", len(page.Items), page.HasMore)
	}
	page, _ = env.uc.List(ctx, 1, usecase.DefaultListLimit, 0, model.PolishStatusCompleted)
	if page.Limit != usecase.DefaultListLimit || page.Total != 0 || page.Items == nil {
		t.Fatalf("unexpected filtered page: %+v", page)
	}
	for _, limit := range []int{0, -1, 101} {
		if _, err := env.uc.List(ctx, 1, limit, 0, ""); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("limit %d: expected ErrInvalidArgument, got %v", limit, err)
		}
	}
	if _, err := env.uc.List(ctx, 1, 10, -1, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected offset validation, got %v", err)
	}
}

func TestPolishUseCase_Sweepers(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 5)
	env.queue.full = true

	pending, _ := env.uc.Create(ctx, 1, createInput())
	stuck, _ := env.uc.Create(ctx, 1, createInput())
	if ok, _ := env.polishes.ClaimPending(ctx, nil, stuck.ID); !ok {
		t.Fatal("claim failed")
	}
	old := time.Now().Add(-time.Hour)
	env.polishes.set(pending.ID, func(p *model.Polish) { p.UpdatedAt = old })
	env.polishes.set(stuck.ID, func(p *model.Polish) { p.UpdatedAt = old })

	env.queue.full = false
	n, err := env.uc.DispatchPending(ctx, time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected one dispatched job, got %d, %v", n, err)
	}
	if q := env.queue.Enqueued(); len(q) != 1 || q[0] != pending.ID {
		t.Fatalf("expected pending job enqueued, got %v", q)
	}
	// still queued behind busy workers: the next pass must not enqueue it again
	if n, _ := env.uc.DispatchPending(ctx, time.Minute); n != 0 {
		t.Fatalf("expected no re-dispatch within the grace period, got %d", n)
	}
	if q := env.queue.Enqueued(); len(q) != 1 {
		t.Fatalf("expected the job queued once, got %v", q)
	}

	n, err = env.uc.FailStuck(ctx, 10*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected one stuck job failed, got %d, %v", n, err)
	}
	got, _ := env.uc.Get(ctx, 1, stuck.ID)
	if got.Status != model.PolishStatusFailed || got.ErrorMessage == nil {
		t.Fatalf("expected stuck job failed with reason, got %s", got.Status)
	}
	if env.balance(t, 1) != 4 {
		t.Errorf("expected stuck job refunded (balance 4), got %d", env.balance(t, 1))
	}
}

func TestPolishUseCase_ProcessIsSingleRunner(t *testing.T) {
	ctx := context.Background()
	env := newPolishEnv(t)
	env.withCredits(t, 1, 1)
	calls := 0
	env.polisher.AnalyzeFunc = func(context.Context, string) (int, []model.Issue, error) {
		calls++
		return 50, nil, nil
	}
	p, _ := env.uc.Create(ctx, 1, createInput())
	_ = env.uc.Process(ctx, p.ID)
	_ = env.uc.Process(ctx, p.ID)
	if calls != 2 {
		// one Analyze for the original and one to score the result
		t.Fatalf("expected a single pipeline run, got %d analyze calls", calls)
	}
}
