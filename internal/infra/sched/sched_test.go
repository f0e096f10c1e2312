package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codepolish/internal/config"
	"codepolish/internal/infra/redis"
	"codepolish/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubUC struct {
	usecase.SubscriptionUseCase
	rolls atomic.Int32
}

func (f *fakeSubUC) RollOverPeriods(context.Context, time.Time) (int, error) {
	f.rolls.Add(1)
	return 2, nil
}

type fakePolishUC struct {
	usecase.PolishUseCase
	dispatched, stuck, refunds atomic.Int32
	grace, after               atomic.Int64
}

func (f *fakePolishUC) DispatchPending(_ context.Context, grace time.Duration) (int, error) {
	f.grace.Store(int64(grace))
	f.dispatched.Add(1)
	return 0, nil
}

func (f *fakePolishUC) FailStuck(_ context.Context, after time.Duration) (int, error) {
	f.after.Store(int64(after))
	f.stuck.Add(1)
	return 1, nil
}

func (f *fakePolishUC) ReconcileRefunds(context.Context) (int, error) {
	f.refunds.Add(1)
	return 0, errors.New("db down")
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	unlocked int
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return "", redis.ErrLockHeld
	}
	l.held[key] = true
	return "tok", nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.unlocked++
	return nil
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestWithLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{}}
	ran := 0
	withLock(context.Background(), locker, "k", time.Second, nopLogger(), func(context.Context) { ran++ })
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, locker.unlocked)

	locker.held["k"] = true
	withLock(context.Background(), locker, "k", time.Second, nopLogger(), func(context.Context) { ran++ })
	assert.Equal(t, 1, ran, "held lock must skip the run")

	withLock(context.Background(), nil, "k", time.Second, nopLogger(), func(context.Context) { ran++ })
	assert.Equal(t, 2, ran, "nil locker always runs")
}

func TestPeriodWorker_RunsOnStartAndTicks(t *testing.T) {
	uc := &fakeSubUC{}
	w := NewPeriodWorker(10*time.Millisecond, uc, nil, nopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	err := w.Run(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, uc.rolls.Load(), int32(2))
}

func TestSweeper_CallsEverySweep(t *testing.T) {
	uc := &fakePolishUC{}
	cfg := config.WorkerConfig{
		DispatchInterval: 5 * time.Millisecond,
		SweepInterval:    10 * time.Millisecond,
		PendingGrace:     30 * time.Second,
		StuckAfter:       10 * time.Minute,
	}
	s := NewSweeper(uc, cfg, &fakeLocker{held: map[string]bool{}}, nopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	assert.Positive(t, uc.dispatched.Load())
	assert.Positive(t, uc.stuck.Load())
	assert.Equal(t, uc.stuck.Load(), uc.refunds.Load(), "a refund error must not stop later sweeps")
	assert.Equal(t, int64(30*time.Second), uc.grace.Load())
	assert.Equal(t, int64(10*time.Minute), uc.after.Load())
}
