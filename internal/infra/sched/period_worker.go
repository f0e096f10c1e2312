package sched

import (
	"context"
	"time"

	"codepolish/internal/infra/redis"
	"codepolish/internal/usecase"

	"github.com/rs/zerolog"
)

const periodLockKey = "codepolish:lock:period-roll"

// PeriodWorker refills credits of subscriptions whose billing period ended
// and downgrades the ones that lapsed.
type PeriodWorker struct {
	interval time.Duration
	subUC    usecase.SubscriptionUseCase
	locker   redis.Locker
	log      *zerolog.Logger
}

// NewPeriodWorker builds the worker. locker may be nil on single-instance deployments.
func NewPeriodWorker(interval time.Duration, subUC usecase.SubscriptionUseCase, locker redis.Locker, logger *zerolog.Logger) *PeriodWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	l := logger.With().Str("component", "PeriodWorker").Logger()
	return &PeriodWorker{interval: interval, subUC: subUC, locker: locker, log: &l}
}

func (w *PeriodWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting period worker")
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping period worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *PeriodWorker) tick(ctx context.Context) {
	withLock(ctx, w.locker, periodLockKey, w.interval, w.log, func(ctx context.Context) {
		n, err := w.subUC.RollOverPeriods(ctx, time.Now())
		if err != nil {
			w.log.Error().Err(err).Msg("period rollover failed")
		}
		if n > 0 {
			w.log.Info().Int("count", n).Msg("billing periods rolled over")
		}
	})
}

// withLock runs fn when no other instance holds key. A nil locker always runs fn.
func withLock(ctx context.Context, locker redis.Locker, key string, ttl time.Duration, log *zerolog.Logger, fn func(ctx context.Context)) {
	if locker == nil {
		fn(ctx)
		return
	}
	token, err := locker.TryLock(ctx, key, ttl)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("skipping tick, lock not acquired")
		return
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("unlock failed")
		}
	}()
	fn(ctx)
}
