package sched

import (
	"context"
	"time"

	"codepolish/internal/config"
	"codepolish/internal/infra/redis"
	"codepolish/internal/usecase"

	"github.com/rs/zerolog"
)

const sweepLockKey = "codepolish:lock:polish-sweep"

// Sweeper recovers polish jobs a crash or a full queue left behind:
// pending jobs never picked up, jobs stuck mid-pipeline and failed jobs
// whose refund did not go through.
type Sweeper struct {
	uc     usecase.PolishUseCase
	cfg    config.WorkerConfig
	locker redis.Locker
	log    *zerolog.Logger
}

func NewSweeper(uc usecase.PolishUseCase, cfg config.WorkerConfig, locker redis.Locker, logger *zerolog.Logger) *Sweeper {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	l := logger.With().Str("component", "Sweeper").Logger()
	return &Sweeper{uc: uc, cfg: cfg, locker: locker, log: &l}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Msg("Starting polish sweeper")
	dispatch := time.NewTicker(s.cfg.DispatchInterval)
	defer dispatch.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Stopping polish sweeper")
			return ctx.Err()
		case <-dispatch.C:
			s.dispatch(ctx)
		case <-sweep.C:
			withLock(ctx, s.locker, sweepLockKey, s.cfg.SweepInterval, s.log, s.sweep)
		}
	}
}

func (s *Sweeper) dispatch(ctx context.Context) {
	n, err := s.uc.DispatchPending(ctx, s.cfg.PendingGrace)
	if err != nil {
		s.log.Error().Err(err).Msg("dispatch pending failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("re-dispatched pending jobs")
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if n, err := s.uc.FailStuck(ctx, s.cfg.StuckAfter); err != nil {
		s.log.Error().Err(err).Msg("fail stuck jobs failed")
	} else if n > 0 {
		s.log.Warn().Int("count", n).Msg("failed stuck jobs")
	}
	if n, err := s.uc.ReconcileRefunds(ctx); err != nil {
		s.log.Error().Err(err).Msg("refund reconciliation failed")
	} else if n > 0 {
		s.log.Info().Int("count", n).Msg("reconciled refunds")
	}
}
