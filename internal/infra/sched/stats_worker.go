package sched

import (
	"context"
	"time"

	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// StatsWorker refreshes the gauges that need a database count.
type StatsWorker struct {
	interval time.Duration
	polishes repository.PolishRepository
	subs     repository.SubscriptionRepository
	log      *zerolog.Logger
}

func NewStatsWorker(interval time.Duration, polishes repository.PolishRepository, subs repository.SubscriptionRepository, logger *zerolog.Logger) *StatsWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "StatsWorker").Logger()
	return &StatsWorker{interval: interval, polishes: polishes, subs: subs, log: &l}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	w.refresh(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *StatsWorker) refresh(ctx context.Context) {
	byStatus, err := w.polishes.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		w.log.Warn().Err(err).Msg("count polishes by status")
	} else {
		metrics.SetPolishesByStatus(byStatus)
	}
	byPlan, err := w.subs.CountByPlan(ctx, repository.NoTX)
	if err != nil {
		w.log.Warn().Err(err).Msg("count subscriptions by plan")
		return
	}
	metrics.SetSubscriptionsByPlan(byPlan)
}
