package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ProcessFunc runs the pipeline for one polish job.
type ProcessFunc func(ctx context.Context, polishID int64) error

// PolishQueue feeds polish ids into the pool with a per-job deadline.
type PolishQueue struct {
	pool    *Pool
	process ProcessFunc
	timeout time.Duration
	log     *zerolog.Logger
}

func NewPolishQueue(pool *Pool, timeout time.Duration, process ProcessFunc, log *zerolog.Logger) *PolishQueue {
	l := log.With().Str("component", "worker.polish").Logger()
	return &PolishQueue{pool: pool, process: process, timeout: timeout, log: &l}
}

func (q *PolishQueue) Enqueue(polishID int64) error {
	return q.pool.Submit(func(ctx context.Context) error {
		if q.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, q.timeout)
			defer cancel()
		}
		return q.process(ctx, polishID)
	})
}
