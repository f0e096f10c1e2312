package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"codepolish/internal/config"
	"codepolish/internal/infra/metrics"
)

// Connect returns a live pool, retrying while the database comes up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *zerolog.Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	var pool *pgxpool.Pool
	const maxRetries = 10
	for i := 0; i < maxRetries; i++ {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err = pgxpool.ConnectConfig(cctx, pcfg)
		if err == nil {
			err = pool.Ping(cctx)
		}
		cancel()
		if err == nil {
			return pool, nil
		}
		if pool != nil {
			pool.Close()
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("database not ready")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect postgres: %w", err)
}

// ReportPoolStats publishes pool gauges until ctx is done.
func ReportPoolStats(ctx context.Context, pool *pgxpool.Pool, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := pool.Stat()
			metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
		}
	}
}
