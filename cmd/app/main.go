// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"codepolish/internal/config"
	"codepolish/internal/domain/ports/adapter"
	"codepolish/internal/domain/ports/repository"
	aiAdapters "codepolish/internal/infra/adapters/ai"
	"codepolish/internal/infra/adapters/oauth"
	payAdapters "codepolish/internal/infra/adapters/payment"
	"codepolish/internal/infra/cache"
	pg "codepolish/internal/infra/db/postgres"
	"codepolish/internal/infra/logging"
	"codepolish/internal/infra/metrics"
	"codepolish/internal/infra/polisher"
	"codepolish/internal/infra/ratelimit"
	red "codepolish/internal/infra/redis"
	"codepolish/internal/infra/sched"
	"codepolish/internal/infra/web"
	"codepolish/internal/infra/worker"
	"codepolish/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop billing)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("codepolish stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("commit", commit).Bool("dev", cfg.Runtime.Dev).Msg("starting codepolish")

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if cfg.Database.RunMigrations {
		if err := pg.Migrate(ctx, pool, logger); err != nil {
			return err
		}
	}

	// ---- Redis (optional) ----
	var (
		redisClient *red.Client
		locker      red.Locker
		userCache   cache.Cache
		states      repository.StateStore
		counters    ratelimit.Store
	)
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
		userCache = cache.NewRedis(redisClient)
		states = red.NewStateRepo(redisClient)
		if cfg.RateLimit.Shared {
			counters = red.NewWindowStore(redisClient)
		}
		logger.Info().Msg("redis enabled for cache, oauth state and locks")
	} else {
		userCache = cache.NewMemory(cfg.Redis.TTL, 10*time.Minute)
		states = cache.NewMemoryStateStore()
	}

	// ---- Repositories ----
	userRepo := pg.NewUserRepoCacheDecorator(pg.NewUserRepo(pool), userCache, cfg.Redis.TTL)
	subRepo := pg.NewSubscriptionRepo(pool)
	polishRepo := pg.NewPolishRepo(pool)
	ledger := pg.NewCreditLedger(pool)
	keyRepo := pg.NewAPIKeyRepo(pool)
	prefRepo := pg.NewPreferencesRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- AI + polisher ----
	ai, err := buildAI(ctx, cfg.AI, cfg.Runtime.Dev, logger)
	if err != nil {
		return err
	}
	pol, err := polisher.New(cfg.AI, ai, logger)
	if err != nil {
		return fmt.Errorf("polisher: %w", err)
	}
	logger.Info().Str("polisher", pol.Name()).Msg("polisher ready")

	// ---- Payments ----
	var payments adapter.PaymentGateway
	switch {
	case cfg.Billing.Enabled():
		payments, err = payAdapters.NewStripeGateway(cfg.Billing.StripeSecretKey, cfg.Billing.StripeWebhookSecret, cfg.Billing.PriceIDs, nil)
		if err != nil {
			return fmt.Errorf("stripe: %w", err)
		}
	case cfg.Runtime.Dev:
		payments = payAdapters.NewNoopPaymentGateway()
		logger.Warn().Msg("billing not configured; using noop payment gateway")
	default:
		logger.Warn().Msg("billing not configured; checkout disabled")
	}

	// ---- OAuth ----
	var identity adapter.IdentityProvider
	if cfg.Auth.OAuth.ClientID != "" {
		p, err := oauth.NewProvider(cfg.Auth.OAuth)
		if err != nil {
			return fmt.Errorf("oauth: %w", err)
		}
		identity = p
	} else {
		logger.Warn().Msg("oauth client not configured; login disabled")
	}

	// ---- Worker pool ----
	wp := worker.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueSize, logger)
	var polishUC usecase.PolishUseCase
	queue := worker.NewPolishQueue(wp, cfg.Worker.JobTimeout, func(ctx context.Context, id int64) error {
		return polishUC.Process(ctx, id)
	}, logger)

	// ---- Use cases ----
	publicURL := strings.TrimRight(cfg.HTTP.PublicURL, "/")
	userUC := usecase.NewUserUseCase(userRepo, subRepo, logger)
	subUC := usecase.NewSubscriptionUseCase(subRepo, ledger, polishRepo, payments, usecase.BillingURLs{
		Success: publicURL + cfg.Billing.SuccessPath,
		Cancel:  publicURL + cfg.Billing.CancelPath,
	}, tm, logger)
	polishUC = usecase.NewPolishUseCase(polishRepo, subRepo, ledger, pol, queue, tm, logger)
	keyUC := usecase.NewAPIKeyUseCase(keyRepo, logger)
	prefUC := usecase.NewPreferencesUseCase(prefRepo, logger)

	// ---- HTTP ----
	if counters == nil {
		counters = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.New(ratelimit.RulesFromConfig(cfg.RateLimit), counters, logger)
	srv := web.NewServer(web.Deps{
		Users:    userUC,
		Polishes: polishUC,
		Subs:     subUC,
		APIKeys:  keyUC,
		Prefs:    prefUC,
		Identity: identity,
		Payments: payments,
		States:   states,
		Limiter:  limiter,
		Auth:     web.NewAuthManager(cfg.Auth),
		Health: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if redisClient != nil {
				if err := redisClient.Ping(ctx); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	}, cfg.HTTP, logger)
	httpSrv := srv.HTTPServer()

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)
	wp.Start(gctx)

	g.Go(func() error {
		logger.Info().Str("addr", httpSrv.Addr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		wp.Stop()
		return err
	})
	g.Go(func() error {
		return sched.NewSweeper(polishUC, cfg.Worker, locker, logger).Run(gctx)
	})
	g.Go(func() error {
		return sched.NewPeriodWorker(cfg.Worker.PeriodRollInterval, subUC, locker, logger).Run(gctx)
	})
	g.Go(func() error {
		return sched.NewStatsWorker(time.Minute, polishRepo, subRepo, logger).Run(gctx)
	})
	g.Go(func() error {
		pg.ReportPoolStats(gctx, pool, 15*time.Second)
		return nil
	})
	if mem, ok := counters.(*ratelimit.MemoryStore); ok {
		g.Go(func() error {
			mem.RunCleanup(gctx, time.Minute)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info().Msg("codepolish stopped")
	return err
}

// devAIReply satisfies both llm polisher steps so -dev runs work without keys.
const devAIReply = `{"qualityScoreBefore":55,"issuesFound":[],` +
	`"polishedCode":"export default function Placeholder() {\n  return null\n}\n",` +
	`"qualityScoreAfter":80,"improvementsSummary":{"documentationAdded":false}}`

// buildAI assembles the provider chain used by the llm polisher. Without
// keys it returns a canned adapter in dev when the llm polisher is selected
// and nil otherwise.
func buildAI(ctx context.Context, cfg config.AIConfig, dev bool, logger *zerolog.Logger) (adapter.AIServiceAdapter, error) {
	byProvider := map[string]adapter.AIServiceAdapter{}
	if cfg.OpenAIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter("openai", cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		byProvider["openai"] = oa
		logger.Info().Str("base_url", cfg.OpenAIBaseURL).Str("model", cfg.DefaultModel).Msg("ai provider: openai compatible")
	}
	if cfg.GeminiKey != "" {
		gm, err := aiAdapters.NewGeminiAdapter(ctx, cfg.GeminiKey, cfg.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		byProvider["gemini"] = gm
		logger.Info().Msg("ai provider: gemini")
	}
	if len(byProvider) == 0 {
		if dev && cfg.Polisher == "llm" {
			logger.Warn().Msg("no ai provider keys; using noop ai adapter")
			return aiAdapters.NewNoopAIAdapter(devAIReply), nil
		}
		return nil, nil
	}
	def := strings.ToLower(cfg.Provider)
	if _, ok := byProvider[def]; !ok {
		for name := range byProvider {
			def = name
			break
		}
	}
	multi := aiAdapters.NewMultiAIAdapter(def, byProvider, nil)
	return aiAdapters.NewLimitedAI(multi, cfg.ConcurrentLimit), nil
}
