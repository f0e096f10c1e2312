package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"codepolish/internal/config"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/adapter"
	pg "codepolish/internal/infra/db/postgres"
	"codepolish/internal/infra/logging"
	"codepolish/internal/usecase"
)

// seed creates a local developer account on the requested plan and prints an
// API key for it. Running it again reuses the account and issues a new key.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	email := flag.String("email", "dev@codepolish.local", "email of the seeded user")
	plan := flag.String("plan", string(model.PlanPro), "plan to put the user on")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	subRepo := pg.NewSubscriptionRepo(pool)
	ledger := pg.NewCreditLedger(pool)
	polishRepo := pg.NewPolishRepo(pool)
	tm := pg.NewTxManager(pool)

	userUC := usecase.NewUserUseCase(pg.NewUserRepo(pool), subRepo, logger)
	subUC := usecase.NewSubscriptionUseCase(subRepo, ledger, polishRepo, nil, usecase.BillingURLs{}, tm, logger)
	keyUC := usecase.NewAPIKeyUseCase(pg.NewAPIKeyRepo(pool), logger)

	user, err := userUC.LoginWithIdentity(ctx, &adapter.Identity{
		OpenID:      "seed:" + *email,
		Name:        "Local Developer",
		Email:       *email,
		LoginMethod: "seed",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create user")
	}

	if model.PlanID(*plan) != model.PlanFree {
		err = subUC.HandleBillingEvent(ctx, &adapter.BillingEvent{
			ID:     fmt.Sprintf("seed_%d", time.Now().Unix()),
			Type:   adapter.BillingCheckoutCompleted,
			UserID: user.ID,
			Plan:   model.PlanID(*plan),
		})
		if err != nil {
			logger.Fatal().Err(err).Str("plan", *plan).Msg("apply plan")
		}
	}

	sub, err := subUC.Current(ctx, user.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("load subscription")
	}
	_, secret, err := keyUC.Create(ctx, user.ID, "seed", nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("create api key")
	}

	fmt.Printf("user:    id=%d email=%s\n", user.ID, user.Email)
	fmt.Printf("plan:    %s (%d/%d credits)\n", sub.Plan, sub.CreditsRemaining, sub.CreditsTotal)
	fmt.Printf("api key: %s\n", secret)
}
