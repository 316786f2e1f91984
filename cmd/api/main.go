package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/giftledger-backend/api/routes"
	"github.com/angelmondragon/giftledger-backend/internal/balance"
	"github.com/angelmondragon/giftledger-backend/internal/checkout"
	"github.com/angelmondragon/giftledger-backend/internal/contributions"
	"github.com/angelmondragon/giftledger-backend/internal/reconcile"
	"github.com/angelmondragon/giftledger-backend/internal/redemptions"
	"github.com/angelmondragon/giftledger-backend/internal/registries"
	"github.com/angelmondragon/giftledger-backend/pkg/config"
	"github.com/angelmondragon/giftledger-backend/pkg/db"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
	"github.com/angelmondragon/giftledger-backend/pkg/metrics"
	"github.com/angelmondragon/giftledger-backend/pkg/migrate"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox"
	"github.com/angelmondragon/giftledger-backend/pkg/redis"
	"github.com/angelmondragon/giftledger-backend/pkg/stripe"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	outboxWriter := outbox.NewWriter(outbox.NewRepository(dbClient.DB()), logg)
	projector := balance.NewProjector(dbClient.DB())

	registryRepo := registries.NewRepository(dbClient.DB())
	registryService, err := registries.NewService(registryRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create registry service", err)
		os.Exit(1)
	}

	contributionRepo := contributions.NewRepository(dbClient.DB())
	contributionService, err := contributions.NewService(contributionRepo, registryService)
	if err != nil {
		logg.Error(context.Background(), "failed to create contribution service", err)
		os.Exit(1)
	}

	issuer, err := checkout.NewIssuer(
		registryService,
		contributionRepo,
		stripe.NewCheckoutSessionCreator(stripeClient),
		checkout.Config{
			MinContribution: money.Cents(cfg.Ledger.MinContributionCents),
			ProviderTimeout: cfg.Stripe.CheckoutTimeout,
		},
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout issuer", err)
		os.Exit(1)
	}

	guard, err := reconcile.NewGuard(redisClient, cfg.Ledger.WebhookIdempotency, reconcile.GuardScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	reconciler, err := reconcile.NewService(reconcile.ServiceParams{
		TransactionRunner: dbClient,
		Contributions:     contributionRepo,
		Projector:         projector,
		Outbox:            outboxWriter,
		Guard:             guard,
		SigningSecret:     stripeClient.SigningSecret(),
		Metrics:           ledgerMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	gate, err := redemptions.NewGate(redemptions.GateParams{
		TransactionRunner: dbClient,
		Repository:        redemptions.NewRepository(dbClient.DB()),
		Registries:        registryRepo,
		RegistryService:   registryService,
		Balance:           projector,
		Outbox:            outboxWriter,
		Metrics:           ledgerMetrics,
		Config: redemptions.Config{
			MinRedemption: money.Cents(cfg.Ledger.MinRedemptionCents),
			FlagThreshold: money.Cents(cfg.Ledger.FlagThresholdCents),
		},
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create redemption gate", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:            dbClient,
			Redis:         redisClient,
			Issuer:        issuer,
			Reconciler:    reconciler,
			Registries:    registryService,
			Contributions: contributionService,
			Projector:     projector,
			Redemptions:   gate,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shutting down gracefully")
	}
}
