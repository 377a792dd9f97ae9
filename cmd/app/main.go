// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"product-media-studio/internal/config"
	pg "product-media-studio/internal/infra/db/postgres"
	"product-media-studio/internal/infra/logging"
	"product-media-studio/internal/infra/metrics"
	"product-media-studio/internal/infra/poller"
	"product-media-studio/internal/infra/provider"
	red "product-media-studio/internal/infra/redis"
	"product-media-studio/internal/infra/sched"
	"product-media-studio/internal/infra/web"
	"product-media-studio/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	statusCache := red.NewStatusCache(redisClient, cfg.Redis.TTL)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	ledgerRepo := pg.NewLedgerRepo(pool)
	jobRepo := pg.NewJobRepo(pool)

	// ---- Provider ----
	providerClient, err := provider.NewClient(cfg.Provider, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("provider client")
	}

	// ---- Use cases ----
	ledgerUC := usecase.NewLedgerUseCase(ledgerRepo, tm, logger)
	jobPoller := poller.New(providerClient, cfg.Jobs, logger)
	pollPool := poller.NewPool(cfg.Jobs.MaxInFlight)
	orch := usecase.NewOrchestratorUseCase(
		providerClient, ledgerUC, jobRepo, statusCache, locker,
		jobPoller, pollPool, cfg.Jobs, logger,
	)
	orch.Start(ctx)

	// ---- Reconciler ----
	reconciler := sched.NewDebitReconciler(
		ledgerUC, ledgerRepo, jobRepo,
		cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, logger,
	)
	go reconciler.Start(ctx)

	// ---- HTTP API ----
	auth := web.NewAuthManager(cfg.API.JWTSecret, time.Hour)
	server := web.NewServer(orch, ledgerUC, auth, logger)
	go func() {
		if err := server.Start(cfg.API.Port); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	// Poll loops observe the canceled root context; anything cut off before a
	// terminal state is swept by the reconciler on the next run.
	orch.Wait()
	logger.Info().Msg("bye")
}
