package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"topup-checkout/internal/config"
	"topup-checkout/internal/database"
	"topup-checkout/internal/guard"
	"topup-checkout/internal/infrastructure/khqr"
	"topup-checkout/internal/infrastructure/payment"
	"topup-checkout/internal/logger"
	"topup-checkout/internal/repo"
	"topup-checkout/internal/server"
	"topup-checkout/internal/service"
	"topup-checkout/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Setup(cfg.App.LogLevel, cfg.App.LogFormat, "topup-checkout")
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.PostgresURL())
	if err != nil {
		log.Fatal().Err(err).Str("host", cfg.Postgres.Host).Msg("failed to connect to database")
	}
	dbService := database.New(db, cfg.Postgres.DBName)
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	activeGuard := guard.NewMemory()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		// outlive the poll budget so a restart can still see the entry
		activeGuard = guard.NewRedis(rdb, 2*cfg.Poller.Timeout)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis active-order guard")
	}

	orderRepo := repo.NewOrderRepo(db, cfg.App.Timezone)
	catalogRepo := repo.NewCatalogRepo(db)
	userRepo := repo.NewUserRepo(db)

	gateway := payment.NewHTTPGateway(nil, cfg.Payment.BaseURL, cfg.Payment.Token, cfg.Payment.RequestTimeout)
	poller := worker.NewPoller(orderRepo, gateway, activeGuard, cfg.Poller.Interval, cfg.App.Timezone)
	registry := worker.NewRegistry(poller, activeGuard)

	issuer := khqr.NewIssuer(khqr.Merchant{
		BankAccount:   cfg.Merchant.BankAccount,
		Name:          cfg.Merchant.Name,
		City:          cfg.Merchant.City,
		StoreLabel:    cfg.Merchant.StoreLabel,
		PhoneNumber:   cfg.Merchant.PhoneNumber,
		TerminalLabel: cfg.Merchant.TerminalLabel,
	})

	orderService := service.NewOrderService(orderRepo, catalogRepo, userRepo, issuer, activeGuard, registry, service.Options{
		PollTimeout: cfg.Poller.Timeout,
		StrictGuard: cfg.App.StrictGuard,
		Location:    cfg.App.Timezone,
	})

	reconciler := worker.NewReconciliationWorker(orderRepo, registry, poller, activeGuard, cfg.Poller.Timeout, cfg.Poller.ReconcileInterval)
	go reconciler.Run(ctx)

	srv := server.NewServer(orderService, dbService, server.Options{
		DemoUserID:   cfg.App.DemoUserID,
		DemoUsername: cfg.App.DemoUsername,
		CORSOrigins:  cfg.App.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("port", cfg.App.Port).Msg("could not listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Int("pollers", registry.Len()).Msg("pollers did not stop in time")
	}
	if err := dbService.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}

	log.Info().Msg("topup-checkout stopped gracefully")
}
