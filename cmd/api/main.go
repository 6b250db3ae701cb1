package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"reelgen/internal/app"
	"reelgen/internal/http/handlers"
	httpapi "reelgen/internal/http/httpapi"
	"reelgen/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to wire services")
	}
	defer svc.Close()

	application := &handlers.App{
		Ledger:                svc.Ledger,
		Orchestrator:          svc.Orchestrator,
		Batches:               svc.Batches,
		Reconciler:            svc.Reconciler,
		Payments:              svc.Payments,
		Validator:             handlers.NewAppValidator(),
		Logger:                logger,
		DB:                    svc.Pinger(),
		ProviderWebhookSecret: cfg.ProviderWebhookSecret,
		PaymentWebhookSecret:  cfg.PaymentWebhookSecret,
	}
	if cfg.ProviderWebhookSecret == "" {
		logger.Warn().Msg("api: PROVIDER_WEBHOOK_SECRET empty, provider webhooks are not authenticated")
	}

	opts := httpapi.Options{
		JWTSecret:          cfg.JWTSecret,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		DefaultLocale:      cfg.DefaultLocale,
		Logger:             logger,
	}
	if svc.FileStore != nil {
		opts.StaticDir = svc.FileStore.BasePath()
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(application, opts))

	// The worker process cannot see in-process state, so the memory driver
	// runs the sweeper here.
	if cfg.StoreDriver == infra.StoreDriverMemory {
		go func() {
			if err := svc.Sweeper.Run(ctx, cfg.SweepInterval); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("api: sweeper stopped")
			}
		}()
	}

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("store", cfg.StoreDriver).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
