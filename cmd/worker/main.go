package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"reelgen/internal/app"
	"reelgen/internal/bus"
	"reelgen/internal/infra"
)

const paymentConsumer = "reelgen-credits"

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, "worker")

	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("worker: STORE_DRIVER=memory has no shared state; the api process sweeps in that mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to wire services")
	}
	defer svc.Close()

	if svc.NATS != nil {
		stopConsumer, err := svc.NATS.ConsumeDurable(ctx, bus.ConsumerConfig{
			Stream:         cfg.NATSPaymentStream,
			Subject:        cfg.NATSPaymentSubject,
			Durable:        paymentConsumer,
			RedeliverAfter: cfg.NATSRedeliverAfter,
			OnError: func(err error) {
				logger.Debug().Err(err).Msg("worker: payment message settled with error")
			},
		}, svc.Payments.Consume)
		if err != nil {
			logger.Fatal().Err(err).Str("subject", cfg.NATSPaymentSubject).Msg("worker: payment consumer failed")
		}
		defer stopConsumer()
		logger.Info().
			Str("stream", cfg.NATSPaymentStream).
			Str("subject", cfg.NATSPaymentSubject).
			Str("consumer", paymentConsumer).
			Msg("worker: consuming payment events")
	} else {
		logger.Info().Msg("worker: NATS_URL empty, payment events arrive by webhook only")
	}

	logger.Info().Dur("interval", cfg.SweepInterval).Dur("stuck_after", cfg.StuckAfter).Msg("worker: started")
	if err := svc.Sweeper.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	logger.Info().Msg("worker: stopped")
}
