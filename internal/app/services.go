// Package app assembles the service graph shared by cmd/api and cmd/worker.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"reelgen/internal/adapter/memory"
	"reelgen/internal/adapter/repo"
	"reelgen/internal/breaker"
	"reelgen/internal/bus"
	"reelgen/internal/domain"
	"reelgen/internal/generation"
	"reelgen/internal/infra"
	"reelgen/internal/ledger"
	"reelgen/internal/payments"
	"reelgen/internal/providers/video"
	"reelgen/internal/quality"
	"reelgen/internal/storage"
	"reelgen/internal/telemetry"
)

// Provider is a video backend that can both start tasks and report on them.
type Provider interface {
	video.Submitter
	video.StatusQuerier
}

// Services is the wired domain layer. Optional infrastructure (Pool, Redis,
// NATS) is nil when not configured.
type Services struct {
	Jobs         domain.JobRepository
	Ledger       *ledger.Service
	Breaker      *breaker.Breaker
	Provider     Provider
	Orchestrator *generation.Orchestrator
	Reconciler   *generation.Reconciler
	Batches      *generation.BatchCoordinator
	Sweeper      *generation.Sweeper
	Payments     *payments.Ingestor

	Pool  *pgxpool.Pool
	Redis *redis.Client
	NATS  *bus.Client

	// FileStore is set when artifacts are archived to local disk; cmd/api
	// serves it under /static.
	FileStore *storage.FileStore

	closers []func()
}

// Options lets callers swap collaborators, mostly for tests.
type Options struct {
	// Provider overrides the configured video backend.
	Provider Provider
	// SkipNATS leaves the bus unconnected even when NATS_URL is set.
	SkipNATS bool
}

// Build connects infrastructure named by cfg and wires the services. Close
// releases whatever Build opened.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger, opts Options) (svc *Services, err error) {
	s := &Services{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	var jobs domain.JobRepository
	var ledgerStore domain.LedgerStore
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		store := memory.NewStore()
		jobs, ledgerStore = store, store
		logger.Warn().Msg("app: using in-memory store, state is lost on restart")
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.Pool = pool
		s.closers = append(s.closers, pool.Close)
		if cfg.MigrateOnStart {
			if err := infra.RunMigrations(ctx, pool, logger); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		runner := infra.NewSQLRunner(pool, logger)
		jobs = repo.NewJobRepository(runner)
		ledgerStore = repo.NewLedgerRepository(runner)
	}
	s.Jobs = jobs

	ledgerOpts := ledger.Options{
		RefundAttempts: cfg.RefundRetryAttempts,
		RefundBackoff:  cfg.RefundRetryBackoff,
	}
	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("app: redis unavailable, balance cache disabled")
	} else if redisClient != nil {
		s.Redis = redisClient
		s.closers = append(s.closers, func() { _ = redisClient.Close() })
		ledgerOpts.Cache = ledger.NewRedisBalanceCache(redisClient, cfg.BalanceCacheTTL)
	}
	s.Ledger = ledger.NewService(ledgerStore, logger, ledgerOpts)

	s.Breaker = breaker.New("video-provider", breaker.Settings{
		FailureThreshold:    cfg.BreakerFailureThreshold,
		Timeout:             cfg.BreakerTimeout,
		HalfOpenMaxAttempts: cfg.BreakerHalfOpenMax,
		OnStateChange: func(name string, from, to breaker.Phase) {
			telemetry.BreakerPhase.WithLabelValues(name).Set(telemetry.BreakerPhaseValue(string(to)))
			logger.Warn().Str("breaker", name).Str("from", string(from)).Str("to", string(to)).Msg("breaker: phase changed")
		},
	})
	telemetry.BreakerPhase.WithLabelValues(s.Breaker.Name()).Set(0)

	s.Provider = opts.Provider
	if s.Provider == nil {
		s.Provider = newProvider(cfg, logger)
	}

	var publisher bus.Publisher
	if cfg.NATSURL != "" && !opts.SkipNATS {
		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		s.NATS = nc
		s.closers = append(s.closers, nc.Close)
		publisher = nc
	}

	archiver, err := s.newArchiver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s.Orchestrator = generation.NewOrchestrator(generation.OrchestratorDeps{
		Jobs:        jobs,
		Ledger:      s.Ledger,
		Breaker:     s.Breaker,
		Provider:    s.Provider,
		Logger:      logger,
		CallbackURL: cfg.VideoProviderCallbackURL,
		// Covers the client request timeout plus connection setup.
		ProviderTimeout: cfg.VideoProviderTimeout + 5*time.Second,
	})
	s.Reconciler = generation.NewReconciler(generation.ReconcilerDeps{
		Jobs:   jobs,
		Ledger: s.Ledger,
		Policy: quality.Policy{
			PassThreshold: cfg.QualityPassThreshold,
			AllowedHosts:  cfg.ArtifactAllowedHosts,
		},
		Archiver:    archiver,
		Events:      publisher,
		EventPrefix: cfg.NATSEventSubjectPrefix,
		Logger:      logger,
	})
	s.Batches = generation.NewBatchCoordinator(generation.BatchDeps{
		Orchestrator: s.Orchestrator,
		Ledger:       s.Ledger,
		Jobs:         jobs,
		Logger:       logger,
		MaxItems:     cfg.BatchMaxItems,
		Concurrency:  cfg.BatchConcurrency,
	})
	s.Sweeper = generation.NewSweeper(generation.SweeperDeps{
		Jobs:       jobs,
		Reconciler: s.Reconciler,
		Querier:    s.Provider,
		StuckAfter: cfg.StuckAfter,
		BatchSize:  cfg.SweepBatchSize,
		Logger:     logger,
	})
	s.Payments = payments.NewIngestor(s.Ledger, logger)
	return s, nil
}

// Close releases infrastructure in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Pinger returns the database health check, or nil for the memory store.
func (s *Services) Pinger() interface{ Ping(context.Context) error } {
	if s.Pool == nil {
		return nil
	}
	return s.Pool
}

func newProvider(cfg *infra.Config, logger infra.Logger) Provider {
	client := video.NewClient(video.Options{
		APIKey:         cfg.VideoProviderAPIKey,
		BaseURL:        cfg.VideoProviderBaseURL,
		CallbackURL:    cfg.VideoProviderCallbackURL,
		HTTPClient:     &http.Client{Timeout: cfg.VideoProviderTimeout},
		Logger:         &logger,
		RequestTimeout: cfg.VideoProviderTimeout,
	})
	if !client.HasCredentials() {
		logger.Warn().Msg("app: VIDEO_PROVIDER_API_KEY missing, using synthetic provider")
		return video.NewSynthetic()
	}
	return client
}

// newArchiver prefers S3 when a bucket is configured and falls back to the
// local file store. A nil Archiver keeps provider URLs as-is.
func (s *Services) newArchiver(ctx context.Context, cfg *infra.Config, logger infra.Logger) (generation.Archiver, error) {
	var store storage.ObjectStore
	switch {
	case cfg.S3Bucket != "":
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		store = storage.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)
	case cfg.StoragePath != "":
		path := cfg.StoragePath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		fs, err := storage.NewFileStore(path, cfg.StorageBaseURL)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		s.FileStore = fs
		store = fs
	default:
		return nil, nil
	}
	return storage.NewArchiver(store, nil, cfg.ArtifactMaxBytes, logger), nil
}
