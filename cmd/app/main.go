package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog"

	"async-inference-ledger/internal/config"
	"async-inference-ledger/internal/domain/ports/repository"
	aiAdapters "async-inference-ledger/internal/infra/adapters/ai"
	tele "async-inference-ledger/internal/infra/adapters/telegram"
	"async-inference-ledger/internal/infra/api"
	pg "async-inference-ledger/internal/infra/db/postgres"
	"async-inference-ledger/internal/infra/logging"
	"async-inference-ledger/internal/infra/metrics"
	red "async-inference-ledger/internal/infra/redis"
	"async-inference-ledger/internal/infra/sched"
	"async-inference-ledger/internal/infra/worker"
	"async-inference-ledger/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted ids)")
	migrate := flag.Bool("migrate", false, "apply pending migrations before starting")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	if *migrate {
		db := stdlib.OpenDB(*pool.Config().ConnConfig)
		err := pg.Migrate(ctx, db, "up")
		_ = db.Close()
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}
	go reportPoolStats(ctx, pool)

	// ---- Redis (optional) ----
	var (
		redisClient *red.Client
		limiter     api.RateLimiter
		locker      red.Locker
	)
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient)
		locker = red.NewLocker(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set: rate limiting, job cache and sweep lock disabled")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	userRepo := pg.NewUserRepo(pool)
	ledgerRepo := pg.NewCreditTransactionRepo(pool)
	var jobRepo repository.PredictionJobRepository = pg.NewPredictionJobRepo(pool)
	if redisClient != nil {
		jobRepo = pg.NewJobRepoCacheDecorator(jobRepo, redisClient, cfg.Redis.TTL)
	}

	// ---- Providers ----
	router := aiAdapters.NewRouter(cfg.Provider.Models, cfg.Provider.MaxConcurrent, logger)
	aiAdapters.RegisterDefaults(router, cfg.Provider, logger)

	alerter, err := tele.NewAlerter(cfg.Alert, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram alerter")
	}

	// ---- Use cases ----
	webhookURL := cfg.Webhook.BaseURL + "/webhooks/predictions"
	submitter := usecase.NewJobSubmitter(userRepo, ledgerRepo, jobRepo, tm, router, alerter, webhookURL, logger)
	reconciler := usecase.NewWebhookReconciler(userRepo, ledgerRepo, jobRepo, tm, logger)
	poller := usecase.NewPoller(jobRepo, router, reconciler, cfg.Polling.Interval, logger)
	creditUC := usecase.NewCreditUseCase(userRepo, ledgerRepo, logger)
	jobQuery := usecase.NewJobQueryUseCase(jobRepo, logger)

	// ---- Stale job sweeper ----
	workers := worker.NewPool(cfg.Sweeper.Workers, logger)
	workers.Start(ctx)
	defer workers.Stop()
	sweeper := sched.NewStaleJobSweeper(jobRepo, poller, workers, locker, cfg.Sweeper.Interval, cfg.Sweeper.StaleAfter, logger)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- HTTP ----
	srv := api.NewServer(api.Deps{
		Submitter:       submitter,
		Jobs:            jobQuery,
		Credits:         creditUC,
		Reconciler:      reconciler,
		Poller:          poller,
		Limiter:         limiter,
		Auth:            api.NewAuthManager(cfg.Auth.JWTSecret, time.Hour),
		WebhookSecret:   cfg.Webhook.Secret,
		SubmitPerMinute: cfg.RateLimit.SubmitPerMinute,
		PollTimeout:     cfg.Polling.Timeout,
		RequestTimeout:  cfg.Server.RequestTimeout,
		Health:          pool.Ping,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Port) }()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
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
