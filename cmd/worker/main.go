package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rentalpulse/rentalpulse/db/migrations"
	"github.com/rentalpulse/rentalpulse/internal/app"
	"github.com/rentalpulse/rentalpulse/internal/correlate"
	"github.com/rentalpulse/rentalpulse/internal/importer"
	"github.com/rentalpulse/rentalpulse/internal/observability"
	"github.com/rentalpulse/rentalpulse/internal/platform/cache"
	"github.com/rentalpulse/rentalpulse/internal/platform/db"
	"github.com/rentalpulse/rentalpulse/internal/shared"
	"github.com/rentalpulse/rentalpulse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := db.Migrate(cfg.PGDSN, migrations.Files, logger); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	locker := shared.NewLocker(redisClient)
	auditLogger := shared.NewAuditLogger(pool)
	metrics := observability.NewMetrics()

	importRepo := importer.NewRepository(pool)
	importService, err := importer.NewService(importRepo, locker, auditLogger, metrics, logger, importer.ServiceConfig{
		LocationCodes:   cfg.LocationCodes,
		AggregateCode:   cfg.AggregateCode,
		WeekEndingDay:   time.Weekday(cfg.WeekEndingDay),
		Encoding:        cfg.ImportEncoding,
		LockTTL:         cfg.ImportLockTTL,
		MaxRetries:      cfg.ImportMaxRetries,
		SkipDetailLimit: cfg.ImportSkipDetailLimit,
	})
	if err != nil {
		logger.Error("init import service", slog.Any("error", err))
		os.Exit(1)
	}

	correlateRepo := correlate.NewRepository(pool)
	correlateService := correlate.NewService(correlateRepo, locker, auditLogger, metrics, logger, correlate.ServiceConfig{
		Engine: correlate.EngineConfig{
			SimilarityThreshold: cfg.CorrelationSimilarityThreshold,
			AmbiguityMargin:     cfg.CorrelationAmbiguityMargin,
		},
	})

	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	importRunJob := jobs.NewImportRunJob(importService, logger, cfg.ImportDir)
	importScanJob := jobs.NewImportScanJob(importService, client, logger, cfg.ImportDir)
	refreshJob := jobs.NewCorrelationRefreshJob(correlateService, logger)

	scanTask, err := jobs.NewImportScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}
	refreshTask, err := jobs.NewCorrelationRefreshTask(time.Now().UTC())
	if err != nil {
		logger.Error("build refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskImportRun, Handler: importRunJob.Handle},
			{Type: jobs.TaskImportScan, Handler: importScanJob.Handle},
			{Type: jobs.TaskCorrelationRefresh, Handler: refreshJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "0 3 * * *", Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
