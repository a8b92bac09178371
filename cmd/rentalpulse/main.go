package main

import (
	"context"
	"log/slog"
	"net/http"
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
	"github.com/rentalpulse/rentalpulse/internal/reconcile"
	"github.com/rentalpulse/rentalpulse/internal/rfid"
	"github.com/rentalpulse/rentalpulse/internal/shared"
	"github.com/rentalpulse/rentalpulse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		// Import and correlation locks live in Redis; refusing to start
		// beats running without mutual exclusion.
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
	importHandler := importer.NewHandler(logger, importService, cfg.ImportDir)

	correlateRepo := correlate.NewRepository(pool)
	correlateService := correlate.NewService(correlateRepo, locker, auditLogger, metrics, logger, correlate.ServiceConfig{
		Engine: correlate.EngineConfig{
			SimilarityThreshold: cfg.CorrelationSimilarityThreshold,
			AmbiguityMargin:     cfg.CorrelationAmbiguityMargin,
		},
	})
	correlateHandler := correlate.NewHandler(logger, correlateService)

	reconcileRepo := reconcile.NewRepository(pool)
	reconcileService := reconcile.NewService(reconcileRepo, logger, reconcile.ServiceConfig{
		QtyTolerance: cfg.ReconcileQtyTolerance,
	})
	reconcileHandler := reconcile.NewHandler(logger, reconcileService)

	rfidRepo := rfid.NewRepository(pool)
	rfidService := rfid.NewService(rfidRepo)
	rfidHandler := rfid.NewHandler(logger, rfidService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		ImportHandler:    importHandler,
		CorrelateHandler: correlateHandler,
		ReconcileHandler: reconcileHandler,
		RFIDHandler:      rfidHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
