package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-api/keystone/internal/app"
	"github.com/keystone-api/keystone/internal/audit"
	"github.com/keystone-api/keystone/internal/cache"
	"github.com/keystone-api/keystone/internal/observability"
	platformcache "github.com/keystone-api/keystone/internal/platform/cache"
	"github.com/keystone-api/keystone/internal/rbac"
	"github.com/keystone-api/keystone/internal/roles"
	"github.com/keystone-api/keystone/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	cacheClient := platformcache.NewClient(platformcache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err := cacheClient.Connect(ctx); err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer cacheClient.Disconnect()

	metrics := observability.NewMetrics()
	cacheService := cache.NewService(cacheClient, logger, metrics)

	registry, err := rbac.DefaultRegistry()
	if err != nil {
		logger.Error("build role registry", slog.Any("error", err))
		os.Exit(1)
	}

	store := audit.NewPGSink(pool)
	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, cacheService, cfg.AuditRetention, cfg.AuditKeepErrors, cfg.CacheTTLShort)
	rolesService := roles.NewService(registry, nil, cacheService, cfg.CacheTTLLong)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditPersist, Handler: jobs.NewAuditPersistHandler(store, logger)},
			{Type: jobs.TaskAuditSweep, Handler: jobs.NewAuditSweepHandler(auditService, logger)},
			{Type: jobs.TaskCacheWarmup, Handler: jobs.NewCacheWarmupHandler(rolesService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AuditSweepCron, Task: jobs.NewAuditSweepTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
