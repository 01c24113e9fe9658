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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-api/keystone/internal/app"
	"github.com/keystone-api/keystone/internal/audit"
	"github.com/keystone-api/keystone/internal/auth"
	"github.com/keystone-api/keystone/internal/cache"
	"github.com/keystone-api/keystone/internal/observability"
	platformcache "github.com/keystone-api/keystone/internal/platform/cache"
	"github.com/keystone-api/keystone/internal/rbac"
	"github.com/keystone-api/keystone/internal/roles"
	"github.com/keystone-api/keystone/internal/users"
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
	// A failed connect leaves the cache layer inert; the API still serves.
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
	resolver := rbac.NewResolver(registry)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	fileSink, err := audit.NewFileSink(cfg.AuditFilePath, cfg.AuditFileMaxSize, cfg.AuditFileBackups)
	if err != nil {
		logger.Error("init audit file sink", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := fileSink.Close(); err != nil {
			logger.Warn("audit file sink close", slog.Any("error", err))
		}
	}()

	recorder := audit.NewRecorder(logger, metrics,
		audit.NewQueueSink(queueClient),
		fileSink,
	)
	defer recorder.Close()

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, cacheService, cfg.CacheTTLShort, cfg.CacheTTLMedium)
	authorizer := rbac.NewAuthorizer(registry.TopRole(), usersService.AuthorLookup)

	rbacMiddleware := rbac.Middleware{
		Resolver: resolver,
		Owners:   authorizer,
		Recorder: recorder,
		Logger:   logger,
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL, cfg.JWTIssuer)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, tokens, cacheService)
	authHandler := auth.NewHandler(authService, recorder, logger)
	authMiddleware := auth.Middleware{Service: authService}

	usersHandler := users.NewHandler(usersService, recorder, logger)

	rolesService := roles.NewService(registry, usersService, cacheService, cfg.CacheTTLLong)
	rolesHandler := roles.NewHandler(rolesService, recorder, logger)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, cacheService, cfg.AuditRetention, cfg.AuditKeepErrors, cfg.CacheTTLShort)
	auditHandler := audit.NewHandler(auditService, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	if err := queueClient.EnqueueCacheWarmup(ctx); err != nil {
		logger.Warn("enqueue cache warmup", slog.Any("error", err))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		UsersHandler:   usersHandler,
		RolesHandler:   rolesHandler,
		AuditHandler:   auditHandler,
		Recorder:       recorder,
		JobHandler:     jobHandler,
		RBACMiddleware: rbacMiddleware,
		Pool:           pool,
		Cache:          cacheClient,
		Metrics:        metrics,
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
