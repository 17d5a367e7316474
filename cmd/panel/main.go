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
	"github.com/redis/go-redis/v9"

	"github.com/infrapanel/infrapanel/internal/app"
	"github.com/infrapanel/infrapanel/internal/audit"
	audithttp "github.com/infrapanel/infrapanel/internal/audit/http"
	"github.com/infrapanel/infrapanel/internal/observability"
	"github.com/infrapanel/infrapanel/internal/permissions"
	"github.com/infrapanel/infrapanel/internal/platform/cache"
	"github.com/infrapanel/infrapanel/internal/platform/db"
	"github.com/infrapanel/infrapanel/internal/rbac"
	"github.com/infrapanel/infrapanel/internal/resources"
	"github.com/infrapanel/infrapanel/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	health := map[string]app.Pinger{"postgres": dbpool}

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, grant cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		health["redis"] = app.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	history := audit.NewHistory(dbpool)
	grantCache := permissions.NewCache(redisClient, cfg.GrantCacheTTL).WithLogger(logger)

	rbacRepo := rbac.NewRepository(dbpool)
	resourceRepo := resources.NewRepository(dbpool)
	grantRepo := permissions.NewRepository(dbpool)

	grantService := permissions.NewService(grantRepo, permissions.ServiceDeps{
		Roles:     rbacRepo,
		Resources: resourceRepo,
		Audit:     history,
		Cache:     grantCache,
		Metrics:   metrics,
		Logger:    logger,
	})
	resolver := permissions.NewResolver(rbacRepo, grantRepo,
		permissions.WithCache(grantCache),
		permissions.WithDecisionRecorder(metrics),
		permissions.WithLogger(logger),
	)

	rbacService := rbac.NewService(rbacRepo, grantService, history, grantCache, logger)
	if err := rbacService.Bootstrap(ctx); err != nil {
		logger.Error("bootstrap default roles", slog.Any("error", err))
		os.Exit(1)
	}

	tokens, err := rbac.NewTokens(cfg.AuthTokenSecret, cfg.AuthTokenIssuer)
	if err != nil {
		logger.Error("init tokens", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Tokens: tokens, Admins: rbacService, Logger: logger}

	swapService := resources.NewSwapService(resourceRepo, resolver, history, metrics, logger)

	auditService := audit.NewService(audit.NewRepository(dbpool))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACMiddleware:     rbacMiddleware,
		RBACHandler:        rbac.NewHandler(logger, rbacService),
		PermissionsHandler: permissions.NewHandler(logger, grantService, resolver),
		ResourcesHandler:   resources.NewHandler(logger, swapService),
		AuditHandler:       audithttp.NewHandler(logger, auditService),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
		Metrics:            metrics,
		Health:             health,
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
