package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wanderlustcms/api/internal/account"
	"github.com/wanderlustcms/api/internal/article"
	"github.com/wanderlustcms/api/internal/auth"
	"github.com/wanderlustcms/api/internal/cache"
	"github.com/wanderlustcms/api/internal/clock"
	"github.com/wanderlustcms/api/internal/config"
	"github.com/wanderlustcms/api/internal/database"
	"github.com/wanderlustcms/api/internal/health"
	"github.com/wanderlustcms/api/internal/web/handler"
	"github.com/wanderlustcms/api/internal/web/middleware"
	"github.com/wanderlustcms/api/internal/web/response"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if cfg.Server.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	clk := clock.System{}

	db := database.NewDatabase()
	if err := db.Connect(ctx, cfg.Database); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, cfg.Database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("Database ready")

	var store cache.CounterStore
	if cfg.Cache.RedisEnabled {
		redisStore, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			PoolSize: cfg.Cache.RedisPoolSize,
		}, clk)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisStore.Close()
		store = redisStore
		logger.Info("Rate limit counters backed by Redis", slog.String("addr", cfg.Cache.RedisAddr))
	} else {
		memoryStore := cache.NewMemoryStore(clk)
		defer memoryStore.Close()
		store = memoryStore
		logger.Info("Rate limit counters backed by process memory")
	}

	issuer, err := auth.NewIssuer(cfg.JWT, clk)
	if err != nil {
		return fmt.Errorf("configure token issuer: %w", err)
	}

	accounts := account.NewRepository(&db)
	articles := article.NewRepository(&db)
	sessions := auth.NewSessionManager(issuer, accounts, cfg.JWT.RefreshTokenExpiry, clk)
	limiter := middleware.NewRateLimiter(store, clk, middleware.DefaultTiers(), middleware.DefaultFallbackTier())
	writer := &response.Writer{Logger: logger, Development: cfg.Server.IsDevelopment()}
	checker := health.NewChecker(&db, store, logger)

	router := handler.NewRouter(handler.RouterDeps{
		Config:  cfg,
		Writer:  writer,
		Issuer:  issuer,
		Limiter: limiter,
		Auth:    handler.NewAuthHandler(accounts, auth.NewPasswordHasher(), sessions, writer, clk, logger),
		Article: handler.NewArticleHandler(articles, writer, clk, logger),
		Health:  handler.NewHealthHandler(checker, writer),
		Logger:  logger,
	})

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening",
			slog.Int("port", cfg.Server.Port),
			slog.String("environment", string(cfg.Server.Environment)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
