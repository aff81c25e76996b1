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

	"github.com/joho/godotenv"

	"bizbook/backend/internal/cache"
	"bizbook/backend/internal/config"
	"bizbook/backend/internal/httpapi"
	"bizbook/backend/internal/metrics"
	"bizbook/backend/internal/service"
	"bizbook/backend/internal/store"
	"bizbook/backend/internal/store/memory"
	pgstore "bizbook/backend/internal/store/postgres"
	"bizbook/backend/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	logging.Setup()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		slog.Error("invalid security configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", "err", err)
			os.Exit(1)
		}
		repo = pg
		closers = append(closers, pg.Close)
		slog.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		slog.Info("repository: in-memory (seeded demo data)")
	}

	dashCache := cache.DashboardCache(cache.NoopDashboardCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisDashboardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, using noop dashboard cache", "err", err)
		} else {
			dashCache = redisCache
			closers = append(closers, redisCache.Close)
			slog.Info("dashboard cache: redis")
		}
	} else {
		slog.Info("dashboard cache: noop")
	}

	svc := service.New(
		repo,
		dashCache,
		time.Duration(cfg.DashboardCacheTTLSeconds)*time.Second,
		cfg.DefaultCurrency,
		cfg.LowStockThreshold,
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, metrics.New())

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Long enough for SSE streams to be useful; clients reconnect on cut.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("bizbook backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			slog.Error("close error", "err", err)
		}
	}

	slog.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
