package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mcclellann/microloan/pkg/config"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/lock"
	"github.com/mcclellann/microloan/pkg/store"
)

// newLocker uses Redis when an address is configured and reachable, and an
// in-process lock otherwise.
func newLocker(cfg *config.Config, log *slog.Logger) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		log.Info("using in-process loan locks")
		return lock.NewKeyedMutex(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Error("could not connect to redis, using in-process loan locks", "addr", cfg.RedisAddr, "error", err)
		client.Close()
		return lock.NewKeyedMutex(), func() {}
	}
	log.Info("using redis loan locks", "addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	return lock.NewRedisLocker(client, cfg.LockTTL), func() { client.Close() }
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize SQLite store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer sqliteStore.Close()

	locker, closeLocker := newLocker(cfg, logger)
	defer closeLocker()

	server := NewServer(sqliteStore, cfg, ledger.WithLocker(locker), ledger.WithLogger(logger))
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}
