package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medflow/er-flow/internal/api"
	"github.com/medflow/er-flow/internal/beds"
	"github.com/medflow/er-flow/internal/config"
	"github.com/medflow/er-flow/internal/events"
	"github.com/medflow/er-flow/internal/logger"
	redisclient "github.com/medflow/er-flow/internal/redis"
	"github.com/medflow/er-flow/internal/store/postgres"
	"github.com/medflow/er-flow/internal/store/sqlite"
	"github.com/medflow/er-flow/internal/triage"
)

const version = "1.0.0"

// appStore is the full surface both store drivers provide.
type appStore interface {
	triage.Store
	beds.Store
	api.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat, "api-server")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store_driver", cfg.StoreDriver),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(rootCtx, cfg)
	if err != nil {
		zlog.Fatal("store init error", zap.Error(err))
	}
	defer cleanup()
	zlog.Info("store ready")

	var pub events.Publisher = events.Nop{}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		client, err := redisclient.New(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			zlog.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := client.Close(); err != nil {
				zlog.Warn("error closing redis", zap.Error(err))
			}
		}()
		rdb = client
		pub = events.NewRedisPublisher(client, cfg.EventChannel)
		zlog.Info("connected to redis", zap.String("channel", cfg.EventChannel))
	}

	queue := triage.NewSmartQueue(store, pub, zlog)
	registry := beds.NewRegistry(store, queue, pub, zlog)
	queue.SetBedReleaser(registry)

	if err := queue.Load(rootCtx); err != nil {
		zlog.Fatal("patient load error", zap.Error(err))
	}
	if err := registry.Load(rootCtx); err != nil {
		zlog.Fatal("bed load error", zap.Error(err))
	}

	router := api.NewRouter(api.RouterConfig{
		Queue:    queue,
		Registry: registry,
		Store:    store,
		Redis:    rdb,
		Logger:   zlog,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		zlog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown error", zap.Error(err))
	}
	zlog.Info("api-server stopped")
}

func openStore(ctx context.Context, cfg config.Config) (appStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := postgres.Connect(connCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}
