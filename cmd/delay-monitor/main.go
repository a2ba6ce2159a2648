package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/medflow/er-flow/internal/config"
	"github.com/medflow/er-flow/internal/logger"
	"github.com/medflow/er-flow/internal/store/postgres"
	"github.com/medflow/er-flow/internal/store/sqlite"
	"github.com/medflow/er-flow/internal/triage"
)

// delay-monitor periodically scans the durable store for active
// patients whose time in their current status exceeds the ESI wait
// threshold, and logs them for the charge nurse dashboard. It reads
// the store directly so it can run as its own process next to the
// api-server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat, "delay-monitor")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("delay-monitor starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.MonitorInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(rootCtx, cfg)
	if err != nil {
		zlog.Fatal("store init error", zap.Error(err))
	}
	defer cleanup()

	runOnce(rootCtx, store, zlog)

	ticker := time.NewTicker(cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping delay monitor")
			return
		case <-ticker.C:
			runOnce(rootCtx, store, zlog)
		}
	}
}

func runOnce(ctx context.Context, store triage.Store, zlog *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	patients, err := store.LoadAllPatients(runCtx)
	if err != nil {
		zlog.Error("scan error", zap.Error(err))
		return
	}

	now := time.Now()
	delayed := 0
	for _, p := range patients {
		if !p.Active() {
			continue
		}
		wait := triage.ComputeWait(p, now)
		if !wait.Delayed {
			continue
		}
		delayed++
		zlog.Warn("patient exceeding wait threshold",
			zap.String("patient_id", p.ID),
			zap.Int("esi", p.ESI),
			zap.String("status", string(p.Status)),
			zap.String("department", p.Department),
			zap.Int("minutes_in_status", wait.TimeInStatusMin),
			zap.Int("total_er_minutes", wait.TotalERTimeMin),
		)
	}

	zlog.Info("scan complete",
		zap.Int("patients_scanned", len(patients)),
		zap.Int("delayed", delayed),
		zap.Duration("took", time.Since(start)),
	)
}

func openStore(ctx context.Context, cfg config.Config) (triage.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := postgres.Connect(connCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil
	default:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}
