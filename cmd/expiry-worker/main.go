package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/config"
	"github.com/hackgods/slot-reservation/internal/db"
	"github.com/hackgods/slot-reservation/internal/logger"
	"github.com/hackgods/slot-reservation/internal/metrics"
	redisclient "github.com/hackgods/slot-reservation/internal/redis"
	"github.com/hackgods/slot-reservation/internal/reservation"
)

// sweepLockKey makes sure only one replica sweeps at a time.
const sweepLockKey = "lock:expiry-sweep"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "expiry-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("expiry-worker starting",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.SweepSchedule),
		zap.Int("batch_size", cfg.SweepBatchSize),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	go func() {
		if err := metrics.Serve(rootCtx, ":"+cfg.HTTPPort, reg); err != nil {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	repo := reservation.NewPgRepository(pgPool)
	approvals := reservation.NewApprovalService(repo, m, log.Named("approvals"), nil)
	sweeper := reservation.NewSweeper(repo, approvals, cfg.SweepBatchSize, m, log.Named("sweeper"))
	leader := redisclient.NewRedisLocker(rdb, cfg.SweepTimeout)

	sweep := func() {
		err := leader.WithLock(rootCtx, sweepLockKey, func(ctx context.Context) error {
			report, err := sweeper.Run(ctx, time.Now())
			if err != nil {
				return err
			}
			log.Info("sweep complete",
				zap.Int("scanned", report.Scanned),
				zap.Int("expired", report.Expired),
				zap.Int("skipped", report.Skipped),
				zap.Int("failed", report.Failed),
				zap.Int("slots_expired", report.SlotsExpired),
			)
			return nil
		})
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			log.Debug("another replica holds the sweep lock")
		case err != nil:
			log.Error("sweep failed", zap.Error(err))
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.SweepSchedule, sweep); err != nil {
		return fmt.Errorf("invalid SWEEP_SCHEDULE %q: %w", cfg.SweepSchedule, err)
	}

	sweep()
	c.Start()

	<-rootCtx.Done()
	log.Info("shutdown signal received, waiting for running sweep")
	<-c.Stop().Done()
	log.Info("expiry-worker stopped")
	return nil
}
