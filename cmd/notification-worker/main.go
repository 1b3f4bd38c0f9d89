package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/config"
	"github.com/hackgods/slot-reservation/internal/db"
	"github.com/hackgods/slot-reservation/internal/logger"
	"github.com/hackgods/slot-reservation/internal/metrics"
	"github.com/hackgods/slot-reservation/internal/notify"
	redisclient "github.com/hackgods/slot-reservation/internal/redis"
	"github.com/hackgods/slot-reservation/internal/reservation"
)

const jobPrefix = "reservation-jobs"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "notification-worker: %v\n", err)
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

	log.Info("notification-worker starting",
		zap.String("env", cfg.Env),
		zap.Duration("relay_interval", cfg.RelayInterval),
		zap.Duration("job_poll_interval", cfg.JobPollInterval),
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

	var dispatcher reservation.Dispatcher
	if cfg.RabbitMQURL != "" {
		conn, ch, err := notify.OpenChannel(cfg.RabbitMQURL, cfg.WhatsAppQueue)
		if err != nil {
			return err
		}
		defer func() {
			_ = ch.Close()
			_ = conn.Close()
		}()
		dispatcher = notify.NewWhatsAppDispatcher(ch, cfg.WhatsAppQueue, log.Named("whatsapp"))
		log.Info("publishing notifications to RabbitMQ", zap.String("queue", cfg.WhatsAppQueue))
	} else {
		dispatcher = notify.NewLogDispatcher(log.Named("notifications"))
		log.Warn("RABBITMQ_URL not set, notifications are only logged")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	go func() {
		if err := metrics.Serve(rootCtx, ":"+cfg.HTTPPort, reg); err != nil {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	repo := reservation.NewPgRepository(pgPool)
	sched := redisclient.NewScheduler(rdb, jobPrefix, cfg.JobVisibility)
	runner := redisclient.NewJobRunner(sched, log.Named("jobs"), cfg.JobBatchSize)

	notifier := reservation.NewNotifier(repo, dispatcher, sched, m, log.Named("notifier"), nil)
	notifier.Register(runner)
	relay := reservation.NewRelay(repo, notifier, cfg.RelayBatchSize, m, log.Named("outbox"), nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.Run(rootCtx, cfg.RelayInterval)
	}()
	go func() {
		defer wg.Done()
		runner.Run(rootCtx, cfg.JobPollInterval)
	}()

	<-rootCtx.Done()
	log.Info("shutdown signal received, draining workers")
	wg.Wait()
	log.Info("notification-worker stopped")
	return nil
}
