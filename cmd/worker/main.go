package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"eventcheckin/internal/attendee"
	"eventcheckin/internal/config"
	"eventcheckin/internal/logging"
	"eventcheckin/internal/notify"
	"eventcheckin/internal/queue"
	"eventcheckin/internal/store"
)

// Worker sends photo notification emails from the redis queue and runs the
// periodic session reconciliation sweep.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("worker failed", zap.Error(err))
	}
	log.Info("worker stopped")
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeStore, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = closeStore() }()

	plan, err := cfg.SlotPlan()
	if err != nil {
		return err
	}
	svc := attendee.NewService(backend, plan,
		attendee.WithLogger(log.Named("attendee")),
		attendee.WithRetries(cfg.TxRetries),
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.QueueBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx); err != nil {
			log.Warn("redis not reachable yet, consumer will keep retrying", zap.Error(err))
		}

		mailer, err := notify.NewMailer(ctx, cfg.SESRegion, cfg.SESFromEmail, cfg.SESFromName, log.Named("mailer"))
		if err != nil {
			return fmt.Errorf("mailer: %w", err)
		}
		q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey, log)
		dispatcher := notify.NewDispatcher(svc, mailer, log.Named("notify"))
		g.Go(func() error { return dispatcher.Run(ctx, q) })
	} else {
		log.Info("memory queue is consumed by the api process, worker only sweeps")
	}

	g.Go(func() error { return sweepLoop(ctx, svc, cfg.SweepInterval, log) })

	log.Info("worker started", zap.Duration("sweep_interval", cfg.SweepInterval))
	return g.Wait()
}

// sweepLoop reconciles photo sessions every interval until ctx ends. Sweep
// logs its own failures; the next tick tries again.
func sweepLoop(ctx context.Context, svc *attendee.Service, interval time.Duration, log *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if report, err := svc.Sweep(ctx); err == nil && report.Changed() {
			log.Info("sweep repaired sessions",
				zap.Int("created", report.Created),
				zap.Int("updated", report.Updated),
				zap.Int("deleted", report.Deleted),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
