package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"eventcheckin/internal/attendee"
	"eventcheckin/internal/config"
	"eventcheckin/internal/handler"
	"eventcheckin/internal/httpmiddleware"
	"eventcheckin/internal/logging"
	"eventcheckin/internal/notify"
	"eventcheckin/internal/queue"
	"eventcheckin/internal/store"
)

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

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
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

	checks := []handler.Check{{Name: "store", Pinger: backend}}
	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey, log)
		checks = append(checks, handler.Check{Name: "redis", Pinger: redisClient})
	}

	svc := attendee.NewService(backend, plan,
		attendee.WithPublisher(q),
		attendee.WithLogger(log.Named("attendee")),
		attendee.WithRetries(cfg.TxRetries),
	)

	if report, err := svc.Sweep(ctx); err != nil {
		log.Warn("startup reconciliation failed", zap.Error(err))
	} else if report.Changed() {
		log.Info("startup reconciliation repaired sessions",
			zap.Int("created", report.Created),
			zap.Int("updated", report.Updated),
			zap.Int("deleted", report.Deleted),
		)
	}

	// The in-memory queue only exists in this process, so its consumer
	// runs here too. With redis the worker binary consumes.
	if cfg.QueueBackend == "memory" {
		mailer, err := notify.NewMailer(ctx, cfg.SESRegion, cfg.SESFromEmail, cfg.SESFromName, log.Named("mailer"))
		if err != nil {
			return fmt.Errorf("mailer: %w", err)
		}
		dispatcher := notify.NewDispatcher(svc, mailer, log.Named("notify"))
		go func() {
			if err := dispatcher.Run(ctx, q); err != nil {
				log.Error("notification dispatcher stopped", zap.Error(err))
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(log.Named("http"), "/healthz", "/metrics"))
	r.Use(httpmiddleware.Metrics())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())
	r.Use(httpmiddleware.Timeout(cfg.RequestTimeout))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.New(svc, log.Named("handler"), checks...).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreBackend),
			zap.String("queue", cfg.QueueBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
