package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailpipe/internal/api"
	"mailpipe/internal/config"
	"mailpipe/internal/db"
	"mailpipe/internal/dispatch"
	"mailpipe/internal/email"
	"mailpipe/internal/events"
	"mailpipe/internal/metrics"
	"mailpipe/internal/scheduler"
	"mailpipe/internal/template"
	"mailpipe/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Email Sender
	// ------------------------------------------------
	provider := &email.SMTPProvider{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
	}

	sender := &email.Sender{
		Provider: provider,
		From:     cfg.Sender,
		Fallback: cfg.FallbackSender,
		Log:      logger,
	}

	// ------------------------------------------------
	// Renderer
	// ------------------------------------------------
	renderer := template.NewRenderer(template.Defaults{
		AppName:   cfg.AppName,
		LogoURL:   cfg.LogoURL,
		PlanName:  cfg.DefaultPlanName,
		PlanPrice: cfg.DefaultPlanPrice,
	}, nil)

	// ------------------------------------------------
	// Rate Limiter
	// ------------------------------------------------
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)

	// ------------------------------------------------
	// Delivery Worker + Scheduler
	// ------------------------------------------------
	processor := worker.NewProcessor(
		store,
		store,
		store,
		sender,
		renderer,
		limiter,
		logger,
		worker.Config{
			BatchSize:    cfg.BatchSize,
			StuckTimeout: cfg.StuckTimeout,
		},
	)

	trigger := scheduler.NewTrigger(processor, store, logger)

	go trigger.Run(ctx, cfg.PollInterval)

	// ------------------------------------------------
	// Dispatch Service
	// ------------------------------------------------
	dispatcher := dispatch.NewService(store, store, store, sender, renderer, logger)

	// ------------------------------------------------
	// Event Consumers (lifecycle emails)
	// ------------------------------------------------
	if cfg.AMQPURL != "" {
		var dedupe events.EventDeduper
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer rdb.Close()

			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warn("redis unavailable, event dedupe disabled", zap.Error(err))
			} else {
				dedupe = events.NewDeduper(rdb, cfg.DedupeTTL, logger)
			}
		}

		lifecycle := events.NewLifecycleHandler(dispatcher, dedupe, logger)

		startConsumer(ctx, logger, cfg.AMQPURL, "mailpipe.account_created.q",
			events.RoutingKeyAccountCreated, lifecycle.HandleAccountCreated)
		startConsumer(ctx, logger, cfg.AMQPURL, "mailpipe.subscription_updated.q",
			events.RoutingKeySubscriptionUpdated, lifecycle.HandleSubscriptionUpdated)
	} else {
		logger.Warn("AMQP_URL not set, event-driven dispatch disabled")
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Dispatcher: dispatcher,
		Trigger:    trigger,
		Queue:      store,
		Log:        logger,
	}

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: api.NewRouter(apiHandler),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}

func startConsumer(ctx context.Context, logger *zap.Logger, url, queue, routingKey string, handler events.Handler) {
	consumer, err := events.NewConsumer(url, queue, routingKey, handler, logger)
	if err != nil {
		logger.Fatal("event consumer init failed",
			zap.String("queue", queue),
			zap.Error(err),
		)
	}

	go func() {
		defer consumer.Close()
		if err := consumer.Start(ctx); err != nil {
			logger.Error("event consumer stopped",
				zap.String("queue", queue),
				zap.Error(err),
			)
		}
	}()
}
