package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ironlady-tech/wati-support/internal/api/router"
	"github.com/ironlady-tech/wati-support/internal/audit"
	"github.com/ironlady-tech/wati-support/internal/botflow"
	appconfig "github.com/ironlady-tech/wati-support/internal/config"
	"github.com/ironlady-tech/wati-support/internal/dedup"
	"github.com/ironlady-tech/wati-support/internal/events"
	"github.com/ironlady-tech/wati-support/internal/identity"
	"github.com/ironlady-tech/wati-support/internal/lifecycle"
	"github.com/ironlady-tech/wati-support/internal/observability/metrics"
	"github.com/ironlady-tech/wati-support/internal/operator"
	"github.com/ironlady-tech/wati-support/internal/ticket"
	"github.com/ironlady-tech/wati-support/internal/wati"
	"github.com/ironlady-tech/wati-support/internal/webhook"
	"github.com/ironlady-tech/wati-support/pkg/logging"
)

func main() {
	// .env is a developer convenience; absence is fine.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting wati-support API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	var cache dedup.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		cache = dedup.NewRedisCache(rdb, cfg.InboundDedupTTL, cfg.ResendSuppression)
		logger.Info("dedup cache backed by redis", "addr", cfg.RedisAddr)
	} else {
		cache = dedup.NewMemoryCache(dedup.MemoryOptions{
			InboundTTL:  cfg.InboundDedupTTL,
			Suppression: cfg.ResendSuppression,
			Capacity:    cfg.DedupCapacity,
		})
	}

	gateway, err := wati.New(wati.Config{
		BaseURL:    cfg.WatiBaseURL,
		APIKey:     cfg.WatiAPIKey,
		Timeout:    cfg.WatiTimeout,
		Logger:     logger.Logger,
		MaxButtons: cfg.MaxButtonLabels,
		Dedup:      cache,
	})
	if err != nil {
		logger.Error("failed to create WATI client", "error", err)
		os.Exit(1)
	}

	producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTicketTopic, logger.Logger)
	defer func() { _ = producer.Close() }()
	if len(cfg.KafkaBrokers) > 0 {
		logger.Info("ticket events enabled", "topic", cfg.KafkaTicketTopic)
	}

	identities := identity.NewRepository(pool)
	tickets := ticket.NewStore(pool, cfg.TicketPrefix)
	audits := audit.NewStore(pool)

	manager := lifecycle.New(lifecycle.Config{
		Identities:    identities,
		Tickets:       tickets,
		Gateway:       gateway,
		Producer:      producer,
		BotContext:    audits,
		Logger:        logger.Logger,
		OperatorEmail: cfg.WatiOperatorID,
		ReplyWindow:   cfg.ReplyWindow,
	})
	botEchoes := botflow.NewProcessor(identities, logger.Logger)
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	webhookHandler := webhook.NewHandler(webhook.HandlerConfig{
		Cache:    cache,
		Audits:   audits,
		Inbound:  manager,
		BotFlow:  botEchoes,
		Delivery: tickets,
		Metrics:  webhookMetrics,
		Logger:   logger.Logger,
	})
	operatorHandler := operator.NewHandler(tickets, manager, logger.Logger)

	r := router.New(&router.Config{
		Logger:          logger,
		WebhookHandler:  webhookHandler,
		OperatorHandler: operatorHandler,
		MetricsHandler:  promhttp.Handler(),

		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		OperatorRateLimit:  cfg.OperatorRateLimit,
		OperatorRateBurst:  cfg.OperatorRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
