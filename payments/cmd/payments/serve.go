package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"policypay/internal/dbmigrate"
	"policypay/internal/events"
	"policypay/payments/internal/app/payments"
	"policypay/payments/internal/config"
	"policypay/payments/internal/domain"
	"policypay/payments/internal/gateway"
	payments_http "policypay/payments/internal/handler/http/payments"
	"policypay/payments/internal/infrastructure/database"
	kafka_infra "policypay/payments/internal/infrastructure/kafka"
	"policypay/payments/internal/outbox"
	"policypay/payments/internal/repository/inbox_repo"
	"policypay/payments/internal/repository/outbox_repo"
	"policypay/payments/internal/repository/payments_repo"
	"policypay/payments/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

func serve(cmd *cobra.Command, configPath string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Payments service starting...", zap.Any("providers", cfg.Providers))

	db, err := database.Connect(ctx, dbConfig(cfg), cfg.DBConfig.ConnectAttempts, cfg.DBConfig.ConnectDelay, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Error closing database connection", zap.Error(err))
		} else {
			logger.Info("Database connection closed.")
		}
	}()

	if err := migrate(cfg, dbmigrate.Up, logger); err != nil {
		return err
	}

	topics := map[string]string{
		events.TypePaymentCompleted: cfg.KafkaPaymentCompletedTopic,
		events.TypePaymentFailed:    cfg.KafkaPaymentFailedTopic,
	}
	topicCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = kafka_infra.EnsureTopics(topicCtx, cfg.GetKafkaBrokers(),
		[]string{cfg.KafkaPaymentCompletedTopic, cfg.KafkaPaymentFailedTopic}, cfg.KafkaTopicPartitions, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to ensure Kafka topics: %w", err)
	}

	registry, err := gateway.NewRegistry(gatewayConfig(cfg), logger.With(zap.String("component", "Gateway")))
	if err != nil {
		return err
	}
	parsers, err := webhookParsers(cfg, registry)
	if err != nil {
		return err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	outboxRepository := outbox_repo.NewOutboxRepository()
	paymentService := payments.NewPaymentService(
		database.NewTxRunner(db, logger.With(zap.String("component", "TxRunner"))),
		registry,
		payments_repo.NewPaymentRepository(),
		inbox_repo.NewInboxRepository(),
		outbox.NewWriter(outboxRepository),
		payments.NewMetrics(metrics),
		logger.With(zap.String("component", "PaymentService")),
	)

	producer := kafka_infra.NewProducer(cfg.GetKafkaBrokers(), cfg.Outbox.PublishTimeout,
		logger.With(zap.String("component", "KafkaProducer")))
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error("Error closing Kafka producer", zap.Error(err))
		} else {
			logger.Info("Kafka producer closed.")
		}
	}()

	relay := outbox.NewRelay(db, outboxRepository, producer, outbox.Config{
		BatchSize:      cfg.Outbox.BatchSize,
		PollInterval:   cfg.Outbox.PollInterval,
		ErrorBackoff:   cfg.Outbox.ErrorBackoff,
		MaxBackoff:     cfg.Outbox.MaxBackoff,
		PublishTimeout: cfg.Outbox.PublishTimeout,
		Retention:      cfg.Outbox.Retention,
		Topics:         topics,
	}, outbox.NewMetrics(metrics), logger.With(zap.String("component", "OutboxRelay")))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	payments_http.RegisterRoutes(router, paymentService, parsers,
		promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}),
		logger.With(zap.String("component", "HTTPHandler")))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down application...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server graceful shutdown failed: %w", err)
		}
		logger.Info("HTTP server gracefully shut down.")
		return nil
	})

	err = g.Wait()
	logger.Info("Application shut down.", zap.Error(err))
	return err
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		Enabled: cfg.Providers,
		Stripe: gateway.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			SuccessURL:    cfg.StripeSuccessURL,
			CancelURL:     cfg.StripeCancelURL,
		},
		Midtrans: gateway.MidtransConfig{
			ServerKey:   cfg.MidtransServerKey,
			Environment: cfg.MidtransEnv,
		},
		Mock: gateway.MockConfig{
			Outcome: gateway.MockOutcome(cfg.MockOutcome),
			Seed:    cfg.MockSeed,
		},
	}
}

func webhookParsers(cfg *config.Config, registry *gateway.Registry) ([]webhook.Parser, error) {
	var parsers []webhook.Parser
	for _, p := range cfg.Providers {
		var (
			parser webhook.Parser
			err    error
		)
		switch p {
		case domain.ProviderStripe:
			gw, gerr := registry.Get(p)
			if gerr != nil {
				return nil, gerr
			}
			sessions, _ := gw.(webhook.SessionLookup)
			parser, err = webhook.NewStripeParser(cfg.StripeWebhookSecret, sessions)
		case domain.ProviderMidtrans:
			parser, err = webhook.NewMidtransParser(cfg.MidtransServerKey)
		case domain.ProviderMock:
			parser, err = webhook.NewMockParser(cfg.MockWebhookSecret)
		default:
			return nil, fmt.Errorf("%w: no webhook parser for provider %s", domain.ErrProviderMisconfigured, p)
		}
		if err != nil {
			return nil, err
		}
		parsers = append(parsers, parser)
	}
	return parsers, nil
}
