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
	"policypay/orders/internal/app/orders"
	orders_http "policypay/orders/internal/handler/http/orders"
	orders_kafka "policypay/orders/internal/handler/kafka"
	"policypay/orders/internal/infrastructure/database"
	kafka_infra "policypay/orders/internal/infrastructure/kafka"
	"policypay/orders/internal/paymentclient"
	order_postgres "policypay/orders/internal/repository/order_repo/postgres"
	policy_postgres "policypay/orders/internal/repository/policy_repo/postgres"
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

	logger.Info("Orders service starting...")

	pool, err := database.Connect(ctx, dbConfig(cfg), cfg.DBConfig.ConnectAttempts, cfg.DBConfig.ConnectDelay, logger)
	if err != nil {
		return err
	}
	defer func() {
		pool.Close()
		logger.Info("Database connection pool closed.")
	}()

	if err := migrate(cfg, dbmigrate.Up, logger); err != nil {
		return err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client := paymentclient.New(paymentclient.Config{
		BaseURL: cfg.Payments.URL,
		Timeout: cfg.Payments.Timeout,
		Retries: cfg.Payments.Retries,
		Backoff: cfg.Payments.Backoff,
	}, logger.With(zap.String("component", "PaymentsClient")))

	orderService := orders.NewOrderService(
		order_postgres.NewOrderRepository(pool, logger.With(zap.String("component", "OrderRepository"))),
		policy_postgres.NewPolicyRepository(pool, logger.With(zap.String("component", "PolicyRepository"))),
		client,
		orders.Options{DefaultProvider: cfg.DefaultProvider, DefaultCurrency: cfg.DefaultCurrency},
		logger.With(zap.String("component", "OrderService")),
	)

	eventsHandler := orders_kafka.NewPaymentEventsHandler(orderService,
		cfg.KafkaPaymentCompletedTopic, cfg.KafkaPaymentFailedTopic,
		orders_kafka.NewMetrics(metrics),
		logger.With(zap.String("component", "PaymentEventsHandler")))

	reader := kafka_infra.NewReader(kafka_infra.ReaderConfig{
		Brokers:     cfg.GetKafkaBrokers(),
		GroupID:     cfg.Consumer.GroupID,
		Topics:      []string{cfg.KafkaPaymentCompletedTopic, cfg.KafkaPaymentFailedTopic},
		StartOffset: cfg.Consumer.AutoOffsetReset,
	}, logger.With(zap.String("component", "KafkaReader")))
	consumer := kafka_infra.NewConsumer(reader, eventsHandler.HandleMessage, kafka_infra.ConsumerConfig{
		FetchTimeout:  cfg.Consumer.FetchTimeout,
		RetryBackoff:  cfg.Consumer.RetryBackoff,
		MaxBackoff:    cfg.Consumer.MaxBackoff,
		HandleTimeout: cfg.Consumer.HandleTimeout,
	}, logger.With(zap.String("component", "KafkaConsumer")))
	defer consumer.Close()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	orders_http.RegisterRoutes(router, orderService,
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
		logger.Info("Kafka consumer subscribing",
			zap.Strings("topics", []string{cfg.KafkaPaymentCompletedTopic, cfg.KafkaPaymentFailedTopic}),
			zap.String("group_id", cfg.Consumer.GroupID))
		return consumer.Run(gctx)
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
