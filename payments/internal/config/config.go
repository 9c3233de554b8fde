package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"policypay/payments/internal/domain"
)

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	ConnectAttempts uint64
	ConnectDelay    time.Duration
}

type OutboxConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	ErrorBackoff   time.Duration
	MaxBackoff     time.Duration
	PublishTimeout time.Duration
	Retention      time.Duration
}

type Config struct {
	HTTPPort int
	LogLevel string

	DBConfig DBConfig

	KafkaBrokerURL             string
	KafkaPaymentCompletedTopic string
	KafkaPaymentFailedTopic    string
	KafkaTopicPartitions       int

	Outbox OutboxConfig

	Providers []domain.Provider

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string

	MidtransServerKey string
	MidtransEnv       string

	MockOutcome       string
	MockSeed          uint64
	MockWebhookSecret string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PAYMENTS_HTTP_PORT", 8082)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("PAYMENTS_DB_HOST", "localhost")
	v.SetDefault("PAYMENTS_DB_PORT", 5432)
	v.SetDefault("PAYMENTS_DB_USER", "user")
	v.SetDefault("PAYMENTS_DB_PASSWORD", "password")
	v.SetDefault("PAYMENTS_DB_NAME", "payments_db")
	v.SetDefault("PAYMENTS_DB_SSLMODE", "disable")
	v.SetDefault("DB_CONNECT_ATTEMPTS", 10)
	v.SetDefault("DB_CONNECT_DELAY", 5*time.Second)

	v.SetDefault("KAFKA_BROKER_URL", "localhost:9092")
	v.SetDefault("KAFKA_PAYMENT_COMPLETED_TOPIC", "payment-completed")
	v.SetDefault("KAFKA_PAYMENT_FAILED_TOPIC", "payment-failed")
	v.SetDefault("KAFKA_TOPIC_PARTITIONS", 1)

	v.SetDefault("OUTBOX_BATCH_SIZE", 20)
	v.SetDefault("OUTBOX_POLL_INTERVAL", 5*time.Second)
	v.SetDefault("OUTBOX_ERROR_BACKOFF", 10*time.Second)
	v.SetDefault("OUTBOX_MAX_BACKOFF", 2*time.Minute)
	v.SetDefault("OUTBOX_PUBLISH_TIMEOUT", 10*time.Second)
	v.SetDefault("OUTBOX_RETENTION", 168*time.Hour)

	v.SetDefault("PAYMENT_PROVIDERS", "mock")
	v.SetDefault("STRIPE_SUCCESS_URL", "http://localhost/payments/success")
	v.SetDefault("STRIPE_CANCEL_URL", "http://localhost/payments/cancel")
	v.SetDefault("MIDTRANS_ENV", "sandbox")
	v.SetDefault("MOCK_GATEWAY_OUTCOME", "random")
	v.SetDefault("MOCK_GATEWAY_SEED", 1)
	v.SetDefault("MOCK_WEBHOOK_SECRET", "mock-webhook-secret")
}

// LoadConfig reads the environment, optionally layered over a config file.
// Keys in the file use the environment variable names.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTPPort: v.GetInt("PAYMENTS_HTTP_PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),
		DBConfig: DBConfig{
			Host:            v.GetString("PAYMENTS_DB_HOST"),
			Port:            v.GetInt("PAYMENTS_DB_PORT"),
			User:            v.GetString("PAYMENTS_DB_USER"),
			Password:        v.GetString("PAYMENTS_DB_PASSWORD"),
			Name:            v.GetString("PAYMENTS_DB_NAME"),
			SSLMode:         v.GetString("PAYMENTS_DB_SSLMODE"),
			ConnectAttempts: v.GetUint64("DB_CONNECT_ATTEMPTS"),
			ConnectDelay:    v.GetDuration("DB_CONNECT_DELAY"),
		},
		KafkaBrokerURL:             v.GetString("KAFKA_BROKER_URL"),
		KafkaPaymentCompletedTopic: v.GetString("KAFKA_PAYMENT_COMPLETED_TOPIC"),
		KafkaPaymentFailedTopic:    v.GetString("KAFKA_PAYMENT_FAILED_TOPIC"),
		KafkaTopicPartitions:       v.GetInt("KAFKA_TOPIC_PARTITIONS"),
		Outbox: OutboxConfig{
			BatchSize:      v.GetInt("OUTBOX_BATCH_SIZE"),
			PollInterval:   v.GetDuration("OUTBOX_POLL_INTERVAL"),
			ErrorBackoff:   v.GetDuration("OUTBOX_ERROR_BACKOFF"),
			MaxBackoff:     v.GetDuration("OUTBOX_MAX_BACKOFF"),
			PublishTimeout: v.GetDuration("OUTBOX_PUBLISH_TIMEOUT"),
			Retention:      v.GetDuration("OUTBOX_RETENTION"),
		},
		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:    v.GetString("STRIPE_SUCCESS_URL"),
		StripeCancelURL:     v.GetString("STRIPE_CANCEL_URL"),
		MidtransServerKey:   v.GetString("MIDTRANS_SERVER_KEY"),
		MidtransEnv:         v.GetString("MIDTRANS_ENV"),
		MockOutcome:         strings.ToLower(v.GetString("MOCK_GATEWAY_OUTCOME")),
		MockSeed:            v.GetUint64("MOCK_GATEWAY_SEED"),
		MockWebhookSecret:   v.GetString("MOCK_WEBHOOK_SECRET"),
	}

	providers, err := parseProviders(v.GetString("PAYMENT_PROVIDERS"))
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseProviders(raw string) ([]domain.Provider, error) {
	var out []domain.Provider
	seen := map[domain.Provider]bool{}
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, err := domain.ParseProvider(name)
		if err != nil {
			return nil, fmt.Errorf("PAYMENT_PROVIDERS: %w", err)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("PAYMENT_PROVIDERS: at least one provider must be enabled")
	}
	return out, nil
}

func (c *Config) validate() error {
	switch {
	case c.DBConfig.ConnectAttempts == 0:
		return errors.New("DB_CONNECT_ATTEMPTS must be positive")
	case c.Outbox.BatchSize <= 0:
		return errors.New("OUTBOX_BATCH_SIZE must be positive")
	case c.Outbox.PollInterval <= 0:
		return errors.New("OUTBOX_POLL_INTERVAL must be positive")
	case c.Outbox.ErrorBackoff <= 0:
		return errors.New("OUTBOX_ERROR_BACKOFF must be positive")
	case c.Outbox.MaxBackoff < c.Outbox.ErrorBackoff:
		return errors.New("OUTBOX_MAX_BACKOFF must not be below OUTBOX_ERROR_BACKOFF")
	case c.Outbox.Retention < 0:
		return errors.New("OUTBOX_RETENTION must not be negative")
	case c.KafkaTopicPartitions <= 0:
		return errors.New("KAFKA_TOPIC_PARTITIONS must be positive")
	}
	switch c.MockOutcome {
	case "random", "success", "decline", "connectivity", "misconfigured":
	default:
		return fmt.Errorf("MOCK_GATEWAY_OUTCOME: unknown outcome %q", c.MockOutcome)
	}
	return nil
}

func (c *Config) Enabled(p domain.Provider) bool {
	for _, e := range c.Providers {
		if e == p {
			return true
		}
	}
	return false
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}
