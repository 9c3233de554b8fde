package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32

	ConnectAttempts uint64
	ConnectDelay    time.Duration
}

type ConsumerConfig struct {
	GroupID         string
	AutoOffsetReset string
	FetchTimeout    time.Duration
	RetryBackoff    time.Duration
	MaxBackoff      time.Duration
	HandleTimeout   time.Duration
}

type PaymentsClientConfig struct {
	URL     string
	Timeout time.Duration
	Retries uint64
	Backoff time.Duration
}

type Config struct {
	HTTPPort int
	LogLevel string

	DBConfig DBConfig

	KafkaBrokerURL             string
	KafkaPaymentCompletedTopic string
	KafkaPaymentFailedTopic    string
	Consumer                   ConsumerConfig

	Payments        PaymentsClientConfig
	DefaultProvider string
	DefaultCurrency string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ORDERS_HTTP_PORT", 8081)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("ORDERS_DB_HOST", "localhost")
	v.SetDefault("ORDERS_DB_PORT", 5432)
	v.SetDefault("ORDERS_DB_USER", "user")
	v.SetDefault("ORDERS_DB_PASSWORD", "password")
	v.SetDefault("ORDERS_DB_NAME", "orders_db")
	v.SetDefault("ORDERS_DB_SSLMODE", "disable")
	v.SetDefault("ORDERS_DB_MAX_CONNS", 10)
	v.SetDefault("DB_CONNECT_ATTEMPTS", 10)
	v.SetDefault("DB_CONNECT_DELAY", 5*time.Second)

	v.SetDefault("KAFKA_BROKER_URL", "localhost:9092")
	v.SetDefault("KAFKA_PAYMENT_COMPLETED_TOPIC", "payment-completed")
	v.SetDefault("KAFKA_PAYMENT_FAILED_TOPIC", "payment-failed")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "orders-payment-events")
	v.SetDefault("KAFKA_AUTO_OFFSET_RESET", "earliest")
	v.SetDefault("KAFKA_FETCH_TIMEOUT", 30*time.Second)
	v.SetDefault("CONSUMER_RETRY_BACKOFF", time.Second)
	v.SetDefault("CONSUMER_MAX_BACKOFF", 30*time.Second)
	v.SetDefault("CONSUMER_HANDLE_TIMEOUT", 10*time.Second)

	v.SetDefault("PAYMENTS_SERVICE_URL", "http://localhost:8082")
	v.SetDefault("PAYMENTS_CLIENT_TIMEOUT", 10*time.Second)
	v.SetDefault("PAYMENTS_CLIENT_RETRIES", 3)
	v.SetDefault("PAYMENTS_CLIENT_BACKOFF", 200*time.Millisecond)
	v.SetDefault("DEFAULT_PAYMENT_PROVIDER", "mock")
	v.SetDefault("DEFAULT_CURRENCY", "USD")
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
		HTTPPort: v.GetInt("ORDERS_HTTP_PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),
		DBConfig: DBConfig{
			Host:            v.GetString("ORDERS_DB_HOST"),
			Port:            v.GetInt("ORDERS_DB_PORT"),
			User:            v.GetString("ORDERS_DB_USER"),
			Password:        v.GetString("ORDERS_DB_PASSWORD"),
			Name:            v.GetString("ORDERS_DB_NAME"),
			SSLMode:         v.GetString("ORDERS_DB_SSLMODE"),
			MaxConns:        v.GetInt32("ORDERS_DB_MAX_CONNS"),
			ConnectAttempts: v.GetUint64("DB_CONNECT_ATTEMPTS"),
			ConnectDelay:    v.GetDuration("DB_CONNECT_DELAY"),
		},
		KafkaBrokerURL:             v.GetString("KAFKA_BROKER_URL"),
		KafkaPaymentCompletedTopic: v.GetString("KAFKA_PAYMENT_COMPLETED_TOPIC"),
		KafkaPaymentFailedTopic:    v.GetString("KAFKA_PAYMENT_FAILED_TOPIC"),
		Consumer: ConsumerConfig{
			GroupID:         v.GetString("KAFKA_CONSUMER_GROUP"),
			AutoOffsetReset: strings.ToLower(v.GetString("KAFKA_AUTO_OFFSET_RESET")),
			FetchTimeout:    v.GetDuration("KAFKA_FETCH_TIMEOUT"),
			RetryBackoff:    v.GetDuration("CONSUMER_RETRY_BACKOFF"),
			MaxBackoff:      v.GetDuration("CONSUMER_MAX_BACKOFF"),
			HandleTimeout:   v.GetDuration("CONSUMER_HANDLE_TIMEOUT"),
		},
		Payments: PaymentsClientConfig{
			URL:     v.GetString("PAYMENTS_SERVICE_URL"),
			Timeout: v.GetDuration("PAYMENTS_CLIENT_TIMEOUT"),
			Retries: v.GetUint64("PAYMENTS_CLIENT_RETRIES"),
			Backoff: v.GetDuration("PAYMENTS_CLIENT_BACKOFF"),
		},
		DefaultProvider: strings.ToLower(strings.TrimSpace(v.GetString("DEFAULT_PAYMENT_PROVIDER"))),
		DefaultCurrency: strings.ToUpper(v.GetString("DEFAULT_CURRENCY")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.KafkaBrokerURL == "":
		return errors.New("KAFKA_BROKER_URL is required")
	case c.Consumer.GroupID == "":
		return errors.New("KAFKA_CONSUMER_GROUP is required")
	case c.Consumer.RetryBackoff <= 0:
		return errors.New("CONSUMER_RETRY_BACKOFF must be positive")
	case c.Consumer.MaxBackoff < c.Consumer.RetryBackoff:
		return errors.New("CONSUMER_MAX_BACKOFF must not be below CONSUMER_RETRY_BACKOFF")
	case c.Payments.URL == "":
		return errors.New("PAYMENTS_SERVICE_URL is required")
	case c.Payments.Timeout <= 0:
		return errors.New("PAYMENTS_CLIENT_TIMEOUT must be positive")
	}
	switch c.Consumer.AutoOffsetReset {
	case "earliest", "latest":
	default:
		return fmt.Errorf("KAFKA_AUTO_OFFSET_RESET: unknown value %q", c.Consumer.AutoOffsetReset)
	}
	switch c.DefaultProvider {
	case "stripe", "midtrans", "mock":
	default:
		return fmt.Errorf("DEFAULT_PAYMENT_PROVIDER: unknown provider %q", c.DefaultProvider)
	}
	return nil
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}
