package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.DBName,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

func NewPool(ctx context.Context, cfg DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Connect waits for the database to accept connections, retrying with a
// constant delay.
func Connect(ctx context.Context, cfg DBConfig, attempts uint64, delay time.Duration, logger *zap.Logger) (*pgxpool.Pool, error) {
	if attempts == 0 {
		attempts = 1
	}
	var pool *pgxpool.Pool
	attempt := 0
	backoff := retry.WithMaxRetries(attempts-1, retry.NewConstant(delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var err error
		pool, err = NewPool(ctx, cfg)
		if err != nil {
			logger.Warn("Failed to connect to database, retrying",
				zap.Int("attempt", attempt),
				zap.Uint64("max_attempts", attempts),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to database after %d attempts: %w", attempt, err)
	}
	logger.Info("Successfully connected to the database", zap.String("host", cfg.Host), zap.String("database", cfg.DBName))
	return pool, nil
}
