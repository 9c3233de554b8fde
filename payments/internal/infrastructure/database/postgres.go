package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"policypay/payments/internal/domain"
)

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
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

func NewPostgresDB(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Connect waits for the database to accept connections, retrying with a
// constant delay.
func Connect(ctx context.Context, cfg DBConfig, attempts uint64, delay time.Duration, logger *zap.Logger) (*sql.DB, error) {
	if attempts == 0 {
		attempts = 1
	}
	var db *sql.DB
	attempt := 0
	backoff := retry.WithMaxRetries(attempts-1, retry.NewConstant(delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var err error
		db, err = NewPostgresDB(ctx, cfg)
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
	return db, nil
}

// TxRunner runs a function inside a database transaction.
type TxRunner struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTxRunner(db *sql.DB, logger *zap.Logger) *TxRunner {
	return &TxRunner{db: db, logger: logger}
}

func (r *TxRunner) DB() domain.Querier {
	return r.db
}

// WithinTx commits when fn returns nil and rolls back otherwise. A panic in
// fn rolls back and is re-raised.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(q domain.Querier) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Panic inside transaction, rolling back", zap.Any("panic", p))
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
