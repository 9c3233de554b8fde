package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Reader is the part of *kafka.Reader the consumer drives.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageHandler returns nil once the message is fully applied. Any error
// is treated as transient and the message is handed back again.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

type ReaderConfig struct {
	Brokers     []string
	GroupID     string
	Topics      []string
	StartOffset string
}

// NewReader builds a consumer-group reader over all topics. Offsets are
// committed explicitly by the consumer.
func NewReader(cfg ReaderConfig, logger *zap.Logger) *kafka.Reader {
	startOffset := kafka.FirstOffset
	if cfg.StartOffset == "latest" {
		startOffset = kafka.LastOffset
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		Logger:         kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:    kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	})
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateRetrying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRetrying:
		return "retrying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type ConsumerConfig struct {
	FetchTimeout  time.Duration
	RetryBackoff  time.Duration
	MaxBackoff    time.Duration
	// HandleTimeout bounds one handler attempt and the commit after it.
	// Both keep running through shutdown until this expires.
	HandleTimeout time.Duration
}

func (c *ConsumerConfig) setDefaults() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxBackoff < c.RetryBackoff {
		c.MaxBackoff = 30 * c.RetryBackoff
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = 10 * time.Second
	}
}

// Consumer feeds messages one at a time to a handler and commits each
// offset only after the handler succeeded.
type Consumer struct {
	reader  Reader
	handler MessageHandler
	cfg     ConsumerConfig
	state   atomic.Int32
	logger  *zap.Logger
}

func NewConsumer(reader Reader, handler MessageHandler, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	cfg.setDefaults()
	return &Consumer{reader: reader, handler: handler, cfg: cfg, logger: logger}
}

func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

// Run consumes until ctx is cancelled or the reader is closed. An
// uncommitted message is redelivered to the group after a restart.
func (c *Consumer) Run(ctx context.Context) error {
	c.setState(StateRunning)
	defer c.setState(StateStopped)
	c.logger.Info("Kafka consumer started")

	for {
		msg, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("Kafka consumer stopped")
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.Error("Error fetching message from Kafka", zap.Error(err))
			if !sleep(ctx, c.cfg.RetryBackoff) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			c.logger.Info("Kafka consumer stopped with uncommitted message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset))
			return nil
		}

		if err := c.commit(ctx, msg); err != nil {
			c.logger.Error("Failed to commit offset for message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}
		c.logger.Debug("Committed message offset",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset))
	}
}

func (c *Consumer) fetch(ctx context.Context) (kafka.Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	return c.reader.FetchMessage(fetchCtx)
}

// commit runs on a detached context so a handled message is still
// committed when shutdown begins.
func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.HandleTimeout)
	defer cancel()
	return c.reader.CommitMessages(opCtx, msg)
}

// handle retries the handler with capped exponential backoff until it
// succeeds. It only fails when ctx is cancelled; an attempt already in
// flight is allowed to finish first.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	attempt := 0
	backoff := retry.WithCappedDuration(c.cfg.MaxBackoff, retry.NewExponential(c.cfg.RetryBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.HandleTimeout)
		err := c.handler(opCtx, msg)
		cancel()
		if err != nil {
			c.setState(StateRetrying)
			c.logger.Warn("Error handling Kafka message, will retry",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	c.setState(StateRunning)
	return err
}

func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("Failed to close Kafka consumer", zap.Error(err))
		return fmt.Errorf("failed to close Kafka consumer: %w", err)
	}
	c.logger.Info("Kafka consumer closed")
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
