package outbox

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"policypay/internal/events"
	"policypay/payments/internal/domain"
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Store interface {
	GetPendingMessages(ctx context.Context, querier domain.Querier, limit int) ([]domain.OutboxMessage, error)
	MarkProcessed(ctx context.Context, querier domain.Querier, id string, at time.Time) (bool, error)
	DeleteProcessedBefore(ctx context.Context, querier domain.Querier, before time.Time) (int64, error)
}

type Publisher interface {
	Produce(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

type Config struct {
	BatchSize      int
	PollInterval   time.Duration
	ErrorBackoff   time.Duration
	MaxBackoff     time.Duration
	QueryTimeout   time.Duration
	PublishTimeout time.Duration
	// Retention of processed rows; zero keeps them forever.
	Retention     time.Duration
	PurgeInterval time.Duration
	// Topics maps an event type to its Kafka topic.
	Topics map[string]string
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * time.Second
	}
	if c.MaxBackoff < c.ErrorBackoff {
		c.MaxBackoff = c.ErrorBackoff * 12
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = time.Hour
	}
}

type BatchStats struct {
	Fetched    int
	Published  int
	Failed     int
	Unmarked   int
	Duplicates int
}

// Relay moves pending outbox rows to Kafka. Each row is marked processed
// right after the broker acknowledged it, so a crash re-publishes at most
// the row in flight.
type Relay struct {
	db        domain.Querier
	store     Store
	publisher Publisher
	cfg       Config
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time

	state     atomic.Int32
	lastPurge time.Time
}

func NewRelay(db domain.Querier, store Store, publisher Publisher, cfg Config, metrics *Metrics, logger *zap.Logger) *Relay {
	cfg.setDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Relay{
		db:        db,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Relay) State() State {
	return State(r.state.Load())
}

func (r *Relay) setState(s State) {
	if prev := State(r.state.Swap(int32(s))); prev != s {
		r.logger.Debug("Outbox relay state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

func (r *Relay) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(r.cfg.MaxBackoff, retry.NewExponential(r.cfg.ErrorBackoff))
}

// Run polls the outbox until ctx is cancelled. Failed cycles put the relay
// in backoff; a successful cycle resets the delay.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Starting outbox relay",
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Duration("poll_interval", r.cfg.PollInterval))
	r.setState(StateIdle)

	backoff := r.newBackoff()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.setState(StateStopped)
			r.logger.Info("Outbox relay stopped.")
			return nil
		case <-timer.C:
		}

		r.setState(StateRunning)
		stats, err := r.safeProcessBatch(ctx)
		if ctx.Err() != nil {
			r.setState(StateStopped)
			r.logger.Info("Outbox relay stopped.")
			return nil
		}
		if err != nil {
			wait, _ := backoff.Next()
			r.metrics.CycleErrors.Inc()
			r.setState(StateBackoff)
			r.logger.Error("Outbox relay cycle failed, backing off", zap.Duration("retry_in", wait), zap.Error(err))
			timer.Reset(wait)
			continue
		}

		if stats.Fetched > 0 {
			r.logger.Info("Outbox relay cycle finished",
				zap.Int("fetched", stats.Fetched),
				zap.Int("published", stats.Published),
				zap.Int("failed", stats.Failed),
				zap.Int("unmarked", stats.Unmarked))
		}
		backoff = r.newBackoff()
		r.setState(StateIdle)
		timer.Reset(r.cfg.PollInterval)
	}
}

func (r *Relay) safeProcessBatch(ctx context.Context) (stats BatchStats, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("outbox relay panic: %v", p)
		}
	}()
	return r.ProcessBatch(ctx)
}

// ProcessBatch runs one relay cycle. Per-row failures leave the row pending
// and do not fail the cycle.
func (r *Relay) ProcessBatch(ctx context.Context) (BatchStats, error) {
	var stats BatchStats

	queryCtx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	messages, err := r.store.GetPendingMessages(queryCtx, r.db, r.cfg.BatchSize)
	cancel()
	if err != nil {
		return stats, fmt.Errorf("failed to fetch pending outbox messages: %w", err)
	}

	stats.Fetched = len(messages)
	r.metrics.LastBatchSize.Set(float64(len(messages)))

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		r.relay(ctx, msg, &stats)
	}

	r.purge(ctx)
	return stats, nil
}

func (r *Relay) relay(ctx context.Context, msg domain.OutboxMessage, stats *BatchStats) {
	log := r.logger.With(zap.String("message_id", msg.ID), zap.String("type", msg.Type))

	topic, ok := r.cfg.Topics[msg.Type]
	if !ok {
		log.Error("No topic configured for outbox message type, leaving it pending")
		stats.Failed++
		r.metrics.PublishFailures.Inc()
		return
	}

	// Publish and mark survive shutdown so an acknowledged row gets marked.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PublishTimeout)
	defer cancel()

	headers := map[string]string{
		events.HeaderEventType:   msg.Type,
		events.HeaderAggregateID: msg.AggregateID,
	}
	if err := r.publisher.Produce(opCtx, topic, msg.ID, msg.Payload, headers); err != nil {
		log.Warn("Failed to publish outbox message, will retry next cycle", zap.String("topic", topic), zap.Error(err))
		stats.Failed++
		r.metrics.PublishFailures.Inc()
		return
	}

	claimed, err := r.store.MarkProcessed(opCtx, r.db, msg.ID, r.now().UTC())
	if err != nil {
		log.Error("Outbox message published but not marked processed, it will be published again", zap.Error(err))
		stats.Unmarked++
		r.metrics.MarkFailures.Inc()
		return
	}
	if !claimed {
		log.Debug("Outbox message already marked by another relay")
		stats.Duplicates++
	}

	stats.Published++
	r.metrics.Published.Inc()
	log.Debug("Outbox message published", zap.String("topic", topic))
}

func (r *Relay) purge(ctx context.Context) {
	if r.cfg.Retention <= 0 {
		return
	}
	now := r.now()
	if !r.lastPurge.IsZero() && now.Sub(r.lastPurge) < r.cfg.PurgeInterval {
		return
	}
	r.lastPurge = now

	purgeCtx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	n, err := r.store.DeleteProcessedBefore(purgeCtx, r.db, now.Add(-r.cfg.Retention).UTC())
	if err != nil {
		r.logger.Warn("Failed to purge processed outbox messages", zap.Error(err))
		return
	}
	if n > 0 {
		r.metrics.Purged.Add(float64(n))
		r.logger.Info("Purged processed outbox messages", zap.Int64("count", n), zap.Duration("retention", r.cfg.Retention))
	}
}
