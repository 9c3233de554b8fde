// Package kafka applies payment outcomes from the payment topics to orders.
package kafka

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"policypay/internal/events"
	"policypay/orders/internal/app/orders"
	"policypay/orders/internal/domain"
)

const (
	resultMalformed   = "malformed"
	resultSkipped     = "skipped"
	resultUnknownType = "unknown_type"
	resultRetry       = "retry"
)

type Metrics struct {
	consumed *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		consumed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "payment_events_consumed_total",
			Help: "Payment events handled by the orders consumer, by result.",
		}, []string{"result"}),
	}
}

type PaymentEventsHandler struct {
	orderService orders.OrderService
	// topicTypes resolves the event type of messages without an event_type
	// header.
	topicTypes map[string]string
	metrics    *Metrics
	logger     *zap.Logger
}

func NewPaymentEventsHandler(s orders.OrderService, completedTopic, failedTopic string, m *Metrics, l *zap.Logger) *PaymentEventsHandler {
	return &PaymentEventsHandler{
		orderService: s,
		topicTypes: map[string]string{
			completedTopic: events.TypePaymentCompleted,
			failedTopic:    events.TypePaymentFailed,
		},
		metrics: m,
		logger:  l,
	}
}

// HandleMessage returns an error only for transient failures. Malformed
// and unroutable messages are logged and acknowledged.
func (h *PaymentEventsHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	eventType := header(msg, events.HeaderEventType)
	if eventType == "" {
		eventType = h.topicTypes[msg.Topic]
	}

	log := h.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("event_type", eventType))

	switch eventType {
	case events.TypePaymentCompleted:
		evt, err := events.DecodePaymentCompleted(msg.Value)
		if err != nil {
			return h.skip(log, resultMalformed, "Skipping malformed payment completed event", err, msg.Value)
		}
		log = log.With(zap.String("event_id", evt.ID), zap.String("payment_id", evt.PaymentID), zap.String("order_id", evt.PurchaseID))
		if uuid.Validate(evt.PurchaseID) != nil {
			return h.skip(log, resultSkipped, "Skipping payment event without a valid order id", nil, nil)
		}
		res, err := h.orderService.ActivateOrder(ctx, evt.PurchaseID, evt.PaymentID)
		return h.done(log, res, err)

	case events.TypePaymentFailed:
		evt, err := events.DecodePaymentFailed(msg.Value)
		if err != nil {
			return h.skip(log, resultMalformed, "Skipping malformed payment failed event", err, msg.Value)
		}
		log = log.With(zap.String("event_id", evt.ID), zap.String("payment_id", evt.PaymentID), zap.String("order_id", evt.PurchaseID))
		if uuid.Validate(evt.PurchaseID) != nil {
			return h.skip(log, resultSkipped, "Skipping payment event without a valid order id", nil, nil)
		}
		res, err := h.orderService.CancelOrder(ctx, evt.PurchaseID, evt.Reason, evt.Expired)
		return h.done(log, res, err)

	default:
		return h.skip(log, resultUnknownType, "Skipping message of unknown event type", nil, nil)
	}
}

func (h *PaymentEventsHandler) skip(log *zap.Logger, result, msg string, err error, raw []byte) error {
	h.metrics.consumed.WithLabelValues(result).Inc()
	fields := []zap.Field{}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if raw != nil {
		fields = append(fields, zap.ByteString("raw_message", raw))
	}
	log.Warn(msg, fields...)
	return nil
}

func (h *PaymentEventsHandler) done(log *zap.Logger, res domain.ActivationResult, err error) error {
	if err != nil {
		h.metrics.consumed.WithLabelValues(resultRetry).Inc()
		log.Error("Failed to apply payment event to order", zap.Error(err))
		return err
	}

	h.metrics.consumed.WithLabelValues(res.String()).Inc()
	switch res {
	case domain.ActivationSuccess:
		log.Info("Payment event applied to order")
	case domain.ActivationAlreadyProcessed:
		log.Info("Payment event already applied, skipping")
	default:
		log.Warn("Payment event not applicable to order", zap.Stringer("result", res))
	}
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, hdr := range msg.Headers {
		if hdr.Key == key {
			return string(hdr.Value)
		}
	}
	return ""
}
