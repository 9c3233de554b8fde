// Package events holds the payment events exchanged between the payments
// and orders services through Kafka.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const (
	TypePaymentCompleted = "payment.completed"
	TypePaymentFailed    = "payment.failed"

	HeaderEventType   = "event_type"
	HeaderAggregateID = "aggregate_id"
)

var ErrMalformed = errors.New("malformed event payload")

type Event interface {
	EventID() string
	EventType() string
	AggregateID() string
	OccurredAt() time.Time
}

type PaymentCompleted struct {
	ID         string          `json:"id"`
	OccurredOn time.Time       `json:"occurredOn"`
	PaymentID  string          `json:"paymentId"`
	PurchaseID string          `json:"purchaseId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

func (e PaymentCompleted) EventID() string       { return e.ID }
func (e PaymentCompleted) EventType() string     { return TypePaymentCompleted }
func (e PaymentCompleted) AggregateID() string   { return e.PaymentID }
func (e PaymentCompleted) OccurredAt() time.Time { return e.OccurredOn }

type PaymentFailed struct {
	ID         string          `json:"id"`
	OccurredOn time.Time       `json:"occurredOn"`
	PaymentID  string          `json:"paymentId"`
	PurchaseID string          `json:"purchaseId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason"`
	Expired    bool            `json:"expired"`
}

func (e PaymentFailed) EventID() string       { return e.ID }
func (e PaymentFailed) EventType() string     { return TypePaymentFailed }
func (e PaymentFailed) AggregateID() string   { return e.PaymentID }
func (e PaymentFailed) OccurredAt() time.Time { return e.OccurredOn }

func Marshal(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event %s: %w", e.EventType(), e.EventID(), err)
	}
	return payload, nil
}

// DecodePaymentCompleted decodes a payment.completed payload. Field names
// match case-insensitively.
func DecodePaymentCompleted(data []byte) (*PaymentCompleted, error) {
	var e PaymentCompleted
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(e.PaymentID) == "" {
		return nil, fmt.Errorf("%w: paymentId is empty", ErrMalformed)
	}
	return &e, nil
}

func DecodePaymentFailed(data []byte) (*PaymentFailed, error) {
	var e PaymentFailed
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(e.PaymentID) == "" {
		return nil, fmt.Errorf("%w: paymentId is empty", ErrMalformed)
	}
	return &e, nil
}
