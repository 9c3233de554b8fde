package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusActive         OrderStatus = "ACTIVE"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusExpired        OrderStatus = "EXPIRED"
)

// Order is a purchase of a policy. It waits in PENDING_PAYMENT until the
// payment outcome arrives and never leaves a final status.
type Order struct {
	ID                 string
	OrderNumber        string
	PolicyID           string
	CustomerID         string
	Premium            decimal.Decimal
	Currency           string
	CoverageStart      time.Time
	CoverageEnd        time.Time
	Status             OrderStatus
	PaymentReferenceID string
	FailureReason      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ActivatedAt        *time.Time
}

// NewOrder prices an order from the policy. Coverage starts on the UTC day
// of now and lasts the policy's duration.
func NewOrder(id, customerID string, policy *Policy, now time.Time) (*Order, error) {
	if id == "" || strings.TrimSpace(customerID) == "" || policy == nil {
		return nil, fmt.Errorf("%w: id, customer and policy are required", ErrInvalidOrder)
	}
	if !policy.Active {
		return nil, fmt.Errorf("%w: %s", ErrPolicyInactive, policy.ID)
	}

	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return &Order{
		ID:            id,
		PolicyID:      policy.ID,
		CustomerID:    customerID,
		Premium:       policy.Premium,
		Currency:      policy.Currency,
		CoverageStart: start,
		CoverageEnd:   policy.CoverageEnd(start),
		Status:        OrderStatusPendingPayment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s OrderStatus) IsFinal() bool {
	return s != OrderStatusPendingPayment
}

// FormatOrderNumber renders the seq-th order of year, e.g. ORD-2026-007.
func FormatOrderNumber(year, seq int) string {
	return fmt.Sprintf("ORD-%d-%03d", year, seq)
}

// CancelledStatus is the final status for an order whose payment failed.
func CancelledStatus(expired bool) OrderStatus {
	if expired {
		return OrderStatusExpired
	}
	return OrderStatusCancelled
}
