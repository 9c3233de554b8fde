package order_repo

import (
	"context"
	"time"

	"policypay/orders/internal/domain"
)

type OrderRepository interface {
	// CreateOrder allocates the next order number of the order's year and
	// inserts the order in the same transaction.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error)
	SetPaymentReference(ctx context.Context, id, paymentRef string, at time.Time) error
	// ActivateOrder moves a PENDING_PAYMENT order to ACTIVE. It reports
	// false when no pending order with that id exists.
	ActivateOrder(ctx context.Context, id, paymentRef string, at time.Time) (bool, error)
	// CancelOrder moves a PENDING_PAYMENT order to status. It reports false
	// when no pending order with that id exists.
	CancelOrder(ctx context.Context, id string, status domain.OrderStatus, reason string, at time.Time) (bool, error)
}
