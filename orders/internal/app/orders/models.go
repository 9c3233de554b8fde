package orders

import (
	"github.com/shopspring/decimal"

	"policypay/orders/internal/domain"
)

type CreateOrderRequest struct {
	CustomerID string
	PolicyID   string
	// Provider is the payments provider name. Empty means the configured
	// default.
	Provider string
}

type CreatePolicyRequest struct {
	Name           string
	Premium        decimal.Decimal
	Currency       string
	DurationMonths int
}

// CheckoutResult is an order together with the payment opened for it.
// PaymentID and CheckoutURL are empty when payment initiation failed.
type CheckoutResult struct {
	Order         *domain.Order
	PaymentID     string
	PaymentStatus string
	CheckoutURL   string
}
