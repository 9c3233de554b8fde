// Package gateway adapts external payment providers to one contract.
//
// A provider decline is not an error: it is reported as a Result with
// Success=false and an ErrorMessage. Errors are reserved for
// ErrConnectivity (transient, safe to retry with the same idempotency key)
// and ErrMisconfigured (fatal).
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"policypay/payments/internal/domain"
)

var (
	ErrConnectivity  = errors.New("gateway connectivity failure")
	ErrMisconfigured = errors.New("gateway misconfigured")
	ErrNotSupported  = errors.New("gateway operation not supported")
)

type SessionRequest struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	PurchaseID     string
	Description    string
}

type ChargeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	PaymentToken   string
	PurchaseID     string
}

type RefundRequest struct {
	ProviderPaymentID string
	Amount            decimal.Decimal
	IdempotencyKey    string
}

type Result struct {
	Success           bool
	ProviderPaymentID string
	RedirectURL       string
	ErrorMessage      string
}

type Gateway interface {
	Provider() domain.Provider
	CreateSession(ctx context.Context, req SessionRequest) (*Result, error)
	Charge(ctx context.Context, req ChargeRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
}

func declined(msg string) *Result {
	return &Result{Success: false, ErrorMessage: msg}
}
