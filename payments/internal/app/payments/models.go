package payments

import (
	"strings"

	"github.com/shopspring/decimal"

	"policypay/payments/internal/domain"
)

type PaymentRequest struct {
	UserID       string
	PurchaseID   string
	Amount       decimal.Decimal
	Currency     string
	Provider     domain.Provider
	Description  string
	PaymentToken string
}

type PaymentResult struct {
	Payment *domain.Payment
	// Replayed is set when the idempotency key matched an earlier request.
	Replayed bool
}

// Outcome is the provider verdict delivered by a webhook.
type Outcome struct {
	Succeeded bool
	Reason    string
	Expired   bool
	// EventID and EventType identify the provider event. An empty EventID
	// skips inbox deduplication.
	EventID   string
	EventType string
}

type RefundResult struct {
	PaymentID string
	RefundID  string
}

const maxIdempotencyKeyLen = 255

func normalize(key string, req PaymentRequest) (PaymentRequest, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))

	switch {
	case strings.TrimSpace(key) == "":
		return req, invalid("idempotency key is required")
	case len(key) > maxIdempotencyKeyLen:
		return req, invalid("idempotency key is too long")
	case req.UserID == "":
		return req, invalid("user id is required")
	case !req.Amount.IsPositive():
		return req, invalid("amount must be positive")
	case !validCurrency(req.Currency):
		return req, invalid("currency must be a 3-letter ISO code")
	case !req.Provider.Valid():
		return req, invalid("unknown payment provider")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return req, invalid("amount has more than 2 decimal places")
	}
	return req, nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func invalid(msg string) error {
	return &validationError{msg: msg}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return domain.ErrInvalidRequest.Error() + ": " + e.msg }

func (e *validationError) Unwrap() error { return domain.ErrInvalidRequest }
