package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

type Payment struct {
	ID                string
	IdempotencyKey    string
	UserID            string
	PurchaseID        string
	Amount            decimal.Decimal
	Currency          string
	Provider          Provider
	ProviderPaymentID string
	RedirectURL       string
	Status            PaymentStatus
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// MarkProcessing moves a pending payment to PROCESSING.
func (p *Payment) MarkProcessing(now time.Time) error {
	if p.Status != PaymentStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, PaymentStatusProcessing)
	}
	p.Status = PaymentStatusProcessing
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Complete(now time.Time) error {
	if p.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, PaymentStatusCompleted)
	}
	p.Status = PaymentStatusCompleted
	p.FailureReason = ""
	p.CompletedAt = &now
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Fail(reason string, now time.Time) error {
	if p.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, PaymentStatusFailed)
	}
	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	return nil
}

// SameRequest reports whether a replayed request carries the parameters the
// payment was created with.
func (p *Payment) SameRequest(userID string, amount decimal.Decimal, currency string, provider Provider) bool {
	return p.UserID == userID &&
		p.Amount.Equal(amount) &&
		p.Currency == currency &&
		p.Provider == provider
}
