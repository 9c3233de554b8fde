// Package webhook verifies provider callbacks and turns them into payment
// verdicts. It never touches storage.
package webhook

import (
	"context"
	"errors"

	"policypay/payments/internal/domain"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformed        = errors.New("malformed webhook payload")
)

type Action int

const (
	ActionIgnore Action = iota
	ActionComplete
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionComplete:
		return "complete"
	case ActionFail:
		return "fail"
	default:
		return "ignore"
	}
}

// Notification is a verified provider callback.
type Notification struct {
	Provider          domain.Provider
	EventID           string
	EventType         string
	ProviderPaymentID string
	Action            Action
	Reason            string
	Expired           bool
}

// Parser verifies and decodes one provider's callback. Verification
// failures wrap ErrInvalidSignature; undecodable bodies wrap ErrMalformed.
type Parser interface {
	Provider() domain.Provider
	Parse(ctx context.Context, payload []byte, header Header) (*Notification, error)
}

// Header is the subset of http.Header parsers read.
type Header interface {
	Get(key string) string
}
