package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"policypay/payments/internal/domain"
	"policypay/payments/internal/gateway"
)

const (
	StripeSignatureHeader = "Stripe-Signature"

	stripeSessionCompleted = "checkout.session.completed"
	stripeSessionExpired   = "checkout.session.expired"
	stripeIntentFailed     = "payment_intent.payment_failed"
)

// SessionLookup maps a PaymentIntent back to the checkout session that
// created it.
type SessionLookup interface {
	LookupSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (string, error)
}

type StripeParser struct {
	secret   string
	sessions SessionLookup
}

func NewStripeParser(secret string, sessions SessionLookup) (*StripeParser, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is empty", gateway.ErrMisconfigured)
	}
	return &StripeParser{secret: secret, sessions: sessions}, nil
}

func (p *StripeParser) Provider() domain.Provider { return domain.ProviderStripe }

func (p *StripeParser) Parse(ctx context.Context, payload []byte, header Header) (*Notification, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, header.Get(StripeSignatureHeader), p.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	n := &Notification{
		Provider:  domain.ProviderStripe,
		EventID:   evt.ID,
		EventType: string(evt.Type),
	}
	if evt.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrMalformed, evt.ID)
	}

	switch string(evt.Type) {
	case stripeSessionCompleted, stripeSessionExpired:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil || session.ID == "" {
			return nil, fmt.Errorf("%w: checkout session in event %s", ErrMalformed, evt.ID)
		}
		n.ProviderPaymentID = session.ID
		if string(evt.Type) == stripeSessionCompleted {
			n.Action = ActionComplete
		} else {
			n.Action = ActionFail
			n.Reason = "Checkout session expired"
			n.Expired = true
		}

	case stripeIntentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil || intent.ID == "" {
			return nil, fmt.Errorf("%w: payment intent in event %s", ErrMalformed, evt.ID)
		}
		if p.sessions == nil {
			return n, nil
		}
		sessionID, err := p.sessions.LookupSessionByPaymentIntent(ctx, intent.ID)
		if errors.Is(err, gateway.ErrSessionNotFound) {
			// Not created through checkout, so not ours.
			return n, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve checkout session for %s: %w", intent.ID, err)
		}
		n.ProviderPaymentID = sessionID
		n.Action = ActionFail
		n.Reason = "Payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			n.Reason = intent.LastPaymentError.Msg
		}
	}

	return n, nil
}
