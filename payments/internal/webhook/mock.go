package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"

	"policypay/payments/internal/domain"
	"policypay/payments/internal/gateway"
)

const MockSignatureHeader = "X-Mock-Signature"

type mockEvent struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	ProviderPaymentID string `json:"providerPaymentId"`
	Reason            string `json:"reason"`
}

// MockParser accepts callbacks for the mock gateway, signed with
// HMAC-SHA256 over the raw body. Event types follow Stripe's names.
type MockParser struct {
	secret []byte
}

func NewMockParser(secret string) (*MockParser, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: mock webhook secret is empty", gateway.ErrMisconfigured)
	}
	return &MockParser{secret: []byte(secret)}, nil
}

func (p *MockParser) Provider() domain.Provider { return domain.ProviderMock }

func SignMock(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *MockParser) Parse(_ context.Context, payload []byte, header Header) (*Notification, error) {
	got, err := hex.DecodeString(header.Get(MockSignatureHeader))
	if err != nil || len(got) == 0 {
		return nil, ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return nil, ErrInvalidSignature
	}

	var evt mockEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrMalformed)
	}

	n := &Notification{
		Provider:          domain.ProviderMock,
		EventID:           evt.ID,
		EventType:         evt.Type,
		ProviderPaymentID: evt.ProviderPaymentID,
	}
	switch evt.Type {
	case stripeSessionCompleted:
		n.Action = ActionComplete
	case stripeSessionExpired:
		n.Action = ActionFail
		n.Reason = "Checkout session expired"
		n.Expired = true
	case stripeIntentFailed:
		n.Action = ActionFail
		n.Reason = evt.Reason
		if n.Reason == "" {
			n.Reason = "Payment failed"
		}
	default:
		return n, nil
	}
	if n.ProviderPaymentID == "" {
		return nil, fmt.Errorf("%w: providerPaymentId is required", ErrMalformed)
	}
	return n, nil
}
