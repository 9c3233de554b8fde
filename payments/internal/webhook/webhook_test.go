package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"policypay/payments/internal/gateway"
)

const stripeSecret = "whsec_test"

type fakeSessions struct {
	sessions map[string]string
	err      error
}

func (f fakeSessions) LookupSessionByPaymentIntent(_ context.Context, id string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s", gateway.ErrSessionNotFound, id)
}

func signedStripe(t *testing.T, payload string) http.Header {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    stripeSecret,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set(StripeSignatureHeader, signed.Header)
	return h
}

func stripeEvent(id, typ, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","api_version":"2023-10-16","type":%q,"data":{"object":%s}}`, id, typ, object)
}

func TestStripeParser(t *testing.T) {
	p, err := NewStripeParser(stripeSecret, fakeSessions{sessions: map[string]string{"pi_1": "cs_1"}})
	if err != nil {
		t.Fatalf("NewStripeParser: %v", err)
	}

	tests := []struct {
		name      string
		payload   string
		action    Action
		paymentID string
		reason    string
		expired   bool
	}{
		{
			name:      "session completed",
			payload:   stripeEvent("evt_1", "checkout.session.completed", `{"id":"cs_1","object":"checkout.session"}`),
			action:    ActionComplete,
			paymentID: "cs_1",
		},
		{
			name:      "session expired",
			payload:   stripeEvent("evt_2", "checkout.session.expired", `{"id":"cs_1","object":"checkout.session"}`),
			action:    ActionFail,
			paymentID: "cs_1",
			reason:    "Checkout session expired",
			expired:   true,
		},
		{
			name:      "intent failed with message",
			payload:   stripeEvent("evt_3", "payment_intent.payment_failed", `{"id":"pi_1","object":"payment_intent","last_payment_error":{"message":"Your card was declined."}}`),
			action:    ActionFail,
			paymentID: "cs_1",
			reason:    "Your card was declined.",
		},
		{
			name:      "intent failed without message",
			payload:   stripeEvent("evt_4", "payment_intent.payment_failed", `{"id":"pi_1","object":"payment_intent"}`),
			action:    ActionFail,
			paymentID: "cs_1",
			reason:    "Payment failed",
		},
		{
			name:    "intent outside checkout",
			payload: stripeEvent("evt_5", "payment_intent.payment_failed", `{"id":"pi_other","object":"payment_intent"}`),
			action:  ActionIgnore,
		},
		{
			name:    "unhandled type",
			payload: stripeEvent("evt_6", "customer.created", `{"id":"cus_1","object":"customer"}`),
			action:  ActionIgnore,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := p.Parse(context.Background(), []byte(tt.payload), signedStripe(t, tt.payload))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if n.Action != tt.action || n.ProviderPaymentID != tt.paymentID || n.Reason != tt.reason || n.Expired != tt.expired {
				t.Errorf("unexpected notification %+v", n)
			}
			if n.EventID == "" {
				t.Errorf("event id not set")
			}
		})
	}
}

func TestStripeParserRejectsBadSignature(t *testing.T) {
	p, _ := NewStripeParser(stripeSecret, nil)
	payload := stripeEvent("evt_1", "checkout.session.completed", `{"id":"cs_1"}`)

	h := http.Header{}
	h.Set(StripeSignatureHeader, "t=1,v1=deadbeef")
	if _, err := p.Parse(context.Background(), []byte(payload), h); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}

	tampered := signedStripe(t, payload)
	if _, err := p.Parse(context.Background(), []byte(payload+" "), tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered body: expected ErrInvalidSignature, got %v", err)
	}
}

func TestStripeParserLookupFailureIsRetryable(t *testing.T) {
	p, _ := NewStripeParser(stripeSecret, fakeSessions{err: fmt.Errorf("%w: timeout", gateway.ErrConnectivity)})
	payload := stripeEvent("evt_1", "payment_intent.payment_failed", `{"id":"pi_1"}`)

	_, err := p.Parse(context.Background(), []byte(payload), signedStripe(t, payload))
	if err == nil || errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrMalformed) {
		t.Errorf("expected a retryable error, got %v", err)
	}
}

func TestParsersRequireSecrets(t *testing.T) {
	if _, err := NewStripeParser("", nil); !errors.Is(err, gateway.ErrMisconfigured) {
		t.Errorf("stripe: %v", err)
	}
	if _, err := NewMidtransParser(""); !errors.Is(err, gateway.ErrMisconfigured) {
		t.Errorf("midtrans: %v", err)
	}
	if _, err := NewMockParser(""); !errors.Is(err, gateway.ErrMisconfigured) {
		t.Errorf("mock: %v", err)
	}
}

func midtransBody(status, fraud, serverKey string) string {
	sig := MidtransSignature("pp-1", "200", "150000.00", serverKey)
	return fmt.Sprintf(`{"transaction_id":"tx-1","transaction_status":%q,"fraud_status":%q,"status_code":"200","gross_amount":"150000.00","order_id":"pp-1","signature_key":%q}`,
		status, fraud, sig)
}

func TestMidtransParser(t *testing.T) {
	p, _ := NewMidtransParser("server-key")

	tests := []struct {
		status  string
		fraud   string
		action  Action
		expired bool
	}{
		{"settlement", "", ActionComplete, false},
		{"capture", "accept", ActionComplete, false},
		{"capture", "challenge", ActionIgnore, false},
		{"expire", "", ActionFail, true},
		{"deny", "", ActionFail, false},
		{"cancel", "", ActionFail, false},
		{"failure", "", ActionFail, false},
		{"pending", "", ActionIgnore, false},
	}
	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.fraud, func(t *testing.T) {
			n, err := p.Parse(context.Background(), []byte(midtransBody(tt.status, tt.fraud, "server-key")), http.Header{})
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if n.Action != tt.action || n.Expired != tt.expired {
				t.Errorf("got %s expired=%v", n.Action, n.Expired)
			}
			if n.ProviderPaymentID != "pp-1" || n.EventID != "tx-1:"+tt.status {
				t.Errorf("unexpected ids %+v", n)
			}
		})
	}
}

func TestMidtransParserErrors(t *testing.T) {
	p, _ := NewMidtransParser("server-key")

	if _, err := p.Parse(context.Background(), []byte(midtransBody("settlement", "", "other-key")), http.Header{}); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := p.Parse(context.Background(), []byte(`{not json`), http.Header{}); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if _, err := p.Parse(context.Background(), []byte(`{"transaction_status":"settlement"}`), http.Header{}); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for missing order id, got %v", err)
	}
}

func TestMockParser(t *testing.T) {
	p, _ := NewMockParser("mock-secret")

	sign := func(body string) http.Header {
		h := http.Header{}
		h.Set(MockSignatureHeader, SignMock("mock-secret", []byte(body)))
		return h
	}

	body := `{"id":"evt_m1","type":"checkout.session.completed","providerPaymentId":"mock_1"}`
	n, err := p.Parse(context.Background(), []byte(body), sign(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n.Action != ActionComplete || n.ProviderPaymentID != "mock_1" || n.EventID != "evt_m1" {
		t.Errorf("unexpected notification %+v", n)
	}

	body = `{"type":"payment_intent.payment_failed","providerPaymentId":"mock_1","reason":"insufficient funds"}`
	n, err = p.Parse(context.Background(), []byte(body), sign(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n.Action != ActionFail || n.Reason != "insufficient funds" {
		t.Errorf("unexpected notification %+v", n)
	}

	body = `{"type":"checkout.session.completed"}`
	if _, err := p.Parse(context.Background(), []byte(body), sign(body)); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}

	if _, err := p.Parse(context.Background(), []byte(body), http.Header{}); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	bad := http.Header{}
	bad.Set(MockSignatureHeader, SignMock("wrong", []byte(body)))
	if _, err := p.Parse(context.Background(), []byte(body), bad); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}
