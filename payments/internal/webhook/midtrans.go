package webhook

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"

	"policypay/payments/internal/domain"
	"policypay/payments/internal/gateway"
)

type midtransNotification struct {
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	OrderID           string `json:"order_id"`
	SignatureKey      string `json:"signature_key"`
	FraudStatus       string `json:"fraud_status"`
	StatusMessage     string `json:"status_message"`
}

// MidtransParser checks the SHA-512 signature Midtrans puts in the body
// of every HTTP notification.
type MidtransParser struct {
	serverKey string
}

func NewMidtransParser(serverKey string) (*MidtransParser, error) {
	if serverKey == "" {
		return nil, fmt.Errorf("%w: midtrans server key is empty", gateway.ErrMisconfigured)
	}
	return &MidtransParser{serverKey: serverKey}, nil
}

func (p *MidtransParser) Provider() domain.Provider { return domain.ProviderMidtrans }

func MidtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func (p *MidtransParser) Parse(_ context.Context, payload []byte, _ Header) (*Notification, error) {
	var body midtransNotification
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if body.OrderID == "" || body.SignatureKey == "" {
		return nil, fmt.Errorf("%w: order_id and signature_key are required", ErrMalformed)
	}

	expected := MidtransSignature(body.OrderID, body.StatusCode, body.GrossAmount, p.serverKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(body.SignatureKey)) != 1 {
		return nil, ErrInvalidSignature
	}

	n := &Notification{
		Provider:          domain.ProviderMidtrans,
		EventID:           body.TransactionID + ":" + body.TransactionStatus,
		EventType:         body.TransactionStatus,
		ProviderPaymentID: body.OrderID,
	}
	if body.TransactionID == "" {
		n.EventID = ""
	}

	switch body.TransactionStatus {
	case "settlement":
		n.Action = ActionComplete
	case "capture":
		switch body.FraudStatus {
		case "", "accept":
			n.Action = ActionComplete
		case "deny":
			n.Action = ActionFail
			n.Reason = "Payment denied by fraud detection"
		}
	case "expire":
		n.Action = ActionFail
		n.Reason = "Payment expired"
		n.Expired = true
	case "deny", "cancel", "failure":
		n.Action = ActionFail
		n.Reason = "Payment " + body.TransactionStatus
		if body.StatusMessage != "" {
			n.Reason = body.StatusMessage
		}
	}
	return n, nil
}
