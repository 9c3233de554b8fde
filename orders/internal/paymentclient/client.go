// Package paymentclient calls the payments service to open a payment for an
// order.
package paymentclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	UserIDHeader         = "X-User-ID"

	maxResponseBytes = 1 << 20
)

var (
	// ErrDeclined means the provider refused the payment. Retrying with the
	// same key replays the decline.
	ErrDeclined = errors.New("payment declined")
	// ErrRejected covers every other 4xx answer.
	ErrRejected = errors.New("payment request rejected")
	// ErrUnavailable is returned once retries on 5xx and transport errors
	// are exhausted.
	ErrUnavailable = errors.New("payments service unavailable")
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	Retries uint64
	Backoff time.Duration
}

type InitiateRequest struct {
	CustomerID  string
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Provider    string
	Description string
}

type Payment struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ProviderPaymentID string          `json:"providerPaymentId"`
	RedirectURL       string          `json:"redirectUrl"`
	FailureReason     string          `json:"failureReason"`
}

type createPaymentBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Provider    string          `json:"provider"`
	PurchaseID  string          `json:"purchaseId"`
	Description string          `json:"description,omitempty"`
}

type errorBody struct {
	Error   string   `json:"error"`
	Payment *Payment `json:"payment"`
}

type Client struct {
	baseURL string
	http    *http.Client
	retries uint64
	backoff time.Duration
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		logger:  logger,
	}
}

// InitiatePayment posts a payment under the idempotency key. Every attempt
// carries the same key, so retries resolve to one payment. On a decline
// the declined payment is returned together with ErrDeclined.
func (c *Client) InitiatePayment(ctx context.Context, key string, req InitiateRequest) (*Payment, error) {
	body, err := json.Marshal(createPaymentBody{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Provider:    req.Provider,
		PurchaseID:  req.OrderID,
		Description: req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment request: %w", err)
	}

	var (
		payment *Payment
		attempt int
	)
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var err error
		payment, err = c.post(ctx, key, req.CustomerID, body)
		if errors.Is(err, ErrUnavailable) {
			c.logger.Warn("Payments service call failed, retrying",
				zap.String("idempotency_key", key),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	return payment, err
}

func (c *Client) post(ctx context.Context, key, userID string, body []byte) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build payments request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, key)
	req.Header.Set(UserIDHeader, userID)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var p Payment
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode payment response: %w", err)
		}
		return &p, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	if resp.StatusCode == http.StatusPaymentRequired {
		return eb.Payment, fmt.Errorf("%w: %s", ErrDeclined, eb.Error)
	}
	return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, eb.Error)
}
