package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"policypay/payments/internal/domain"
)

var ErrSessionNotFound = errors.New("checkout session not found")

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	// BackendURL overrides the Stripe API base URL.
	BackendURL string
}

type StripeGateway struct {
	api    *client.API
	cfg    StripeConfig
	logger *zap.Logger
}

func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key is empty", ErrMisconfigured)
	}
	if cfg.SuccessURL == "" || cfg.CancelURL == "" {
		return nil, fmt.Errorf("%w: stripe success and cancel urls are required", ErrMisconfigured)
	}

	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(cfg.BackendURL),
				MaxNetworkRetries: stripe.Int64(0),
			}),
		}
	}

	return &StripeGateway{
		api:    client.New(cfg.SecretKey, backends),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (g *StripeGateway) Provider() domain.Provider { return domain.ProviderStripe }

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Result, error) {
	name := req.Description
	if name == "" {
		name = "Insurance policy premium"
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(g.cfg.SuccessURL),
		CancelURL:  stripe.String(g.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(minorUnits(req.Amount, req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.PurchaseID != "" {
		params.ClientReferenceID = stripe.String(req.PurchaseID)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		g.logger.Warn("Stripe checkout session creation failed", zap.Error(err))
		return classifyStripeError(err)
	}

	return &Result{Success: true, ProviderPaymentID: s.ID, RedirectURL: s.URL}, nil
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	if req.PaymentToken == "" {
		return declined("payment method token is required"), nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minorUnits(req.Amount, req.Currency)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod:      stripe.String(req.PaymentToken),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		g.logger.Warn("Stripe payment intent charge failed", zap.Error(err))
		return classifyStripeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return &Result{
			Success:           false,
			ProviderPaymentID: pi.ID,
			ErrorMessage:      fmt.Sprintf("payment intent ended in status %s", pi.Status),
		}, nil
	}
	return &Result{Success: true, ProviderPaymentID: pi.ID}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	return nil, fmt.Errorf("%w: stripe refunds", ErrNotSupported)
}

// LookupSessionByPaymentIntent returns the checkout session id that created
// the given PaymentIntent.
func (g *StripeGateway) LookupSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (string, error) {
	params := &stripe.CheckoutSessionListParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	it := g.api.CheckoutSessions.List(params)
	if it.Next() {
		return it.CheckoutSession().ID, nil
	}
	if err := it.Err(); err != nil {
		if _, cerr := classifyStripeError(err); cerr != nil {
			return "", cerr
		}
		return "", fmt.Errorf("failed to list checkout sessions: %w", err)
	}
	return "", fmt.Errorf("%w: payment intent %s", ErrSessionNotFound, paymentIntentID)
}

func classifyStripeError(err error) (*Result, error) {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrMisconfigured, se.Msg)
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s", ErrConnectivity, se.Msg)
	case se.Type == stripe.ErrorTypeAPI:
		return nil, fmt.Errorf("%w: %s", ErrConnectivity, se.Msg)
	default:
		return declined(se.Msg), nil
	}
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// minorUnits converts an amount to the smallest currency unit.
func minorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}
