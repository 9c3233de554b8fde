package orders_http

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"policypay/orders/internal/app/orders"
	"policypay/orders/internal/domain"
	"policypay/orders/internal/paymentclient"
)

type OrderResponse struct {
	ID                 string          `json:"id"`
	OrderNumber        string          `json:"orderNumber"`
	PolicyID           string          `json:"policyId"`
	CustomerID         string          `json:"customerId"`
	Premium            decimal.Decimal `json:"premium"`
	Currency           string          `json:"currency"`
	CoverageStart      time.Time       `json:"coverageStart"`
	CoverageEnd        time.Time       `json:"coverageEnd"`
	Status             string          `json:"status"`
	PaymentReferenceID string          `json:"paymentReferenceId,omitempty"`
	FailureReason      string          `json:"failureReason,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	ActivatedAt        *time.Time      `json:"activatedAt,omitempty"`
}

type CheckoutResponse struct {
	Order         OrderResponse `json:"order"`
	PaymentID     string        `json:"paymentId,omitempty"`
	PaymentStatus string        `json:"paymentStatus,omitempty"`
	CheckoutURL   string        `json:"checkoutUrl,omitempty"`
}

type PolicyResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Premium        decimal.Decimal `json:"premium"`
	Currency       string          `json:"currency"`
	DurationMonths int             `json:"durationMonths"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:                 o.ID,
		OrderNumber:        o.OrderNumber,
		PolicyID:           o.PolicyID,
		CustomerID:         o.CustomerID,
		Premium:            o.Premium,
		Currency:           o.Currency,
		CoverageStart:      o.CoverageStart,
		CoverageEnd:        o.CoverageEnd,
		Status:             string(o.Status),
		PaymentReferenceID: o.PaymentReferenceID,
		FailureReason:      o.FailureReason,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		ActivatedAt:        o.ActivatedAt,
	}
}

func toCheckoutResponse(res *orders.CheckoutResult) CheckoutResponse {
	return CheckoutResponse{
		Order:         toOrderResponse(res.Order),
		PaymentID:     res.PaymentID,
		PaymentStatus: res.PaymentStatus,
		CheckoutURL:   res.CheckoutURL,
	}
}

func toPolicyResponse(p *domain.Policy) PolicyResponse {
	return PolicyResponse{
		ID:             p.ID,
		Name:           p.Name,
		Premium:        p.Premium,
		Currency:       p.Currency,
		DurationMonths: p.DurationMonths,
		Active:         p.Active,
		CreatedAt:      p.CreatedAt,
	}
}

type errorResponse struct {
	Error string         `json:"error"`
	Order *OrderResponse `json:"order,omitempty"`
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidPolicy):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrPolicyNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrderNotPending):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPolicyInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, paymentclient.ErrDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPaymentInitiation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

// writeError hides internal error text behind a generic message for 500s.
func writeError(w http.ResponseWriter, err error, order *domain.Order, logger *zap.Logger) {
	status := httpStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	body := errorResponse{Error: msg}
	if order != nil {
		resp := toOrderResponse(order)
		body.Order = &resp
	}
	writeJSON(w, status, body, logger)
}
