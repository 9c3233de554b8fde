package payments_http

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"policypay/payments/internal/domain"
)

type PaymentResponse struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	PurchaseID        string          `json:"purchaseId,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Provider          domain.Provider `json:"provider"`
	ProviderPaymentID string          `json:"providerPaymentId,omitempty"`
	RedirectURL       string          `json:"redirectUrl,omitempty"`
	Status            string          `json:"status"`
	FailureReason     string          `json:"failureReason,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
}

func toResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                p.ID,
		UserID:            p.UserID,
		PurchaseID:        p.PurchaseID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Provider:          p.Provider,
		ProviderPaymentID: p.ProviderPaymentID,
		RedirectURL:       p.RedirectURL,
		Status:            string(p.Status),
		FailureReason:     p.FailureReason,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		CompletedAt:       p.CompletedAt,
	}
}

type errorResponse struct {
	Error   string           `json:"error"`
	Payment *PaymentResponse `json:"payment,omitempty"`
}

// httpStatus maps service errors onto status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIdempotencyConflict), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSystem):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrProviderMisconfigured):
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

// writeError hides internal error text behind a generic message for 5xx.
func writeError(w http.ResponseWriter, err error, payment *domain.Payment, logger *zap.Logger) {
	status := httpStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}

	body := errorResponse{Error: msg}
	if payment != nil {
		resp := toResponse(payment)
		body.Payment = &resp
	}
	writeJSON(w, status, body, logger)
}
