package payments_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"policypay/payments/internal/app/payments"
	"policypay/payments/internal/domain"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	UserIDHeader         = "X-User-ID"

	maxBodyBytes = 1 << 20
)

type PaymentHandler struct {
	service payments.PaymentService
	logger  *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, logger: l}
}

type CreatePaymentRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Provider     domain.Provider `json:"provider"`
	PurchaseID   string          `json:"purchaseId"`
	Description  string          `json:"description"`
	PaymentToken string          `json:"paymentToken"`
}

type RefundResponse struct {
	PaymentID string `json:"paymentId"`
	RefundID  string `json:"refundId"`
}

func (h *PaymentHandler) decodeCreate(w http.ResponseWriter, r *http.Request) (string, payments.PaymentRequest, bool) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Idempotency-Key header is required"}, h.logger)
		return "", payments.PaymentRequest{}, false
	}
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "X-User-ID header is required"}, h.logger)
		return "", payments.PaymentRequest{}, false
	}

	var body CreatePaymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.logger.Warn("Invalid payment request body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"}, h.logger)
		return "", payments.PaymentRequest{}, false
	}

	return key, payments.PaymentRequest{
		UserID:       userID,
		PurchaseID:   body.PurchaseID,
		Amount:       body.Amount,
		Currency:     body.Currency,
		Provider:     body.Provider,
		Description:  body.Description,
		PaymentToken: body.PaymentToken,
	}, true
}

// CreatePaymentHandler opens a checkout session. 201 for a new payment,
// 200 when the idempotency key was seen before.
func (h *PaymentHandler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	key, req, ok := h.decodeCreate(w, r)
	if !ok {
		return
	}

	res, err := h.service.ProcessPayment(r.Context(), key, req)
	if err != nil {
		h.logger.Warn("Payment was not created", zap.String("idempotency_key", key), zap.Error(err))
		writeError(w, err, nil, h.logger)
		return
	}
	writeJSON(w, createdStatus(res), toResponse(res.Payment), h.logger)
}

func (h *PaymentHandler) ChargePaymentHandler(w http.ResponseWriter, r *http.Request) {
	key, req, ok := h.decodeCreate(w, r)
	if !ok {
		return
	}

	res, err := h.service.ChargePayment(r.Context(), key, req)
	if err != nil {
		h.logger.Warn("Charge did not succeed", zap.String("idempotency_key", key), zap.Error(err))
		var p *domain.Payment
		if res != nil {
			p = res.Payment
		}
		writeError(w, err, p, h.logger)
		return
	}
	writeJSON(w, createdStatus(res), toResponse(res.Payment), h.logger)
}

func createdStatus(res *payments.PaymentResult) int {
	if res.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (h *PaymentHandler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, err, nil, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(p), h.logger)
}

func (h *PaymentHandler) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get(UserIDHeader)
	}
	list, err := h.service.ListPayments(r.Context(), userID)
	if err != nil {
		writeError(w, err, nil, h.logger)
		return
	}
	resp := make([]PaymentResponse, 0, len(list))
	for _, p := range list {
		resp = append(resp, toResponse(p))
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

func (h *PaymentHandler) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.service.RefundPayment(r.Context(), id)
	if err != nil {
		h.logger.Warn("Refund failed", zap.String("payment_id", id), zap.Error(err))
		writeError(w, err, nil, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, RefundResponse{PaymentID: res.PaymentID, RefundID: res.RefundID}, h.logger)
}
