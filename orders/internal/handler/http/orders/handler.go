package orders_http

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"policypay/orders/internal/app/orders"
	"policypay/orders/internal/domain"
)

const (
	UserIDHeader = "X-User-ID"

	maxBodyBytes = 1 << 20
)

type OrderHandler struct {
	service orders.OrderService
	logger  *zap.Logger
}

func NewOrderHandler(s orders.OrderService, l *zap.Logger) *OrderHandler {
	return &OrderHandler{service: s, logger: l}
}

type CreateOrderRequest struct {
	PolicyID   string `json:"policyId"`
	CustomerID string `json:"customerId"`
	Provider   string `json:"provider"`
}

type InitiatePaymentRequest struct {
	Provider string `json:"provider"`
}

type CreatePolicyRequest struct {
	Name           string          `json:"name"`
	Premium        decimal.Decimal `json:"premium"`
	Currency       string          `json:"currency"`
	DurationMonths int             `json:"durationMonths"`
}

// decode reads a JSON body. An empty body is allowed when optional is set.
func (h *OrderHandler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	h.logger.Warn("Invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"}, h.logger)
	return false
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	customerID := r.Header.Get(UserIDHeader)
	if customerID == "" {
		customerID = req.CustomerID
	}

	res, err := h.service.CreateOrder(r.Context(), orders.CreateOrderRequest{
		CustomerID: customerID,
		PolicyID:   req.PolicyID,
		Provider:   req.Provider,
	})
	if err != nil {
		h.respondCheckoutError(w, res, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckoutResponse(res), h.logger)
}

func (h *OrderHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	res, err := h.service.InitiatePayment(r.Context(), chi.URLParam(r, "orderID"), req.Provider)
	if err != nil {
		h.respondCheckoutError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckoutResponse(res), h.logger)
}

func (h *OrderHandler) respondCheckoutError(w http.ResponseWriter, res *orders.CheckoutResult, err error) {
	if httpStatus(err) == http.StatusInternalServerError {
		h.logger.Error("Error processing order checkout", zap.Error(err))
	} else {
		h.logger.Warn("Order checkout rejected", zap.Error(err))
	}
	var order *domain.Order
	if res != nil {
		order = res.Order
	}
	writeError(w, err, order, h.logger)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			h.logger.Error("Error getting order", zap.String("order_id", orderID), zap.Error(err))
		}
		writeError(w, err, nil, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order), h.logger)
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		customerID = r.Header.Get(UserIDHeader)
	}

	list, err := h.service.ListOrdersByCustomer(r.Context(), customerID)
	if err != nil {
		if httpStatus(err) == http.StatusInternalServerError {
			h.logger.Error("Error listing orders", zap.String("customer_id", customerID), zap.Error(err))
		}
		writeError(w, err, nil, h.logger)
		return
	}

	resp := make([]OrderResponse, 0, len(list))
	for _, o := range list {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

func (h *OrderHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	policy, err := h.service.CreatePolicy(r.Context(), orders.CreatePolicyRequest{
		Name:           req.Name,
		Premium:        req.Premium,
		Currency:       req.Currency,
		DurationMonths: req.DurationMonths,
	})
	if err != nil {
		if httpStatus(err) == http.StatusInternalServerError {
			h.logger.Error("Error creating policy", zap.Error(err))
		}
		writeError(w, err, nil, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyResponse(policy), h.logger)
}

func (h *OrderHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")
	policy, err := h.service.GetPolicy(r.Context(), policyID)
	if err != nil {
		if !errors.Is(err, domain.ErrPolicyNotFound) {
			h.logger.Error("Error getting policy", zap.String("policy_id", policyID), zap.Error(err))
		}
		writeError(w, err, nil, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyResponse(policy), h.logger)
}
