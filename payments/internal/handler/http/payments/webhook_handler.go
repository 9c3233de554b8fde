package payments_http

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"policypay/payments/internal/app/payments"
	"policypay/payments/internal/domain"
	"policypay/payments/internal/webhook"
)

type WebhookHandler struct {
	service payments.PaymentService
	parsers map[domain.Provider]webhook.Parser
	logger  *zap.Logger
}

func NewWebhookHandler(s payments.PaymentService, parsers []webhook.Parser, l *zap.Logger) *WebhookHandler {
	m := make(map[domain.Provider]webhook.Parser, len(parsers))
	for _, p := range parsers {
		m[p.Provider()] = p
	}
	return &WebhookHandler{service: s, parsers: m, logger: l}
}

type webhookResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
}

// Handle answers 200 for anything the provider should not resend, 400 for
// unverifiable callbacks and 500 when a retry could succeed.
func (h *WebhookHandler) Handle(provider domain.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.logger.With(zap.Stringer("provider", provider))

		parser, ok := h.parsers[provider]
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "provider webhooks are not enabled"}, h.logger)
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"}, h.logger)
			return
		}

		n, err := parser.Parse(r.Context(), payload, r.Header)
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature):
			log.Warn("Rejected webhook with invalid signature", zap.String("remote_addr", r.RemoteAddr))
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid signature"}, h.logger)
			return
		case errors.Is(err, webhook.ErrMalformed):
			log.Warn("Rejected malformed webhook", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed payload"}, h.logger)
			return
		case err != nil:
			log.Error("Failed to process webhook", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"}, h.logger)
			return
		}

		log = log.With(zap.String("event_id", n.EventID), zap.String("event_type", n.EventType))
		if n.Action == webhook.ActionIgnore {
			log.Debug("Webhook event ignored")
			writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"}, h.logger)
			return
		}

		p, err := h.service.CompletePayment(r.Context(), n.ProviderPaymentID, payments.Outcome{
			Succeeded: n.Action == webhook.ActionComplete,
			Reason:    n.Reason,
			Expired:   n.Expired,
			EventID:   n.EventID,
			EventType: n.EventType,
		})
		if errors.Is(err, domain.ErrPaymentNotFound) {
			log.Warn("Webhook for unknown payment", zap.String("provider_payment_id", n.ProviderPaymentID))
			writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"}, h.logger)
			return
		}
		if err != nil {
			log.Error("Failed to apply webhook, provider will retry", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"}, h.logger)
			return
		}

		writeJSON(w, http.StatusOK, webhookResponse{Status: "processed", PaymentStatus: string(p.Status)}, h.logger)
	}
}
