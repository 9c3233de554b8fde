package payments_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"policypay/payments/internal/app/payments"
	"policypay/payments/internal/domain"
	"policypay/payments/internal/webhook"
)

func RegisterRoutes(r chi.Router, s payments.PaymentService, parsers []webhook.Parser, metrics http.Handler, l *zap.Logger) {
	handler := NewPaymentHandler(s, l.With(zap.String("component", "PaymentHTTPHandler")))
	webhooks := NewWebhookHandler(s, parsers, l.With(zap.String("component", "WebhookHandler")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Payments service is healthy!"))
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/", handler.CreatePaymentHandler)
		r.Get("/", handler.ListPaymentsHandler)
		r.Post("/charge", handler.ChargePaymentHandler)
		r.Get("/{id}", handler.GetPaymentHandler)
		r.Post("/{id}/refund", handler.RefundPaymentHandler)
	})

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhooks.Handle(domain.ProviderStripe))
		r.Post("/midtrans", webhooks.Handle(domain.ProviderMidtrans))
		r.Post("/mock", webhooks.Handle(domain.ProviderMock))
	})
}
