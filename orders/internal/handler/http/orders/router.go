package orders_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"policypay/orders/internal/app/orders"
)

func RegisterRoutes(r chi.Router, s orders.OrderService, metrics http.Handler, l *zap.Logger) {
	handler := NewOrderHandler(s, l.With(zap.String("component", "OrderHTTPHandler")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Orders service is healthy!"))
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.Get("/{orderID}", handler.GetOrder)
		r.Post("/{orderID}/payment", handler.InitiatePayment)
	})

	r.Route("/api/policies", func(r chi.Router) {
		r.Post("/", handler.CreatePolicy)
		r.Get("/{policyID}", handler.GetPolicy)
	})
}
