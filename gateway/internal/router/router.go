package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"policypay/gateway/internal/config"
)

func NewRouter(cfg *config.Config, logger *zap.Logger) (http.Handler, error) {
	ordersURL, err := url.Parse(cfg.OrdersServiceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Orders Service URL (%s): %w", cfg.OrdersServiceURL, err)
	}
	paymentsURL, err := url.Parse(cfg.PaymentsServiceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Payments Service URL (%s): %w", cfg.PaymentsServiceURL, err)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.ProxyTimeout > 0 {
		r.Use(middleware.Timeout(cfg.ProxyTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-User-ID", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	orderProxy := createProxy("orders", ordersURL, logger)
	paymentProxy := createProxy("payments", paymentsURL, logger)

	for prefix, proxy := range map[string]http.Handler{
		"/api/orders":   orderProxy,
		"/api/policies": orderProxy,
		"/api/payments": paymentProxy,
		"/api/webhooks": paymentProxy,
	} {
		r.Handle(prefix, proxy)
		r.Handle(prefix+"/*", proxy)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Gateway is healthy!"))
	})

	return r, nil
}

func createProxy(name string, target *url.URL, logger *zap.Logger) http.Handler {
	log := logger.With(zap.String("upstream", name), zap.String("target", target.String()))

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			status, message := proxyErrorStatus(err)
			log.Warn("Proxy error",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("status", status),
				zap.Error(err))
			renderJSONError(w, message, status)
		},
	}
}

func proxyErrorStatus(err error) (int, string) {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return http.StatusGatewayTimeout, "Gateway Timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusBadGateway, "Request Cancelled"
	case errors.As(err, &netErr):
		return http.StatusServiceUnavailable, "Service Unavailable"
	default:
		return http.StatusBadGateway, "Bad Gateway"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func renderJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: statusCode})
}
