package payments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"policypay/payments/internal/domain"
)

type Metrics struct {
	transitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		transitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "payments_transitions_total",
			Help: "Payment status transitions persisted, by target status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) transition(s domain.PaymentStatus) {
	m.transitions.WithLabelValues(string(s)).Inc()
}
