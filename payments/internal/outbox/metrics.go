package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published       prometheus.Counter
	PublishFailures prometheus.Counter
	MarkFailures    prometheus.Counter
	CycleErrors     prometheus.Counter
	Purged          prometheus.Counter
	LastBatchSize   prometheus.Gauge
}

// NewMetrics registers the relay collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox messages published and marked processed.",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Outbox messages that could not be published and stay pending.",
		}),
		MarkFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_mark_failures_total",
			Help: "Outbox messages published but not marked processed.",
		}),
		CycleErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_cycle_errors_total",
			Help: "Relay cycles that failed and entered backoff.",
		}),
		Purged: f.NewCounter(prometheus.CounterOpts{
			Name: "outbox_purged_total",
			Help: "Processed outbox messages deleted by retention.",
		}),
		LastBatchSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_batch_size",
			Help: "Number of pending messages fetched by the last cycle.",
		}),
	}
}
