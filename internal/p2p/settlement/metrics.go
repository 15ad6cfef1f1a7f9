package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the worker's Prometheus collectors.
type Metrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
	swept    *prometheus.CounterVec
	errors   prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2p",
			Subsystem: "settlement",
			Name:      "outcomes_total",
			Help:      "Settlement attempts by resulting transaction status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "p2p",
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Time spent clearing and applying one transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2p",
			Subsystem: "sweeper",
			Name:      "items_total",
			Help:      "Items changed by the sweeper.",
		}, []string{"kind"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p",
			Subsystem: "settlement",
			Name:      "errors_total",
			Help:      "Settlement attempts that failed before a decision was stored.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.duration, m.swept, m.errors)
	}
	return m
}
