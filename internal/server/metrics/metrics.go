// Package metrics holds the Prometheus collectors shared by the RPC
// transports.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "userhub",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "RPC calls by procedure, transport and result code.",
		}, []string{"procedure", "transport", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "userhub",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "RPC call latency by procedure.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// Observe records one finished call. A nil receiver is a no-op.
func (m *Metrics) Observe(procedure, transport, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(procedure, transport, code).Inc()
	m.duration.WithLabelValues(procedure).Observe(d.Seconds())
}
