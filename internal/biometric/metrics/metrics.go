// Package metrics holds the Prometheus instruments for the biometric logger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Accepted  *prometheus.CounterVec
	Rejected  prometheus.Counter
	Dropped   prometheus.Counter
	BufferLen prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Accepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vkyc_biometric_events_total",
			Help: "Telemetry events accepted by type.",
		}, []string{"type"}),
		Rejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vkyc_biometric_events_rejected_total",
			Help: "Events rejected for non-increasing timestamps.",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vkyc_biometric_events_dropped_total",
			Help: "Buffered events discarded under backpressure.",
		}),
		BufferLen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vkyc_biometric_buffer_len",
			Help: "Events currently waiting in the flush buffer.",
		}),
	}
}
