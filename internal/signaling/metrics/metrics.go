// Package metrics holds the Prometheus instruments for the signaling hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections   *prometheus.GaugeVec
	Messages      *prometheus.CounterVec
	Rejected      prometheus.Counter
	GraceTimeouts prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Connections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vkyc_ws_connections",
			Help: "Open WebSocket connections by role.",
		}, []string{"role"}),
		Messages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vkyc_ws_messages_total",
			Help: "Messages handled by type.",
		}, []string{"type"}),
		Rejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vkyc_ws_messages_rejected_total",
			Help: "Messages rejected by validation or ordering rules.",
		}),
		GraceTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vkyc_ws_grace_timeouts_total",
			Help: "Sessions failed after the disconnect grace period.",
		}),
	}
}
