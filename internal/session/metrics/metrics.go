// Package metrics holds the Prometheus instruments for the session engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the session engine's Prometheus metrics.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	Terminations    *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	CapReachedTotal prometheus.Counter
}

// New creates and registers all session metrics.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vkyc_session_transitions_total",
			Help: "Session state transitions by target state.",
		}, []string{"to"}),
		Terminations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vkyc_session_terminations_total",
			Help: "Terminal session outcomes by state and reason.",
		}, []string{"state", "reason"}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vkyc_sessions_active",
			Help: "Sessions currently in progress or verifying.",
		}),
		CapReachedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vkyc_recording_cap_reached_total",
			Help: "Sessions whose recording hit the duration cap.",
		}),
	}
}
