// Package metrics holds the Prometheus instruments for the verification
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Outcomes        *prometheus.CounterVec
	RegistryRetries prometheus.Counter
	OCRConfidence   prometheus.Histogram
	InFlight        prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vkyc_verification_outcomes_total",
			Help: "Terminal per-document verification outcomes.",
		}, []string{"document", "status"}),
		RegistryRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vkyc_registry_retries_total",
			Help: "Registry calls retried after a transient failure.",
		}),
		OCRConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vkyc_ocr_confidence",
			Help:    "Confidence scores reported by OCR extraction.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vkyc_verification_in_flight",
			Help: "Document verifications currently being processed.",
		}),
	}
}
