// Package metrics holds the Prometheus instruments for the recording
// manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChunksAccepted prometheus.Counter
	ChunksRejected prometheus.Counter
	BytesBuffered  prometheus.Counter
	Uploads        *prometheus.CounterVec
	Durations      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		ChunksAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vkyc_recording_chunks_total",
			Help: "Video chunks accepted into recording buffers.",
		}),
		ChunksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vkyc_recording_chunks_rejected_total",
			Help: "Video chunks rejected after the recording stopped accepting.",
		}),
		BytesBuffered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vkyc_recording_bytes_total",
			Help: "Raw video bytes buffered.",
		}),
		Uploads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vkyc_recording_uploads_total",
			Help: "Finalized recording uploads by result.",
		}, []string{"result"}),
		Durations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vkyc_recording_duration_seconds",
			Help:    "Final recording durations.",
			Buckets: prometheus.LinearBuckets(60, 60, 10),
		}),
	}
}
