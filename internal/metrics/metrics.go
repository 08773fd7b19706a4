package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeInvalid = "invalid"
	OutcomeSkipped = "skipped"
)

// Metrics groups the pipeline's Prometheus collectors.
type Metrics struct {
	Uploads        *prometheus.CounterVec
	Messages       *prometheus.CounterVec
	TaggingSeconds prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photopipe",
			Name:      "uploads_total",
			Help:      "Photo uploads by outcome.",
		}, []string{"outcome"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photopipe",
			Name:      "worker_messages_total",
			Help:      "Queue messages handled by the worker, by outcome.",
		}, []string{"outcome"}),
		TaggingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "photopipe",
			Name:      "tagging_duration_seconds",
			Help:      "Latency of image tagging calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
	reg.MustRegister(m.Uploads, m.Messages, m.TaggingSeconds)
	return m
}
