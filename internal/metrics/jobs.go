package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(uploadsTotal, jobTransitionsTotal, inferenceRequestsTotal, inferenceRequestDuration)
}

var (
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cytomind_uploads_total",
			Help: "Upload submissions by outcome (accepted, invalid, upstream_failed, error).",
		},
		[]string{"outcome"},
	)

	jobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cytomind_job_transitions_total",
			Help: "Job status transitions applied, labeled by target status.",
		},
		[]string{"status"},
	)

	inferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cytomind_inference_requests_total",
			Help: "Calls to the inference service by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	inferenceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cytomind_inference_request_duration_seconds",
			Help:    "Inference service call latency by operation.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"op"},
	)
)

func IncUpload(outcome string) {
	uploadsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncJobTransition(status string) {
	jobTransitionsTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveInference(op, outcome string, d time.Duration) {
	inferenceRequestsTotal.WithLabelValues(norm(op), norm(outcome)).Inc()
	inferenceRequestDuration.WithLabelValues(norm(op)).Observe(d.Seconds())
}
