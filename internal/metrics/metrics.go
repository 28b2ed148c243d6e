package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detection_requests_total",
		Help: "Requests handled, by handler and status class.",
	}, []string{"handler", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "detection_request_duration_seconds",
		Help:    "Wall-clock request handling time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	InferenceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_inference_latency_seconds",
		Help:    "Model inference time per image, decode included.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	BoxesPerRequest = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_boxes",
		Help:    "Detections returned per image.",
		Buckets: prometheus.LinearBuckets(0, 5, 10),
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detection_errors_total",
		Help: "Errors by kind: validation, not_ready, inference.",
	}, []string{"kind"})
)

// Handler returns the pull-based exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
