package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(inferenceLatency, detectionsTotal) }

var inferenceLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "inspection_inference_seconds",
		Help:    "Latency of a single inference call.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"engine", "outcome"}, // outcome: 'ok', 'error'
)

var detectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inspection_detections_total",
		Help: "Detections kept after suppression, by defect type and severity.",
	},
	[]string{"type", "severity"},
)

func ObserveInference(engine string, seconds float64, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	inferenceLatency.WithLabelValues(norm(engine), outcome).Observe(seconds)
}

func IncDetection(defectType, severity string) {
	detectionsTotal.WithLabelValues(norm(defectType), norm(severity)).Inc()
}
