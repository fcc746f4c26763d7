package groq

import "github.com/prometheus/client_golang/prometheus"

// Prometheus completion metrics.
var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groq_completion_attempts_total",
			Help: "Completion attempts by HTTP status (\"0\" when no response).",
		},
		[]string{"status"},
	)
	attemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groq_completion_attempt_duration_seconds",
			Help:    "Duration of a single completion attempt.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groq_completion_results_total",
			Help: "Completion requests by final outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal, attemptDuration, resultsTotal)
}
