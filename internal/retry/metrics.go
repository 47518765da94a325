package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_retries_total",
			Help: "Total number of retried attempts by operation",
		},
		[]string{"operation"},
	)

	retryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_retry_outcomes_total",
			Help: "Outcome of operations that needed more than one attempt",
		},
		[]string{"operation", "status"},
	)
)

func retryInc(operation string) {
	retries.WithLabelValues(operation).Inc()
}

func retrySucceededInc(operation string) {
	retryOutcomes.WithLabelValues(operation, "success").Inc()
}

func retryExhaustedInc(operation string) {
	retryOutcomes.WithLabelValues(operation, "exhausted").Inc()
}
