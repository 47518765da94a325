package multicall

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aggregateCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpipeline_multicall_aggregate_calls_total",
			Help: "Total number of aggregate3 calls issued",
		},
	)

	aggregateBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainpipeline_multicall_batch_size",
			Help:    "Number of sub-calls per aggregate3 call",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	aggregateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpipeline_multicall_aggregate_failures_total",
			Help: "Total number of aggregate3 calls that failed as a whole",
		},
	)

	subCallFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpipeline_multicall_subcall_failures_total",
			Help: "Total number of failed sub-calls inside successful aggregate3 calls",
		},
	)

	individualRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpipeline_multicall_individual_calls_total",
			Help: "Total number of calls retried outside of aggregate3",
		},
	)
)

func aggregateCallsInc(size int) {
	aggregateCalls.Inc()
	aggregateBatchSize.Observe(float64(size))
}

func aggregateFailuresInc() {
	aggregateFailures.Inc()
}

func subCallFailuresInc() {
	subCallFailures.Inc()
}

func individualRetriesInc() {
	individualRetries.Inc()
}
