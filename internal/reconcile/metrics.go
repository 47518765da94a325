package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheEvictions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chainpipeline_cache_evictions_total",
		Help: "Total number of evicted reconciliation cache entries by policy",
	},
	[]string{"policy"},
)

func cacheEvictionsInc(policy string, n int) {
	cacheEvictions.WithLabelValues(policy).Add(float64(n))
}
