package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpipeline_source_items_loaded_total",
		Help: "Total number of chain items loaded, by item type",
	}, []string{"type"})

	logRangeSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainpipeline_source_log_range_splits_total",
		Help: "Total number of eth_getLogs ranges narrowed after a too-many-results error",
	})

	senderRecoveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainpipeline_source_sender_recovery_failures_total",
		Help: "Total number of transactions skipped because the sender could not be recovered",
	})
)
