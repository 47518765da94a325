package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	triggerSize     = "size"
	triggerAge      = "age"
	triggerManual   = "manual"
	triggerShutdown = "shutdown"
)

var (
	flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_buffer_flushes_total",
			Help: "Total number of buffer flushes by trigger",
		},
		[]string{"trigger"},
	)

	recordsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpipeline_buffer_records_flushed_total",
			Help: "Total number of records handed to exporters",
		},
	)

	pendingExports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpipeline_buffer_pending_exports",
			Help: "Number of flushed batches not yet exported",
		},
	)

	exportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_buffer_export_errors_total",
			Help: "Total number of batches that failed to export after all retries",
		},
		[]string{"exporter"},
	)

	exportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainpipeline_buffer_export_duration_seconds",
			Help:    "Duration of one batch export per exporter",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"exporter"},
	)
)

func flushInc(trigger string, records int) {
	flushes.WithLabelValues(trigger).Inc()
	recordsFlushed.Add(float64(records))
}
