package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database metrics
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"db", "operation"},
	)

	dbQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainpipeline_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"db", "operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"db", "error_type"},
	)

	// Pipeline metrics
	LastProcessedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpipeline_last_processed_block",
			Help: "The last block number handed to the buffer",
		},
	)

	LastCheckpointBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpipeline_last_checkpoint_block",
			Help: "The last block number whose records were fully exported",
		},
	)

	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpipeline_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
	)

	RangeProcessingTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainpipeline_range_processing_duration_seconds",
			Help:    "Time taken to load and process one block range",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProcessingRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpipeline_processing_rate_blocks_per_second",
			Help: "Current processing rate in blocks per second",
		},
	)

	// Job metrics
	JobProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainpipeline_job_processing_duration_seconds",
			Help:    "Time taken by a job to process one block range",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_records_emitted_total",
			Help: "Total number of records collected by jobs",
		},
		[]string{"job", "kind"},
	)

	ItemsMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_items_matched_total",
			Help: "Total number of logs and transactions that matched a job filter",
		},
		[]string{"job", "type"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpipeline_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpipeline_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpipeline_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpipeline_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func DBQueryInc(db string, operation string) {
	dbQueries.WithLabelValues(db, operation).Inc()
}

func DBQueryDuration(db string, operation string, duration time.Duration) {
	dbQueryTime.WithLabelValues(db, operation).Observe(duration.Seconds())
}

func DBErrorsInc(db string, errorType string) {
	dbErrors.WithLabelValues(db, errorType).Inc()
}

func RangeProcessingTimeLog(duration time.Duration) {
	RangeProcessingTime.Observe(duration.Seconds())
}

func LastProcessedBlockSet(blockNum uint64) {
	LastProcessedBlock.Set(float64(blockNum))
}

func LastCheckpointBlockSet(blockNum uint64) {
	LastCheckpointBlock.Set(float64(blockNum))
}

func BlocksProcessedInc(count uint64) {
	BlocksProcessed.Add(float64(count))
}

func ProcessingRateLog(rate float64) {
	ProcessingRate.Set(rate)
}

func JobProcessingTimeLog(job string, duration time.Duration) {
	JobProcessingTime.WithLabelValues(job).Observe(duration.Seconds())
}

func RecordsEmittedInc(job, kind string, count int) {
	RecordsEmitted.WithLabelValues(job, kind).Add(float64(count))
}

func ItemsMatchedInc(job, itemType string, count int) {
	ItemsMatched.WithLabelValues(job, itemType).Add(float64(count))
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
