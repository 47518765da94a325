package db

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainpipeline_maintenance_runs_total",
		Help: "Total number of state database maintenance passes",
	})

	maintenanceOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpipeline_maintenance_outcomes_total",
		Help: "Total number of maintenance passes by outcome",
	}, []string{"status"})

	maintenanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainpipeline_maintenance_duration_seconds",
		Help:    "Duration of maintenance passes",
		Buckets: prometheus.DefBuckets,
	})

	maintenanceLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainpipeline_maintenance_last_run_timestamp",
		Help: "Unix timestamp of the last maintenance pass",
	})

	maintenanceSpaceReclaimed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainpipeline_maintenance_space_reclaimed_bytes",
		Help: "Bytes reclaimed by the last maintenance pass",
	})

	walCheckpoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainpipeline_wal_checkpoint_total",
		Help: "Total number of WAL checkpoints by mode",
	}, []string{"mode"})

	vacuumRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainpipeline_vacuum_total",
		Help: "Total number of VACUUM runs",
	})

	dbSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainpipeline_state_db_size_bytes",
		Help: "State database size including WAL and shared memory files",
	})
)
