package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queuedTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpipeline_executor_queued_tasks",
			Help: "Number of tasks waiting for dispatch",
		},
		[]string{"executor"},
	)

	runningTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpipeline_executor_running_tasks",
			Help: "Number of tasks currently running",
		},
		[]string{"executor"},
	)

	taskFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpipeline_executor_task_failures_total",
			Help: "Total number of failed tasks",
		},
		[]string{"executor"},
	)
)
