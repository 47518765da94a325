package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recordsExported = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chainpipeline_exporter_records_total",
		Help: "Total number of records written by each exporter",
	},
	[]string{"exporter"},
)

func recordsExportedAdd(exporter string, n int) {
	recordsExported.WithLabelValues(exporter).Add(float64(n))
}
