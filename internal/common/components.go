package common

const (
	ComponentPipeline      = "pipeline"
	ComponentChainSource   = "chain-source"
	ComponentReorgDetector = "reorg-detector"
	ComponentCheckpoint    = "checkpoint"
	ComponentBuffer        = "buffer"
	ComponentExecutor      = "executor"
	ComponentMultiCall     = "multicall"
	ComponentExporter      = "exporter"
	ComponentJobs          = "jobs"
	ComponentMaintenance   = "db-maintenance"
)

var AllComponents = map[string]struct{}{
	ComponentPipeline:      {},
	ComponentChainSource:   {},
	ComponentReorgDetector: {},
	ComponentCheckpoint:    {},
	ComponentBuffer:        {},
	ComponentExecutor:      {},
	ComponentMultiCall:     {},
	ComponentExporter:      {},
	ComponentJobs:          {},
	ComponentMaintenance:   {},
}
