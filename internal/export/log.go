package export

import (
	"context"

	"github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

var _ Exporter = (*Log)(nil)

// Log writes batch summaries at info level and every record at debug level.
type Log struct {
	registry *record.Registry
	log      *logger.Logger
}

func NewLog(registry *record.Registry, log *logger.Logger) *Log {
	return &Log{
		registry: registry,
		log:      log.WithComponent(common.ComponentExporter),
	}
}

func (l *Log) Name() string {
	return config.ExporterLog
}

func (l *Log) Export(_ context.Context, batch Batch) error {
	for _, kind := range batch.Kinds(l.registry) {
		recs := batch.Records[kind]
		l.log.Infow("exported records", "batch", batch.Seq, "kind", kind, "count", len(recs))

		for _, r := range recs {
			l.log.Debugw("record", "kind", kind, "key", r.Key(), "block", r.BlockNumber(), "values", r.Values())
		}
	}

	recordsExportedAdd(l.Name(), batch.Len())
	return nil
}

func (l *Log) Close() error {
	return nil
}
