package job

import (
	"context"

	"github.com/goran-ethernal/ChainPipeline/pkg/filter"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

// Job is a single transform stage of the pipeline.
// A job reads the record kinds it depends on from the per-range buffer and
// writes the kinds it declares as outputs.
type Job interface {
	// Name returns a unique name for the job instance.
	Name() string

	// DependencyTypes are the record kinds this job reads from the buffer.
	DependencyTypes() []record.EntityKind

	// OutputTypes are the record kinds this job may write. Collecting any other
	// kind fails the range.
	OutputTypes() []record.EntityKind

	// AbleToReorg reports whether the job's output is safe to reprocess after a
	// reorg, i.e. a reprocessed range fully overwrites what was emitted before.
	AbleToReorg() bool

	// Filter returns the chain items this job is interested in.
	// A nil filter means the job only consumes buffered records.
	Filter() filter.Specification

	// Process runs the job over one block range.
	Process(ctx context.Context, r *Range) error
}

// StartBlocker is implemented by jobs that should ignore blocks before a given height.
type StartBlocker interface {
	StartBlock() uint64
}

// Closer is implemented by jobs holding resources.
type Closer interface {
	Close() error
}
