package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	intcommon "github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/buffer"
	"github.com/goran-ethernal/ChainPipeline/internal/checkpoint"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/metrics"
	"github.com/goran-ethernal/ChainPipeline/internal/reorg"
	"github.com/goran-ethernal/ChainPipeline/pkg/filter"
	"github.com/goran-ethernal/ChainPipeline/pkg/job"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
	pkgreorg "github.com/goran-ethernal/ChainPipeline/pkg/reorg"
	"golang.org/x/sync/errgroup"
)

const (
	defaultChunkSize    = 100
	defaultPollInterval = 12 * time.Second
)

// DataSource loads chain data for a block range.
type DataSource interface {
	// Head returns the highest block that may be processed.
	Head(ctx context.Context) (uint64, error)
	// Load returns the headers of [from, to] and the items matching q.
	Load(ctx context.Context, from, to uint64, q filter.Query) (*job.Range, error)
}

// Sink receives the records of every processed range.
type Sink interface {
	Write(ctx context.Context, records map[record.EntityKind][]record.Record, through uint64) error
	Flush(ctx context.Context) error
	// Rewind moves the sink's watermarks back to blockNum once a flush completed.
	Rewind(blockNum uint64)
	Errors() <-chan *buffer.ExportError
}

// Checkpointer persists the last fully exported block.
type Checkpointer interface {
	Load() (*checkpoint.State, bool, error)
	Save(blockNum uint64, blockHash common.Hash) error
	Rewind(blockNum uint64) error
}

// Pipeline runs a resolved job set over consecutive block ranges.
type Pipeline struct {
	plan   *Plan
	spec   filter.Specification
	query  filter.Query
	source DataSource
	sink   Sink
	log    *logger.Logger

	checkpoint Checkpointer
	detector   pkgreorg.Detector

	startBlock   uint64
	endBlock     uint64
	chunkSize    uint64
	pollInterval time.Duration

	// hashes of processed range ends, kept until they are checkpointed
	hashMu sync.Mutex
	hashes map[uint64]common.Hash
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCheckpoint resumes from and records progress in cp.
func WithCheckpoint(cp Checkpointer) Option {
	return func(p *Pipeline) {
		p.checkpoint = cp
	}
}

// WithReorgDetector verifies every loaded range before jobs run.
func WithReorgDetector(d pkgreorg.Detector) Option {
	return func(p *Pipeline) {
		p.detector = d
	}
}

// WithBlockRange bounds Run. An end of zero follows the chain head forever.
func WithBlockRange(start, end uint64) Option {
	return func(p *Pipeline) {
		p.startBlock = start
		p.endBlock = end
	}
}

// WithChunkSize sets the maximum number of blocks per range.
func WithChunkSize(n uint64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithPollInterval sets how long Run waits for new blocks once caught up.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// New resolves jobs against the registry and builds a pipeline over source and sink.
func New(jobs []job.Job, registry *record.Registry, source DataSource, sink Sink,
	log *logger.Logger, opts ...Option) (*Pipeline, error) {
	plan, err := Resolve(jobs, registry)
	if err != nil {
		return nil, err
	}

	specs := make([]filter.Specification, 0, len(jobs))
	for _, j := range jobs {
		if spec := j.Filter(); spec != nil {
			specs = append(specs, spec)
		}
	}
	spec := filter.OrSpecification(specs...)

	p := &Pipeline{
		plan:         plan,
		spec:         spec,
		query:        filter.QueryFor(spec),
		source:       source,
		sink:         sink,
		log:          log.WithComponent(intcommon.ComponentPipeline),
		chunkSize:    defaultChunkSize,
		pollInterval: defaultPollInterval,
		hashes:       make(map[uint64]common.Hash),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.log.Infow("pipeline resolved", "plan", plan.String(), "source_kinds", plan.SourceKinds)
	metrics.ComponentHealthSet(intcommon.ComponentPipeline, true)

	return p, nil
}

// Plan returns the resolved execution order.
func (p *Pipeline) Plan() *Plan {
	return p.plan
}

// ProcessRange loads [from, to], runs every job level in order and hands the
// range's records to the sink.
func (p *Pipeline) ProcessRange(ctx context.Context, from, to uint64) error {
	start := time.Now()

	chain, err := p.source.Load(ctx, from, to, p.query)
	if err != nil {
		return fmt.Errorf("failed to load range %d-%d: %w", from, to, err)
	}

	if p.detector != nil {
		if err := p.detector.VerifyAndRecordBlocks(ctx, chain.Headers, chain.Logs); err != nil {
			return err
		}
	}

	buf := job.NewBuffer()
	for level, jobs := range p.plan.Levels {
		if err := p.runLevel(ctx, chain, buf, jobs); err != nil {
			return fmt.Errorf("level %d: %w", level, err)
		}
	}

	if n := len(chain.Headers); n > 0 {
		p.rememberHash(to, chain.Headers[n-1].Hash())
	}

	if err := p.sink.Write(ctx, buf.Snapshot(), to); err != nil {
		return fmt.Errorf("failed to buffer range %d-%d: %w", from, to, err)
	}

	elapsed := time.Since(start)
	metrics.RangeProcessingTimeLog(elapsed)
	metrics.BlocksProcessedInc(to - from + 1)
	if elapsed > 0 {
		metrics.ProcessingRateLog(float64(to-from+1) / elapsed.Seconds())
	}
	metrics.LastProcessedBlockSet(to)

	return nil
}

// runLevel runs independent jobs concurrently against the records of earlier
// levels and merges their output in declaration order.
func (p *Pipeline) runLevel(ctx context.Context, chain *job.Range, buf *job.Buffer, jobs []job.Job) error {
	collectors := make([]*job.Collector, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		collectors[i] = job.NewCollector(j.Name(), j.OutputTypes())

		g.Go(func() error {
			r := narrow(j, chain, buf, collectors[i])
			if r == nil {
				return nil
			}

			jobStart := time.Now()
			if err := j.Process(gctx, r); err != nil {
				return fmt.Errorf("job %s: %w", j.Name(), err)
			}
			metrics.JobProcessingTimeLog(j.Name(), time.Since(jobStart))
			metrics.ItemsMatchedInc(j.Name(), "log", len(r.Logs))
			metrics.ItemsMatchedInc(j.Name(), "transaction", len(r.Transactions))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i, c := range collectors {
		buf.Merge(c)
		for _, kind := range c.Kinds() {
			metrics.RecordsEmittedInc(jobs[i].Name(), kind.String(), len(c.Records(kind)))
		}
	}

	return nil
}

// narrow builds the job's view of the range. It returns nil when the range
// ends before the job's start block.
func narrow(j job.Job, chain *job.Range, buf *job.Buffer, c *job.Collector) *job.Range {
	var startBlock uint64
	if sb, ok := j.(job.StartBlocker); ok {
		startBlock = sb.StartBlock()
		if chain.To < startBlock {
			return nil
		}
	}

	r := job.NewRange(chain.From, chain.To, buf, c)
	r.Headers = chain.Headers

	spec := j.Filter()
	if spec == nil {
		return r
	}

	for i := range chain.Logs {
		l := &chain.Logs[i]
		if l.BlockNumber >= startBlock && spec.IsSatisfiedBy(filter.FromLog(l)) {
			r.Logs = append(r.Logs, *l)
		}
	}
	for _, tx := range chain.Transactions {
		if tx.BlockNumber >= startBlock && spec.IsSatisfiedBy(filter.FromTransaction(tx.Tx, tx.From)) {
			r.Transactions = append(r.Transactions, tx)
		}
	}

	return r
}

// Run processes ranges from the checkpoint until ctx is cancelled, the end
// block is reached, or an export fails.
func (p *Pipeline) Run(ctx context.Context) error {
	next, err := p.resumeBlock()
	if err != nil {
		return err
	}

	p.log.Infow("starting pipeline", "from_block", next, "end_block", p.endBlock)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("pipeline cancelled")
			return ctx.Err()
		case exportErr := <-p.sink.Errors():
			return fmt.Errorf("export halted: %w", exportErr)
		default:
		}

		if p.endBlock != 0 && next > p.endBlock {
			p.log.Infow("reached end block", "end_block", p.endBlock)
			return nil
		}

		head, err := p.source.Head(ctx)
		if err != nil {
			return fmt.Errorf("failed to get chain head: %w", err)
		}

		if next > head {
			if err := p.wait(ctx); err != nil {
				return err
			}
			continue
		}

		to := min(next+p.chunkSize-1, head)
		if p.endBlock != 0 {
			to = min(to, p.endBlock)
		}

		err = p.ProcessRange(ctx, next, to)
		if reorgErr, ok := reorg.AsReorgError(err); ok {
			if next, err = p.handleReorg(ctx, reorgErr); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.ErrorsInc(intcommon.ComponentPipeline, "error")
			p.log.Errorw("failed to process range", "from", next, "to", to, "error", err)
			return err
		}

		p.log.Debugw("range processed", "from", next, "to", to)
		next = to + 1
	}
}

// OnExported records the exported watermark in the checkpoint store.
// It is meant to be registered as the buffer's exported callback.
func (p *Pipeline) OnExported(block uint64) {
	hash := p.takeHash(block)

	if p.checkpoint == nil {
		return
	}
	if err := p.checkpoint.Save(block, hash); err != nil {
		metrics.ErrorsInc(intcommon.ComponentCheckpoint, "error")
		p.log.Errorw("failed to save checkpoint", "block", block, "error", err)
		return
	}

	p.log.Infow("checkpoint saved", "block", block, "block_hash", hash.Hex())
}

func (p *Pipeline) resumeBlock() (uint64, error) {
	if p.checkpoint == nil {
		return p.startBlock, nil
	}

	state, found, err := p.checkpoint.Load()
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !found || state.LastBlock < p.startBlock {
		p.log.Infow("starting fresh", "start_block", p.startBlock)
		return p.startBlock, nil
	}

	p.log.Infow("resuming from checkpoint", "last_block", state.LastBlock, "block_hash", state.LastBlockHash.Hex())
	return state.LastBlock + 1, nil
}

// handleReorg drains buffered output, rewinds persisted progress to just before
// the reorg and returns the block to reprocess from.
func (p *Pipeline) handleReorg(ctx context.Context, reorgErr *reorg.ReorgDetectedError) (uint64, error) {
	first := reorgErr.FirstReorgBlock
	p.log.Warnw("reorg detected, rewinding", "first_reorg_block", first, "details", reorgErr.Details)

	for _, j := range p.plan.Jobs() {
		if !j.AbleToReorg() {
			p.log.Warnw("job output is not reorg safe, reprocessed records may coexist with orphaned ones",
				"job", j.Name(), "from_block", first)
		}
	}

	if err := p.sink.Flush(ctx); err != nil {
		return 0, fmt.Errorf("failed to flush before reorg: %w", err)
	}

	if first > 0 {
		p.sink.Rewind(first - 1)
	}
	if p.checkpoint != nil && first > 0 {
		if err := p.checkpoint.Rewind(first - 1); err != nil {
			return 0, fmt.Errorf("failed to rewind checkpoint: %w", err)
		}
	}
	if p.detector != nil {
		if err := p.detector.Rewind(first); err != nil {
			return 0, fmt.Errorf("failed to rewind reorg detector: %w", err)
		}
	}

	p.dropHashesFrom(first)

	return max(first, p.startBlock), nil
}

func (p *Pipeline) wait(ctx context.Context) error {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case exportErr := <-p.sink.Errors():
		return fmt.Errorf("export halted: %w", exportErr)
	case <-timer.C:
		return nil
	}
}

func (p *Pipeline) rememberHash(block uint64, hash common.Hash) {
	p.hashMu.Lock()
	defer p.hashMu.Unlock()

	p.hashes[block] = hash
}

// takeHash returns the hash of block and forgets every hash up to it.
func (p *Pipeline) takeHash(block uint64) common.Hash {
	p.hashMu.Lock()
	defer p.hashMu.Unlock()

	hash := p.hashes[block]
	for n := range p.hashes {
		if n <= block {
			delete(p.hashes, n)
		}
	}
	return hash
}

func (p *Pipeline) dropHashesFrom(block uint64) {
	p.hashMu.Lock()
	defer p.hashMu.Unlock()

	for n := range p.hashes {
		if n >= block {
			delete(p.hashes, n)
		}
	}
}
