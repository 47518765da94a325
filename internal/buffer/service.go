package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/executor"
	"github.com/goran-ethernal/ChainPipeline/internal/export"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/metrics"
	"github.com/goran-ethernal/ChainPipeline/internal/retry"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

// versionSeqBits is the share of a batch write version taken by the in-process sequence.
const versionSeqBits = 20

// pendingBatch tracks one flushed batch until the watermark passes it.
type pendingBatch struct {
	through uint64
	done    bool
	failed  bool
}

// Service accumulates produced records and exports them asynchronously.
//
// A flush is triggered when the anchor kind reaches the size threshold or when
// MaxAge has passed since the last flush while data is buffered. Flushed batches are exported
// on a bounded executor; exporters run in configuration order within a batch.
// The exported watermark only advances over a contiguous prefix of successfully
// exported batches, so it is safe to checkpoint.
type Service struct {
	cfg       config.BufferConfig
	exporters []export.Exporter
	exec      *executor.Executor[uint64]
	log       *logger.Logger
	now       func() time.Time

	// guards the buffered records and flush bookkeeping
	mu        sync.Mutex
	records   map[record.EntityKind][]record.Record
	size      int
	written   uint64
	lastCut   uint64
	lastFlush time.Time
	seq       uint64
	epoch     uint64
	closed    bool

	// guards the pending export set and the watermark
	pendingMu   sync.Mutex
	inflight    map[uint64]chan struct{}
	batches     map[uint64]*pendingBatch
	nextConfirm uint64
	exported    uint64
	hasExported bool

	notifyMu     sync.Mutex
	lastNotified uint64
	onExported   func(block uint64)

	errMu sync.Mutex
	err   error
	errCh chan *ExportError

	startOnce sync.Once
	stopPoll  context.CancelFunc
	pollDone  chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithOnExported registers a callback invoked with the exported watermark every time it advances.
// Calls are serialized and strictly increasing.
func WithOnExported(fn func(block uint64)) Option {
	return func(s *Service) {
		s.onExported = fn
	}
}

// WithClock overrides the time source used by the age trigger.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a buffer service exporting to exporters in order.
func NewService(cfg config.BufferConfig, exporters []export.Exporter, log *logger.Logger, opts ...Option) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid buffer configuration: %w", err)
	}
	if len(exporters) == 0 {
		return nil, errors.New("at least one exporter is required")
	}

	log = log.WithComponent(common.ComponentBuffer)

	s := &Service{
		cfg:         cfg,
		exporters:   exporters,
		log:         log,
		now:         time.Now,
		records:     make(map[record.EntityKind][]record.Record),
		inflight:    make(map[uint64]chan struct{}),
		batches:     make(map[uint64]*pendingBatch),
		nextConfirm: 1,
		errCh:       make(chan *ExportError, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.lastFlush = s.now()
	// batch versions keep increasing across restarts
	s.epoch = uint64(s.lastFlush.UnixMilli()) << versionSeqBits
	s.exec = executor.New(cfg.ExportWorkers,
		executor.WithName[uint64]("export"),
		executor.WithLogger[uint64](log),
		// failures are reported through fail
		executor.WithOnError[uint64](func(error) {}),
	)

	return s, nil
}

// Start launches the age trigger loop. It is a no-op after the first call.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		pollCtx, cancel := context.WithCancel(ctx)
		s.stopPoll = cancel
		s.pollDone = make(chan struct{})

		go s.pollLoop(pollCtx)

		metrics.ComponentHealthSet(common.ComponentBuffer, true)
		s.log.Infof("buffer service started: anchor=%s size_threshold=%d max_age=%s",
			s.cfg.AnchorKind, s.cfg.SizeThreshold, s.cfg.MaxAge)
	})
}

// Write buffers records produced for blocks up to through.
// Reaching the anchor size threshold cuts a batch and submits it for export
// before Write returns; the export itself runs asynchronously.
func (s *Service) Write(ctx context.Context, records map[record.EntityKind][]record.Record, through uint64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	if err := s.Err(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrHalted, err)
	}

	for kind, recs := range records {
		if len(recs) == 0 {
			continue
		}
		s.records[kind] = append(s.records[kind], recs...)
		s.size += len(recs)
	}
	if through > s.written {
		s.written = through
	}

	var batch *export.Batch
	if len(s.records[record.EntityKind(s.cfg.AnchorKind)]) >= s.cfg.SizeThreshold {
		batch = s.cutLocked(triggerSize)
	}
	s.mu.Unlock()

	if batch != nil {
		s.submit(ctx, *batch)
	}
	return nil
}

// Flush cuts a batch from the buffer and waits until it and every earlier batch finished exporting.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrShutdown
	}

	s.flush(ctx, triggerManual)
	if err := s.awaitPending(ctx); err != nil {
		return err
	}
	return s.Err()
}

// Shutdown stops intake and the age loop, flushes what is left and waits for
// every pending export before stopping the export workers.
// No export is aborted unless ctx ends first.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	s.closed = true
	s.mu.Unlock()

	if s.stopPoll != nil {
		s.stopPoll()
		<-s.pollDone
	}

	var errs []error
	s.flush(ctx, triggerShutdown)
	if err := s.awaitPending(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.exec.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop export workers: %w", err))
	}
	if err := s.Err(); err != nil {
		errs = append(errs, err)
	}

	metrics.ComponentHealthSet(common.ComponentBuffer, false)
	s.log.Info("buffer service stopped")

	return errors.Join(errs...)
}

// Rewind moves the write and export watermarks back to block after a reorg.
// It must follow a successful Flush. Records written afterwards belong to the
// reprocessed range and are not reported as exported past what they cover.
func (s *Service) Rewind(block uint64) {
	s.mu.Lock()
	s.written = min(s.written, block)
	s.lastCut = min(s.lastCut, block)
	s.mu.Unlock()

	s.pendingMu.Lock()
	s.exported = min(s.exported, block)
	s.pendingMu.Unlock()

	s.notifyMu.Lock()
	s.lastNotified = min(s.lastNotified, block)
	s.notifyMu.Unlock()

	s.log.Infof("buffer watermarks rewound to block %d", block)
}

// Err returns the first export failure, if any.
func (s *Service) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Errors delivers the first permanent export failure.
func (s *Service) Errors() <-chan *ExportError {
	return s.errCh
}

// Exported returns the highest block whose records are fully exported.
func (s *Service) Exported() (uint64, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.exported, s.hasExported
}

// Pending returns the number of batches still being exported.
func (s *Service) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.inflight)
}

// Len returns the number of buffered, unflushed records.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// flush swaps the buffer out under the lock and submits it for export.
func (s *Service) flush(ctx context.Context, trigger string) {
	s.mu.Lock()
	batch := s.cutLocked(trigger)
	s.mu.Unlock()

	if batch != nil {
		s.submit(ctx, *batch)
	}
}

// cutLocked takes the buffered records as a new batch and registers it as pending.
// It returns nil when nothing was written since the last cut. s.mu must be held.
func (s *Service) cutLocked(trigger string) *export.Batch {
	if s.size == 0 && s.written <= s.lastCut {
		return nil
	}

	s.seq++
	batch := &export.Batch{
		Seq:     s.seq,
		Through: s.written,
		Version: s.epoch + s.seq,
		Records: s.records,
	}
	count := s.size

	s.records = make(map[record.EntityKind][]record.Record)
	s.size = 0
	s.lastCut = s.written
	s.lastFlush = s.now()

	s.pendingMu.Lock()
	s.batches[batch.Seq] = &pendingBatch{through: batch.Through}
	s.inflight[batch.Seq] = make(chan struct{})
	pendingExports.Inc()
	s.pendingMu.Unlock()

	flushInc(trigger, count)
	s.log.Debugf("flushing batch %d: trigger=%s records=%d through_block=%d", batch.Seq, trigger, count, batch.Through)

	return batch
}

// submit hands a cut batch to the export workers.
func (s *Service) submit(ctx context.Context, batch export.Batch) {
	task := func(taskCtx context.Context) (uint64, error) {
		err := s.exportBatch(taskCtx, batch)
		s.complete(batch, err)
		return batch.Seq, err
	}

	if _, err := s.exec.Submit(ctx, task); err != nil {
		// the batch is already out of the buffer: export it here rather than lose it
		s.log.Warnf("failed to submit batch %d, exporting inline: %v", batch.Seq, err)
		_, _ = task(context.WithoutCancel(ctx))
	}
}

func (s *Service) exportBatch(ctx context.Context, batch export.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	for _, exp := range s.exporters {
		start := time.Now()
		err := retry.Do(ctx, s.cfg.ExportRetry, "export_"+exp.Name(), retry.Always, func() error {
			return exp.Export(ctx, batch)
		})
		exportDuration.WithLabelValues(exp.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			exportErrors.WithLabelValues(exp.Name()).Inc()
			return &ExportError{Exporter: exp.Name(), Seq: batch.Seq, Records: batch.Len(), Err: err}
		}
	}

	return nil
}

// complete marks a batch finished and advances the watermark over the
// contiguous prefix of successful batches.
func (s *Service) complete(batch export.Batch, err error) {
	s.pendingMu.Lock()
	p := s.batches[batch.Seq]
	p.done = true
	p.failed = err != nil

	advanced := false
	for {
		next, ok := s.batches[s.nextConfirm]
		if !ok || !next.done || next.failed {
			break
		}
		s.exported = max(s.exported, next.through)
		s.hasExported = true
		advanced = true
		delete(s.batches, s.nextConfirm)
		s.nextConfirm++
	}
	s.pendingMu.Unlock()

	if err != nil {
		s.fail(err)
	} else {
		s.log.Debugf("exported batch %d: records=%d through_block=%d", batch.Seq, batch.Len(), batch.Through)
		if advanced {
			s.notifyExported()
		}
	}

	s.pendingMu.Lock()
	finished := s.inflight[batch.Seq]
	delete(s.inflight, batch.Seq)
	pendingExports.Dec()
	s.pendingMu.Unlock()

	close(finished)
}

func (s *Service) notifyExported() {
	if s.onExported == nil {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	block, ok := s.Exported()
	if !ok || block <= s.lastNotified {
		return
	}
	s.onExported(block)
	s.lastNotified = block
}

func (s *Service) fail(err error) {
	var exportErr *ExportError
	if !errors.As(err, &exportErr) {
		exportErr = &ExportError{Err: err}
	}

	s.log.Errorf("buffer service halted: %v", err)
	metrics.ErrorsInc(common.ComponentBuffer, "fatal")

	s.errMu.Lock()
	first := s.err == nil
	if first {
		s.err = exportErr
	}
	s.errMu.Unlock()

	if first {
		select {
		case s.errCh <- exportErr:
		default:
		}
	}
}

// awaitPending waits for every batch submitted so far.
func (s *Service) awaitPending(ctx context.Context) error {
	s.pendingMu.Lock()
	waits := make([]chan struct{}, 0, len(s.inflight))
	for _, finished := range s.inflight {
		waits = append(waits, finished)
	}
	s.pendingMu.Unlock()

	for _, finished := range waits {
		select {
		case <-finished:
		case <-ctx.Done():
			return fmt.Errorf("waiting for pending exports: %w", ctx.Err())
		}
	}
	return nil
}

func (s *Service) pollLoop(ctx context.Context) {
	defer close(s.pollDone)

	ticker := time.NewTicker(s.cfg.PollInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.due() {
				continue
			}
			s.flush(ctx, triggerAge)
		}
	}
}

// due reports whether data is buffered and MaxAge has passed since the last flush.
func (s *Service) due() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == 0 && s.written <= s.lastCut {
		return false
	}
	return s.now().Sub(s.lastFlush) >= s.cfg.MaxAge.Duration
}
