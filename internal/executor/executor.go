package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed is returned by Submit once the executor is closed.
	ErrClosed = errors.New("executor is closed")

	// ErrAcquireTimeout is returned by Submit when no slot frees up in time.
	ErrAcquireTimeout = errors.New("timed out waiting for a free executor slot")
)

// Task is a unit of work run by the executor.
type Task[T any] func(ctx context.Context) (T, error)

// Option configures an Executor.
type Option[T any] func(*Executor[T])

// WithOnSuccess registers a callback invoked with the result of every successful task.
func WithOnSuccess[T any](fn func(T)) Option[T] {
	return func(e *Executor[T]) {
		e.onSuccess = fn
	}
}

// WithOnError registers a callback invoked with the error of every failed task.
// Without it, failures are logged.
func WithOnError[T any](fn func(error)) Option[T] {
	return func(e *Executor[T]) {
		e.onError = fn
	}
}

// WithAcquireTimeout bounds how long Submit waits for a free slot. Zero waits for the caller's context.
func WithAcquireTimeout[T any](d time.Duration) Option[T] {
	return func(e *Executor[T]) {
		e.acquireTimeout = d
	}
}

// WithLogger sets the executor logger.
func WithLogger[T any](log *logger.Logger) Option[T] {
	return func(e *Executor[T]) {
		e.log = log
	}
}

// WithName labels the executor in logs and metrics.
func WithName[T any](name string) Option[T] {
	return func(e *Executor[T]) {
		e.name = name
	}
}

type queued[T any] struct {
	task   Task[T]
	future *Future[T]
}

// Executor is a bounded worker pool.
// A slot is acquired before a task is queued and released only when the task finishes,
// so at most size tasks are queued or running at any time.
// A single dispatch goroutine hands queued tasks to workers.
type Executor[T any] struct {
	name           string
	sem            *semaphore.Weighted
	queue          chan queued[T]
	onSuccess      func(T)
	onError        func(error)
	acquireTimeout time.Duration
	log            *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	dispatchDone chan struct{}
}

// New creates an executor with size worker slots and starts its dispatch goroutine.
func New[T any](size int, opts ...Option[T]) *Executor[T] {
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor[T]{
		name:         "default",
		sem:          semaphore.NewWeighted(int64(size)),
		queue:        make(chan queued[T], size),
		ctx:          ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.GetDefaultLogger().WithComponent(common.ComponentExecutor)
	}

	go e.dispatch()

	return e
}

// Submit queues fn for execution and returns a future for its result.
// It blocks until a slot is free, ctx is done or the acquire timeout expires.
func (e *Executor[T]) Submit(ctx context.Context, fn Task[T]) (*Future[T], error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	acquireCtx := ctx
	if e.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, e.acquireTimeout)
		defer cancel()
	}

	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", e.name, ErrAcquireTimeout)
		}
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.sem.Release(1)
		return nil, ErrClosed
	}

	f := newFuture[T]()
	e.inflight.Add(1)
	// never blocks: a held slot guarantees queue capacity
	e.queue <- queued[T]{task: fn, future: f}
	queuedTasks.WithLabelValues(e.name).Inc()

	return f, nil
}

// Close stops intake and waits for queued and running tasks to finish.
// If ctx ends first, running tasks are cancelled and ctx's error is returned.
func (e *Executor[T]) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		<-e.dispatchDone
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

func (e *Executor[T]) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Executor[T]) dispatch() {
	defer close(e.dispatchDone)

	for q := range e.queue {
		queuedTasks.WithLabelValues(e.name).Dec()
		go e.run(q)
	}
}

func (e *Executor[T]) run(q queued[T]) {
	defer e.inflight.Done()
	defer e.sem.Release(1)

	runningTasks.WithLabelValues(e.name).Inc()
	defer runningTasks.WithLabelValues(e.name).Dec()

	val, err := e.execute(q.task)
	q.future.resolve(val, err)

	if err != nil {
		taskFailures.WithLabelValues(e.name).Inc()
		if e.onError != nil {
			e.onError(err)
		} else {
			e.log.Errorf("task failed in executor %s: %v", e.name, err)
		}
		return
	}

	if e.onSuccess != nil {
		e.onSuccess(val)
	}
}

func (e *Executor[T]) execute(task Task[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("task panicked in executor %s: %v\n%s", e.name, r, debug.Stack())
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return task(e.ctx)
}
