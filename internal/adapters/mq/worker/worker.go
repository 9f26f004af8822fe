// Package worker applies queued session writes to the store.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/bluffmeter/internal/adapters/mq/queue"
	"github.com/okian/bluffmeter/internal/adapters/repository"
	"github.com/okian/bluffmeter/pkg/logger"
	"github.com/okian/bluffmeter/pkg/metrics"
)

const writeTimeout = 5 * time.Second

// Writer applies a versioned patch.
type Writer interface {
	UpdateSession(ctx context.Context, id string, p repository.Patch) (bool, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until its queue is drained or it is shut down.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing session writes.
type InMemoryWorker struct {
	queue  Queue
	writer Writer
	name   string

	processed *atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, w Writer, opts ...Option) *InMemoryWorker {
	wk := &InMemoryWorker{
		queue:     q,
		writer:    w,
		name:      "worker",
		processed: new(atomic.Int64),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(wk)
	}
	return wk
}

// Run starts the worker loop. It returns when the queue channel is closed
// and empty, on Shutdown, or when ctx is cancelled.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, j); err != nil {
				w.logger.Error(ctx, "session write failed",
					logger.String("worker", w.name),
					logger.String("session_id", j.SessionID),
					logger.Int64("version", j.Patch.Version),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker without draining.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out", logger.String("worker", w.name))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) (err error) { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		w.processed.Add(1)
		if j.Done != nil {
			select {
			case j.Done <- err:
			default:
			}
		}
	}()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	applied, err := w.writer.UpdateSession(wctx, j.SessionID, j.Patch)
	if err != nil {
		metrics.RecordPersistenceError("update")
		return fmt.Errorf("update session %s: %w", j.SessionID, err)
	}
	if !applied {
		metrics.RecordStaleWrite()
		w.logger.Debug(ctx, "stale session write skipped",
			logger.String("session_id", j.SessionID),
			logger.Int64("version", j.Patch.Version),
		)
		return nil
	}
	metrics.RecordPersistenceWrite("update")
	return nil
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	processed atomic.Int64
	logger    logger.Logger
}

// NewPool creates a new worker pool. A count below one means one worker
// per CPU.
func NewPool(workerCount int, q Queue, w Writer) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wk := NewInMemoryWorker(q, w, WithName("writer-"+strconv.Itoa(i)))
		wk.processed = &pool.processed
		pool.workers[i] = wk
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, wk := range p.workers {
		go wk.Run(ctx)
	}
	p.logger.Info(ctx, "writers started", logger.Int("count", len(p.workers)))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many jobs the pool has handled.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Shutdown closes the queue and waits for the workers to drain it. Workers
// still busy when ctx expires are stopped without draining.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	var timedOut bool
	for i, wk := range p.workers {
		select {
		case <-wk.done:
		case <-ctx.Done():
			timedOut = true
			p.logger.Warn(ctx, "writer drain timed out", logger.Int("worker_id", i))
			_ = wk.Shutdown(context.Background())
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("drain write queue: %w", ctx.Err())
	}
	return nil
}
