// Package worker runs the video prefetch workers that drain the fetch queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/kickrate/internal/adapters/mq/queue"
	"github.com/okian/kickrate/pkg/logger"
	"github.com/okian/kickrate/pkg/metrics"
)

const (
	defaultWorkerCount  = 2
	defaultFetchTimeout = 2 * time.Minute
	poolShutdownTimeout = 30 * time.Second
)

// Fetcher makes an item available as a local file. catalog.Source satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, itemID string) (string, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.FetchJob
}

// Worker processes fetch jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current job.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for one prefetch goroutine.
type InMemoryWorker struct {
	queue   Queue
	fetcher Fetcher
	name    string
	timeout time.Duration

	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	processed *atomic.Int64
	logger    logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, fetcher Fetcher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		fetcher:   fetcher,
		name:      "prefetch",
		timeout:   defaultFetchTimeout,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		processed: new(atomic.Int64),
		logger:    logger.Get().Named("prefetch"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "prefetch" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. It returns when ctx is done, Shutdown is called
// or the queue is closed and drained.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn(ctx, "prefetch failed",
					logger.String("session_id", job.SessionID),
					logger.String("item_id", job.ItemID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker and waits for its loop to return.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed returns how many jobs completed successfully.
func (w *InMemoryWorker) Processed() int64 { return w.processed.Load() }

func (w *InMemoryWorker) process(ctx context.Context, job queue.FetchJob) error {
	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	_, err := w.fetcher.Fetch(fetchCtx, job.ItemID)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordPrefetchJob("failed", latency)
		metrics.RecordErrorByComponent("prefetch", "fetch_error")
		return fmt.Errorf("prefetch %s: %w", job.ItemID, err)
	}
	w.processed.Add(1)
	metrics.RecordPrefetchJob("ok", latency)
	w.logger.Debug(ctx, "item prefetched",
		logger.String("item_id", job.ItemID),
		logger.Duration("waited", start.Sub(job.EnqueuedAt)),
	)
	return nil
}

// Pool manages multiple prefetch workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	cancel  context.CancelFunc
	mu      sync.Mutex
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. Options are applied to every worker.
func NewPool(workerCount int, q Queue, fetcher Fetcher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("prefetch-pool"),
	}
	for i := range workerCount {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, fetcher, workerOpts...)
	}
	return p
}

// Start starts all workers. In-flight fetches are canceled by Shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		go w.Run(runCtx)
	}
	p.logger.Info(ctx, "prefetch pool started", logger.Int("workers", len(p.workers)))
}

// Processed returns the number of successful fetches across workers.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Shutdown closes the queue, cancels in-flight fetches and waits for workers.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(ctx, poolShutdownTimeout)
	defer stop()
	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
