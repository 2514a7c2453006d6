// Package queue holds the bounded in-memory queue of video prefetch jobs.
//
// Sessions enqueue their upcoming items; prefetch workers drain the queue and
// warm the download cache. Enqueue never blocks a request.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/kickrate/pkg/metrics"
)

const defaultCapacity = 64

// FetchJob asks the prefetch pool to make one item available locally.
type FetchJob struct {
	SessionID  string
	ItemID     string
	EnqueuedAt time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. It returns false if the queue is full or closed.
	Enqueue(ctx context.Context, job FetchJob) bool

	// Dequeue returns the channel workers read jobs from. It is closed by Close.
	Dequeue(ctx context.Context) <-chan FetchJob

	// Len returns the number of queued jobs.
	Len(ctx context.Context) int

	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue on a buffered channel.
type InMemoryQueue struct {
	jobs     chan FetchJob
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a queue holding at most WithCapacity jobs.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan FetchJob, q.capacity)
	metrics.UpdatePrefetchQueueSize(0)
	return q
}

// Enqueue adds a job without blocking. Jobs for a closed or full queue are dropped.
func (q *InMemoryQueue) Enqueue(_ context.Context, job FetchJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case q.jobs <- job:
		metrics.UpdatePrefetchQueueSize(len(q.jobs))
		return true
	default:
		metrics.RecordPrefetchJob("dropped", 0)
		return false
	}
}

// Dequeue returns the job channel. Every caller shares the same channel.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan FetchJob {
	return q.jobs
}

// Len returns the number of queued jobs.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.jobs)
}

// Close stops accepting jobs and closes the dequeue channel. Jobs already
// buffered are still delivered. Close is idempotent.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.jobs)
	return nil
}

// IsClosed reports whether Close has been called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
