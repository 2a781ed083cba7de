// Package queue holds pending inference jobs between the API and the workers.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/herbid/internal/domain/model"
	"github.com/okian/herbid/pkg/metrics"
)

const (
	defaultQueueCapacity = 256
)

// Job is the payload flowing through the queue.
type Job = model.Job

// Queue provides non-blocking enqueue and channel-based dequeue.
type Queue interface {
	// Enqueue adds a job without blocking. It fails with ErrBackpressure when
	// the queue is full and ErrClosed after Close.
	Enqueue(ctx context.Context, j Job) error

	// Dequeue returns a channel of jobs that is closed when the queue is
	// closed and drained, or when ctx is done.
	Dequeue(ctx context.Context) <-chan Job

	Len(ctx context.Context) int
	Capacity() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a queue holding at most WithCapacity jobs.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// Enqueue adds a job to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) error { //nolint:gocritic // jobs travel by value
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.reject("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		q.reject("context_cancelled")
		return err
	}

	select {
	case q.jobs <- j:
		metrics.RecordQueueEnqueue()
		q.publish()
		return nil
	default:
		q.reject("queue_full")
		return ErrBackpressure
	}
}

func (q *InMemoryQueue) reject(reason string) {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", reason)
}

// Dequeue returns a channel that receives jobs as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-q.jobs:
				if !ok {
					return
				}
				select {
				case out <- j:
					metrics.RecordQueueDequeue()
					if !j.Enqueued.IsZero() {
						metrics.RecordQueueWait(time.Since(j.Enqueued))
					}
					q.publish()
				case <-ctx.Done():
					// The job was taken off the queue; fail it rather than drop it.
					reply(j, model.JobResult{Err: fmt.Errorf("%w: %w", ErrClosed, ctx.Err())})
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of queued jobs.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.jobs)
}

// Capacity returns the queue bound.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Close stops accepting jobs; already queued jobs can still be dequeued.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// Drain fails every job still queued with ErrClosed and returns how many
// there were. It only runs after Close, when no new job can arrive.
func (q *InMemoryQueue) Drain() int {
	if !q.IsClosed() {
		return 0
	}
	n := 0
	for j := range q.jobs {
		reply(j, model.JobResult{Err: ErrClosed})
		n++
	}
	if n > 0 {
		q.publish()
	}
	return n
}

// IsClosed reports whether Close has been called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) publish() {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// reply delivers r without blocking; jobs carry a one-slot reply channel.
func reply(j Job, r model.JobResult) {
	if j.Reply == nil {
		return
	}
	select {
	case j.Reply <- r:
	default:
	}
}
