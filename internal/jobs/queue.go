package jobs

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// Job is one submitted unit of background work sitting in the queue.
// Run performs the actual dispatch (through the orchestrator) once a
// worker pulls the job off the queue; the queue itself never inspects
// plugin/handler identity beyond what Broker needs for permission and
// quota accounting.
type Job struct {
	ID          string
	PluginID    string
	HandlerName string
	Priority    int
	CreatedAt   time.Time
	Run         func(ctx context.Context) (*execreq.RunResult, error)
}

// memoryQueue is a priority queue ordered highest-priority-first, FIFO
// among equal priorities. Grounded on the inferred contract of the
// teacher's own (test-only, unshipped) internal/controller/queue
// package: Enqueue/Dequeue/Len/Close over a *Job, dequeuing in
// descending priority order.
type memoryQueue struct {
	mu     sync.Mutex
	items  jobHeap
	notify chan struct{}
	closed bool
}

// NewMemoryQueue builds an empty in-memory priority queue.
func NewMemoryQueue() *memoryQueue {
	return &memoryQueue{notify: make(chan struct{}, 1)}
}

// Enqueue adds job to the queue, waking one blocked Dequeue call.
func (q *memoryQueue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	heap.Push(&q.items, job)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the highest-priority job, blocking until
// one is available, ctx is done, or the queue is closed.
func (q *memoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			job := heap.Pop(&q.items).(*Job)
			q.mu.Unlock()
			return job, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len reports the current queue depth.
func (q *memoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close marks the queue closed; pending Dequeue calls return
// ErrQueueClosed once drained.
func (q *memoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
