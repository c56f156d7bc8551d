// Package memory provides the bounded in-memory task queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// Queue is a bounded FIFO queue with context-aware operations. Capacity
// is fixed at construction; an unbounded queue is deliberately not
// offered so scheduling storms cannot grow memory without limit.
type Queue struct {
	name    string
	ch      chan scrape.Task
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a named queue with the provided capacity.
func NewQueue(name string, capacity int) *Queue {
	return &Queue{
		name: name,
		ch:   make(chan scrape.Task, capacity),
	}
}

// Name returns the queue's configured name.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue appends a task at the tail or returns once the context ends.
func (q *Queue) Enqueue(ctx context.Context, task scrape.Task) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", q.name, ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scrape.Task, error) {
	select {
	case <-ctx.Done():
		return scrape.Task{}, fmt.Errorf("dequeue %s: %w", q.name, ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return scrape.Task{}, errors.New("queue closed")
		}
		return task, nil
	}
}

// Depth returns the number of outstanding entries.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
