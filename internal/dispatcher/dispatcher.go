// Package dispatcher routes tasks onto the per-kind worker pool queues.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harvestd/orchestrator/internal/scrape"
)

const defaultEnqueueWait = 5 * time.Second

// Dispatcher places tasks at the tail of the queue owned by the task's
// kind. Enqueue waits are bounded; a queue that stays full past the wait
// yields a DispatchError, never a silent drop.
type Dispatcher struct {
	mu     sync.RWMutex
	queues map[scrape.TaskKind]scrape.Queue
	wait   time.Duration
	logger *zap.Logger
}

// New creates a Dispatcher with the given bounded enqueue wait.
func New(wait time.Duration, logger *zap.Logger) *Dispatcher {
	if wait <= 0 {
		wait = defaultEnqueueWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queues: make(map[scrape.TaskKind]scrape.Queue),
		wait:   wait,
		logger: logger,
	}
}

// Register binds a queue to a task kind. Tasks of an unregistered kind
// fail with ErrQueueUnavailable.
func (d *Dispatcher) Register(kind scrape.TaskKind, q scrape.Queue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues[kind] = q
}

// Dispatch enqueues the task onto its kind's queue, FIFO at the tail.
func (d *Dispatcher) Dispatch(ctx context.Context, task scrape.Task) error {
	d.mu.RLock()
	q := d.queues[task.Kind]
	d.mu.RUnlock()
	if q == nil {
		return &scrape.DispatchError{Kind: task.Kind, Err: scrape.ErrQueueUnavailable}
	}

	task.QueueName = q.Name()

	enqCtx, cancel := context.WithTimeout(ctx, d.wait)
	defer cancel()
	if err := q.Enqueue(enqCtx, task); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			d.logger.Warn("queue full after bounded wait",
				zap.String("queue", q.Name()),
				zap.String("task_id", task.ID),
			)
			return &scrape.DispatchError{Kind: task.Kind, Err: scrape.ErrQueueFull}
		}
		return &scrape.DispatchError{Kind: task.Kind, Err: err}
	}
	d.logger.Debug("task enqueued",
		zap.String("queue", q.Name()),
		zap.String("task_id", task.ID),
		zap.String("job_id", task.JobID),
	)
	return nil
}
