// Package worker implements the fixed-size task execution pools.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harvestd/orchestrator/internal/metrics"
	"github.com/harvestd/orchestrator/internal/scrape"
)

// Config controls Pool behavior.
type Config struct {
	Kind             scrape.TaskKind
	Size             int
	ExecutionTimeout time.Duration
}

const (
	defaultPoolSize         = 4
	defaultExecutionTimeout = 5 * time.Minute

	// dequeueBackoff paces retries when the queue itself errors, so a
	// persistent fault does not spin the worker loop.
	dequeueBackoff = 250 * time.Millisecond
)

// Pool consumes tasks of one kind from one queue with a fixed set of
// concurrent workers. The pool size bounds in-flight executions and the
// execution timeout guarantees every task resolves to a TaskResult.
type Pool struct {
	queue    scrape.Queue
	executor scrape.Executor
	reporter scrape.Reporter
	cfg      Config
	logger   *zap.Logger
}

// NewPool constructs a Pool.
func NewPool(
	queue scrape.Queue,
	executor scrape.Executor,
	reporter scrape.Reporter,
	cfg Config,
	logger *zap.Logger,
) *Pool {
	metrics.Init()
	if cfg.Size <= 0 {
		cfg.Size = defaultPoolSize
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = defaultExecutionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		queue:    queue,
		executor: executor,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Size; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			p.runWorker(ctx, index)
		}(i)
	}
	<-ctx.Done()
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, index int) {
	logger := p.logger.With(zap.Int("index", index), zap.String("kind", string(p.cfg.Kind)))
	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		logger.Debug("dequeued task", zap.String("task_id", task.ID), zap.String("job_id", task.JobID))
		p.processTask(ctx, task)
	}
}

func (p *Pool) processTask(ctx context.Context, task scrape.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	execCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutionTimeout)
	defer cancel()

	result, err := p.executor.Execute(execCtx, task)
	if err != nil {
		p.logger.Error("task execution failed",
			zap.String("task_id", task.ID),
			zap.String("job_id", task.JobID),
			zap.Error(err),
		)
		result = scrape.FailedResult(err.Error())
	}
	switch result.Kind {
	case scrape.ResultCompleted, scrape.ResultFailed, scrape.ResultDeferred:
	default:
		result = scrape.FailedResult("executor returned unrecognized result kind")
	}

	p.reporter.Report(ctx, task.ID, result)
}
