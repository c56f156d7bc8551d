// Package worker contains tests for the fixed-size execution pools.
package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	queueMemory "github.com/harvestd/orchestrator/internal/queue/memory"
	"github.com/harvestd/orchestrator/internal/scrape"
)

type recordingReporter struct {
	mu      sync.Mutex
	results map[string]scrape.TaskResult
	seen    chan string
}

func newRecordingReporter(capacity int) *recordingReporter {
	return &recordingReporter{
		results: make(map[string]scrape.TaskResult),
		seen:    make(chan string, capacity),
	}
}

func (r *recordingReporter) Report(_ context.Context, taskID string, result scrape.TaskResult) {
	r.mu.Lock()
	r.results[taskID] = result
	r.mu.Unlock()
	r.seen <- taskID
}

func (r *recordingReporter) result(taskID string) (scrape.TaskResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[taskID]
	return res, ok
}

type funcExecutor struct {
	fn func(ctx context.Context, task scrape.Task) (scrape.TaskResult, error)
}

func (e *funcExecutor) Execute(ctx context.Context, task scrape.Task) (scrape.TaskResult, error) {
	return e.fn(ctx, task)
}

// TestPoolExecutesAndReports verifies the dequeue-execute-report loop.
func TestPoolExecutesAndReports(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue("general", 4)
	reporter := newRecordingReporter(4)
	exec := &funcExecutor{fn: func(_ context.Context, task scrape.Task) (scrape.TaskResult, error) {
		return scrape.CompletedResult("ref-"+task.ID, nil), nil
	}}
	pool := NewPool(q, exec, reporter, Config{Kind: scrape.KindGeneral, Size: 2}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	if err := q.Enqueue(ctx, scrape.Task{ID: "t1", Kind: scrape.KindGeneral}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-reporter.seen:
	case <-time.After(time.Second):
		t.Fatal("task was not reported")
	}
	result, ok := reporter.result("t1")
	if !ok || result.Kind != scrape.ResultCompleted || result.ResultRef != "ref-t1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

// TestPoolExecutorErrorBecomesFailedResult ensures executor errors reach
// the reporter as failed results with the reason preserved.
func TestPoolExecutorErrorBecomesFailedResult(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue("general", 1)
	reporter := newRecordingReporter(1)
	exec := &funcExecutor{fn: func(context.Context, scrape.Task) (scrape.TaskResult, error) {
		return scrape.TaskResult{}, errors.New("fetch exploded")
	}}
	pool := NewPool(q, exec, reporter, Config{Kind: scrape.KindGeneral, Size: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	if err := q.Enqueue(ctx, scrape.Task{ID: "t1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-reporter.seen:
	case <-time.After(time.Second):
		t.Fatal("task was not reported")
	}
	result, _ := reporter.result("t1")
	if result.Kind != scrape.ResultFailed || result.Reason != "fetch exploded" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

// TestPoolEnforcesExecutionTimeout ensures a hung executor resolves to a
// failed result once the per-task deadline elapses.
func TestPoolEnforcesExecutionTimeout(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue("general", 1)
	reporter := newRecordingReporter(1)
	exec := &funcExecutor{fn: func(ctx context.Context, _ scrape.Task) (scrape.TaskResult, error) {
		<-ctx.Done()
		return scrape.TaskResult{}, ctx.Err()
	}}
	pool := NewPool(q, exec, reporter, Config{
		Kind:             scrape.KindGeneral,
		Size:             1,
		ExecutionTimeout: 20 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	if err := q.Enqueue(ctx, scrape.Task{ID: "t1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-reporter.seen:
	case <-time.After(time.Second):
		t.Fatal("hung task never resolved")
	}
	result, _ := reporter.result("t1")
	if result.Kind != scrape.ResultFailed {
		t.Fatalf("expected failed result, got %+v", result)
	}
}

type faultyQueue struct {
	mu    sync.Mutex
	calls int
}

func (q *faultyQueue) Name() string { return "faulty" }

func (q *faultyQueue) Enqueue(context.Context, scrape.Task) error { return nil }

func (q *faultyQueue) Dequeue(context.Context) (scrape.Task, error) {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	return scrape.Task{}, errors.New("queue broken")
}

func (q *faultyQueue) Depth() int { return 0 }

// TestPoolBacksOffOnDequeueError verifies a persistently failing queue
// does not spin the worker loop.
func TestPoolBacksOffOnDequeueError(t *testing.T) {
	t.Parallel()

	q := &faultyQueue{}
	exec := &funcExecutor{fn: func(context.Context, scrape.Task) (scrape.TaskResult, error) {
		return scrape.CompletedResult("", nil), nil
	}}
	pool := NewPool(q, exec, newRecordingReporter(1), Config{Kind: scrape.KindGeneral, Size: 1}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	q.mu.Lock()
	calls := q.calls
	q.mu.Unlock()
	// One immediate attempt plus one per elapsed backoff interval.
	if calls > 4 {
		t.Fatalf("expected paced dequeue retries, got %d calls in 300ms", calls)
	}
	if calls == 0 {
		t.Fatal("expected the worker to attempt dequeues")
	}
}

// TestPoolBoundsConcurrency verifies the pool never runs more tasks at
// once than its size.
func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const size = 4
	q := queueMemory.NewQueue("general", 8)
	reporter := newRecordingReporter(8)

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	release := make(chan struct{})
	exec := &funcExecutor{fn: func(context.Context, scrape.Task) (scrape.TaskResult, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return scrape.CompletedResult("", nil), nil
	}}
	pool := NewPool(q, exec, reporter, Config{Kind: scrape.KindGeneral, Size: size}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	for i := 0; i < size+1; i++ {
		if err := q.Enqueue(ctx, scrape.Task{ID: string(rune('a' + i))}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// Let the pool absorb as many tasks as it can before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < size+1; i++ {
		select {
		case <-reporter.seen:
		case <-time.After(time.Second):
			t.Fatal("not all tasks were reported")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if maxSeen > size {
		t.Fatalf("expected at most %d concurrent tasks, saw %d", size, maxSeen)
	}
}
