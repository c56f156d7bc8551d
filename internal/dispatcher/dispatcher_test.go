// Package dispatcher contains tests for task routing.
package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	queueMemory "github.com/harvestd/orchestrator/internal/queue/memory"
	"github.com/harvestd/orchestrator/internal/scrape"
)

// TestDispatchUnregisteredKind verifies tasks without a bound queue fail
// with ErrQueueUnavailable.
func TestDispatchUnregisteredKind(t *testing.T) {
	t.Parallel()

	dispatch := New(time.Second, zap.NewNop())
	err := dispatch.Dispatch(context.Background(), scrape.Task{ID: "t1", Kind: scrape.KindGeneral})

	var dispatchErr *scrape.DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if !errors.Is(err, scrape.ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
	if dispatchErr.Kind != scrape.KindGeneral {
		t.Fatalf("expected kind general, got %s", dispatchErr.Kind)
	}
}

// TestDispatchFullQueue ensures a queue that stays full past the bounded
// wait yields ErrQueueFull rather than a silent drop.
func TestDispatchFullQueue(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue("general", 1)
	dispatch := New(20*time.Millisecond, zap.NewNop())
	dispatch.Register(scrape.KindGeneral, q)

	ctx := context.Background()
	if err := dispatch.Dispatch(ctx, scrape.Task{ID: "t1", Kind: scrape.KindGeneral}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	err := dispatch.Dispatch(ctx, scrape.Task{ID: "t2", Kind: scrape.KindGeneral})
	if !errors.Is(err, scrape.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

// TestDispatchParentCancellation distinguishes a cancelled caller from a
// full queue.
func TestDispatchParentCancellation(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue("general", 1)
	dispatch := New(time.Second, zap.NewNop())
	dispatch.Register(scrape.KindGeneral, q)

	ctx := context.Background()
	if err := dispatch.Dispatch(ctx, scrape.Task{ID: "t1", Kind: scrape.KindGeneral}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := dispatch.Dispatch(cancelCtx, scrape.Task{ID: "t2", Kind: scrape.KindGeneral})
	if err == nil {
		t.Fatal("expected error from cancelled dispatch")
	}
	if errors.Is(err, scrape.ErrQueueFull) {
		t.Fatalf("cancellation must not be reported as queue full: %v", err)
	}
}

// TestDispatchSetsQueueName verifies the dispatched task records its queue.
func TestDispatchSetsQueueName(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue("scrape_tasks_general", 1)
	dispatch := New(time.Second, zap.NewNop())
	dispatch.Register(scrape.KindGeneral, q)

	ctx := context.Background()
	if err := dispatch.Dispatch(ctx, scrape.Task{ID: "t1", Kind: scrape.KindGeneral}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if task.QueueName != "scrape_tasks_general" {
		t.Fatalf("expected queue name set, got %q", task.QueueName)
	}
}
