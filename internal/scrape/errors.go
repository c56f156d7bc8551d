package scrape

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced at component boundaries.
var (
	// ErrQueueUnavailable means no worker pool owns the task's kind.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrQueueFull means the queue rejected work after the bounded wait.
	ErrQueueFull = errors.New("queue full")
	// ErrUnknownJob means the referenced job is not tracked.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobTerminal means the job already reached a terminal status.
	ErrJobTerminal = errors.New("job already terminal")
)

// DispatchError reports that a task could not be placed on its queue.
// Terminal for the job; the core does not retry dispatch.
type DispatchError struct {
	Kind TaskKind
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s task: %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
