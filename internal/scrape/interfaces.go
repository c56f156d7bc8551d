package scrape

import (
	"context"
	"time"
)

// Queue provides FIFO enqueue/dequeue semantics for one task kind.
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
	Depth() int
}

// ScheduleSource supplies the configured site schedules per environment.
// Read-only to the core; reload cadence is the collaborator's concern.
type ScheduleSource interface {
	ListSchedules(ctx context.Context, env Environment) ([]SiteSchedule, error)
}

// ResultSink durably stores the final record of a terminal job.
type ResultSink interface {
	RecordResult(ctx context.Context, jobID string, status JobStatus, resultRef string) error
}

// Executor runs one task to a terminal TaskResult. Implementations must
// be idempotent with respect to task ID and must resolve within the
// context deadline the worker pool enforces.
type Executor interface {
	Execute(ctx context.Context, task Task) (TaskResult, error)
}

// Reporter receives terminal per-task results from worker pools.
// Repeated reports for an already-finalized job are accepted and ignored.
type Reporter interface {
	Report(ctx context.Context, taskID string, result TaskResult)
}

// StatusProber re-polls the scraping provider for a deferred job while a
// webhook is awaited. resolved is false when the run is still pending.
type StatusProber interface {
	Probe(ctx context.Context, jobID string) (outcome WebhookOutcome, resolved bool, err error)
}

// Publisher pushes terminal-job and observability events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ContentMatcher extracts items of interest from a fetched page. A result
// with Matched == false means the page held nothing; implementations
// must not signal "no match" through an error.
type ContentMatcher interface {
	Match(ctx context.Context, page []byte) (MatchResult, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
