// Package scrape defines core types shared across subsystems.
package scrape

import "time"

// Environment selects which deployment's schedules are orchestrated.
type Environment string

// Recognized deployment environments.
const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"
)

// TaskKind names the worker pool a task is routed to.
type TaskKind string

// Task kinds; each owns one queue and one worker pool.
const (
	KindGeneral    TaskKind = "general"
	KindJobDetails TaskKind = "job_details"
)

// Valid reports whether the kind maps to a known worker pool.
func (k TaskKind) Valid() bool {
	return k == KindGeneral || k == KindJobDetails
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values. Completed, timed_out and failed are terminal;
// timed_out signals an unverifiable outcome and is kept distinct from
// failed so downstream retry policy can tell them apart.
const (
	JobStatusPending         JobStatus = "pending"
	JobStatusDispatched      JobStatus = "dispatched"
	JobStatusAwaitingWebhook JobStatus = "awaiting_webhook"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusTimedOut        JobStatus = "timed_out"
	JobStatusFailed          JobStatus = "failed"
)

// Terminal reports whether no further transitions may occur.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusTimedOut, JobStatusFailed:
		return true
	default:
		return false
	}
}

// SiteSchedule describes one configured target site. Instances are
// supplied by a ScheduleSource and never mutated by the core.
type SiteSchedule struct {
	SiteID      string            `yaml:"site_id"`
	Trigger     string            `yaml:"trigger"`
	Environment Environment       `yaml:"environment"`
	Enabled     bool              `yaml:"enabled"`
	WorkerKind  TaskKind          `yaml:"worker_kind"`
	URL         string            `yaml:"url"`
	Params      map[string]string `yaml:"params"`
}

// ScrapeJob is the per-trigger record owned by the orchestrator.
// All field writes are serialized through the owning state machine.
type ScrapeJob struct {
	ID              string     `json:"id"`
	SiteID          string     `json:"site_id"`
	Status          JobStatus  `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DispatchedAt    *time.Time `json:"dispatched_at,omitempty"`
	WebhookDeadline *time.Time `json:"webhook_deadline,omitempty"`
	RecheckAt       *time.Time `json:"recheck_at,omitempty"`
	ResultRef       string     `json:"result_ref,omitempty"`
}

// Task is one unit of dispatched work belonging to a job.
type Task struct {
	ID        string            `json:"id"`
	JobID     string            `json:"job_id"`
	Kind      TaskKind          `json:"kind"`
	QueueName string            `json:"queue_name"`
	URL       string            `json:"url"`
	Payload   []byte            `json:"payload,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Attempt   int               `json:"attempt"`
	Submitted int64             `json:"submitted"`
}

// TaskResultKind discriminates the TaskResult variants.
type TaskResultKind string

// Task result variants. Deferred means completion arrives later via an
// out-of-band webhook instead of from the worker.
const (
	ResultCompleted TaskResultKind = "completed"
	ResultFailed    TaskResultKind = "failed"
	ResultDeferred  TaskResultKind = "deferred"
)

// TaskResult is the terminal outcome a worker reports for one task.
type TaskResult struct {
	Kind       TaskResultKind
	ResultRef  string
	Payload    []byte
	DetailURLs []string
	Reason     string
}

// CompletedResult builds a Completed TaskResult.
func CompletedResult(resultRef string, payload []byte) TaskResult {
	return TaskResult{Kind: ResultCompleted, ResultRef: resultRef, Payload: payload}
}

// FailedResult builds a Failed TaskResult preserving the reason verbatim.
func FailedResult(reason string) TaskResult {
	return TaskResult{Kind: ResultFailed, Reason: reason}
}

// DeferredResult builds a Deferred TaskResult.
func DeferredResult() TaskResult {
	return TaskResult{Kind: ResultDeferred}
}

// WebhookOutcome is the provider-reported outcome carried by a webhook.
type WebhookOutcome string

// Webhook outcomes.
const (
	OutcomeSuccess WebhookOutcome = "success"
	OutcomeFailure WebhookOutcome = "failure"
)

// WebhookEvent is the asynchronous provider callback for a deferred job.
// Ephemeral: consumed by the completion watcher, never persisted here.
type WebhookEvent struct {
	JobID      string         `json:"job_id"`
	Outcome    WebhookOutcome `json:"outcome"`
	Payload    []byte         `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// MatchedItem is one item a ContentMatcher extracted from a page.
type MatchedItem struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// MatchResult is the outcome of a ContentMatcher pass. Matched is false
// when the page yielded nothing; that is a normal result, not an error.
type MatchResult struct {
	Matched bool          `json:"matched"`
	Items   []MatchedItem `json:"items,omitempty"`
}
