// Package orchestrator owns the per-job scrape lifecycle state machine.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harvestd/orchestrator/internal/dispatcher"
	"github.com/harvestd/orchestrator/internal/metrics"
	"github.com/harvestd/orchestrator/internal/scrape"
	"github.com/harvestd/orchestrator/internal/watch"
)

// Config controls orchestration behavior.
//   - WebhookRecheckInterval / WebhookTimeout: the bounded wait window
//     armed when a worker defers to a provider webhook.
//   - SinkRetryMax / SinkRetryBackoff: bounded retry of result records.
//   - EventTopic: topic terminal-job and observability events publish to.
//   - JobRetention: how long a finalized job stays queryable before its
//     record is evicted; late webhooks inside the window are rejected as
//     terminal, after it as unknown. Negative disables eviction.
//   - BaseContext: parent context for watcher waits and sink writes
//     (defaults to context.Background()).
type Config struct {
	WebhookRecheckInterval time.Duration
	WebhookTimeout         time.Duration
	SinkRetryMax           int
	SinkRetryBackoff       time.Duration
	EventTopic             string
	JobRetention           time.Duration
	BaseContext            context.Context
}

const (
	defaultRecheckInterval = 23 * time.Hour
	defaultWebhookTimeout  = 24 * time.Hour
	defaultSinkRetryMax    = 3
	defaultSinkBackoff     = 250 * time.Millisecond
	defaultEventTopic      = "scrape-jobs"
	defaultJobRetention    = 24 * time.Hour
)

// Orchestrator tracks every scrape job from trigger to terminal outcome.
// Transitions are job-scoped: each job record has its own mutex and a
// single writer, so no global lock covers job state.
type Orchestrator struct {
	dispatch  *dispatcher.Dispatcher
	watcher   *watch.Watcher
	sink      scrape.ResultSink
	publisher scrape.Publisher
	clock     scrape.Clock
	idGen     scrape.IDGenerator
	cfg       Config
	logger    *zap.Logger

	mu    sync.RWMutex
	jobs  map[string]*jobState
	tasks map[string]string
}

type jobState struct {
	mu          sync.Mutex
	job         scrape.ScrapeJob
	outstanding int
	resultRef   string
	awaiting    bool

	// pending holds a webhook that arrived before the worker's deferred
	// report armed the wait; armWatcherLocked replays it.
	pending *scrape.WebhookEvent

	// taskIDs is guarded by the orchestrator's mu, not this one.
	taskIDs []string
}

// New constructs an Orchestrator and its completion watcher. The prober
// may be nil to disable rechecks; the publisher may be nil to disable
// event publishing.
func New(
	dispatch *dispatcher.Dispatcher,
	sink scrape.ResultSink,
	publisher scrape.Publisher,
	prober scrape.StatusProber,
	clock scrape.Clock,
	idGen scrape.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	metrics.Init()
	if cfg.WebhookRecheckInterval <= 0 {
		cfg.WebhookRecheckInterval = defaultRecheckInterval
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = defaultWebhookTimeout
	}
	if cfg.SinkRetryMax < 0 {
		cfg.SinkRetryMax = defaultSinkRetryMax
	}
	if cfg.SinkRetryBackoff <= 0 {
		cfg.SinkRetryBackoff = defaultSinkBackoff
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = defaultEventTopic
	}
	if cfg.JobRetention == 0 {
		cfg.JobRetention = defaultJobRetention
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		dispatch:  dispatch,
		sink:      sink,
		publisher: publisher,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
		jobs:      make(map[string]*jobState),
		tasks:     make(map[string]string),
	}
	o.watcher = watch.New(watch.Config{
		RecheckInterval: cfg.WebhookRecheckInterval,
		Timeout:         cfg.WebhookTimeout,
	}, prober, o, logger.Named("watch"))
	return o
}

// Trigger creates a job for the schedule and dispatches its initial
// task. A dispatch failure finalizes the job as failed; the dispatch
// error is returned to the caller either way.
func (o *Orchestrator) Trigger(ctx context.Context, sched scrape.SiteSchedule) (string, error) {
	jobID, err := o.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := o.clock.Now()

	st := &jobState{
		job: scrape.ScrapeJob{
			ID:        jobID,
			SiteID:    sched.SiteID,
			Status:    scrape.JobStatusPending,
			CreatedAt: now,
		},
		outstanding: 1,
	}
	o.mu.Lock()
	o.jobs[jobID] = st
	o.mu.Unlock()

	kind := sched.WorkerKind
	if !kind.Valid() {
		kind = scrape.KindGeneral
	}
	task, err := o.newTask(jobID, kind, sched.URL, sched.Params, now)
	if err != nil {
		st.mu.Lock()
		o.finalizeLocked(st, scrape.JobStatusFailed, err.Error(), "")
		st.mu.Unlock()
		return jobID, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := o.dispatch.Dispatch(ctx, task); err != nil {
		o.finalizeLocked(st, scrape.JobStatusFailed, err.Error(), "")
		return jobID, err
	}
	st.job.Status = scrape.JobStatusDispatched
	st.job.DispatchedAt = &now
	metrics.ObserveDispatch(string(kind))
	o.logger.Info("job dispatched",
		zap.String("job_id", jobID),
		zap.String("site_id", sched.SiteID),
		zap.String("kind", string(kind)),
	)
	return jobID, nil
}

// Report receives a terminal per-task result from a worker pool.
// Reports for unknown tasks or already-terminal jobs are no-ops.
func (o *Orchestrator) Report(ctx context.Context, taskID string, result scrape.TaskResult) {
	o.mu.RLock()
	jobID, ok := o.tasks[taskID]
	var st *jobState
	if ok {
		st = o.jobs[jobID]
	}
	o.mu.RUnlock()
	if st == nil {
		o.logger.Warn("report for unknown task", zap.String("task_id", taskID))
		metrics.ObserveDuplicateReport()
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.job.Status.Terminal() {
		metrics.ObserveDuplicateReport()
		o.logger.Debug("duplicate report ignored",
			zap.String("task_id", taskID),
			zap.String("job_id", st.job.ID),
		)
		return
	}

	switch result.Kind {
	case scrape.ResultFailed:
		o.finalizeLocked(st, scrape.JobStatusFailed, result.Reason, "")
	case scrape.ResultDeferred:
		o.armWatcherLocked(st)
	case scrape.ResultCompleted:
		o.completeTaskLocked(ctx, st, result)
	}
}

// completeTaskLocked absorbs one completed task. A listing payload that
// names detail URLs fans out job_details tasks under the same job; the
// job completes once no tasks remain outstanding.
func (o *Orchestrator) completeTaskLocked(ctx context.Context, st *jobState, result scrape.TaskResult) {
	st.outstanding--
	if result.ResultRef != "" {
		st.resultRef = result.ResultRef
	}

	for _, url := range result.DetailURLs {
		task, err := o.newTask(st.job.ID, scrape.KindJobDetails, url, nil, o.clock.Now())
		if err != nil {
			o.finalizeLocked(st, scrape.JobStatusFailed, err.Error(), "")
			return
		}
		if err := o.dispatch.Dispatch(ctx, task); err != nil {
			o.finalizeLocked(st, scrape.JobStatusFailed, err.Error(), "")
			return
		}
		st.outstanding++
		metrics.ObserveDispatch(string(scrape.KindJobDetails))
	}

	if st.outstanding <= 0 {
		o.finalizeLocked(st, scrape.JobStatusCompleted, "", st.resultRef)
	}
}

// armWatcherLocked moves the job into awaiting-webhook and starts its
// bounded wait.
func (o *Orchestrator) armWatcherLocked(st *jobState) {
	now := o.clock.Now()
	deadline := now.Add(o.cfg.WebhookTimeout)
	recheckAt := now.Add(o.cfg.WebhookRecheckInterval)
	if recheckAt.After(deadline) {
		recheckAt = deadline
	}
	st.job.Status = scrape.JobStatusAwaitingWebhook
	st.job.WebhookDeadline = &deadline
	st.job.RecheckAt = &recheckAt
	st.awaiting = true
	metrics.IncAwaitingWebhook()
	o.watcher.Watch(o.cfg.BaseContext, st.job.ID)
	if st.pending != nil {
		evt := *st.pending
		st.pending = nil
		o.watcher.Deliver(evt)
	}
	o.logger.Info("job awaiting webhook",
		zap.String("job_id", st.job.ID),
		zap.Time("deadline", deadline),
		zap.Time("recheck_at", recheckAt),
	)
}

// IngestWebhook routes a provider callback to the matching wait.
// Events for unknown or already-terminal jobs are rejected.
func (o *Orchestrator) IngestWebhook(_ context.Context, event scrape.WebhookEvent) error {
	o.mu.RLock()
	st := o.jobs[event.JobID]
	o.mu.RUnlock()
	if st == nil {
		metrics.ObserveWebhookEvent("unknown")
		o.logger.Warn("webhook for unknown job", zap.String("job_id", event.JobID))
		return scrape.ErrUnknownJob
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.job.Status.Terminal() {
		metrics.ObserveWebhookEvent("duplicate")
		o.logger.Info("late webhook discarded",
			zap.String("job_id", event.JobID),
			zap.String("outcome", string(event.Outcome)),
		)
		return scrape.ErrJobTerminal
	}

	if o.watcher.Deliver(event) {
		metrics.ObserveWebhookEvent("matched")
		return nil
	}

	// The provider can call back before the worker's deferred report
	// lands. Hold the event; armWatcherLocked replays it once the wait
	// exists. A second early event overwrites the first.
	st.pending = &event
	metrics.ObserveWebhookEvent("buffered")
	o.logger.Info("webhook buffered until wait is armed",
		zap.String("job_id", event.JobID),
		zap.String("outcome", string(event.Outcome)),
	)
	return nil
}

// Cancel transitions a non-terminal job to failed and releases its
// dispatcher and watcher resources.
func (o *Orchestrator) Cancel(_ context.Context, jobID string) error {
	o.mu.RLock()
	st := o.jobs[jobID]
	o.mu.RUnlock()
	if st == nil {
		return scrape.ErrUnknownJob
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.job.Status.Terminal() {
		return scrape.ErrJobTerminal
	}
	o.watcher.Cancel(jobID)
	o.finalizeLocked(st, scrape.JobStatusFailed, "cancelled", "")
	return nil
}

// Job returns a snapshot of a tracked job.
func (o *Orchestrator) Job(jobID string) (scrape.ScrapeJob, error) {
	o.mu.RLock()
	st := o.jobs[jobID]
	o.mu.RUnlock()
	if st == nil {
		return scrape.ScrapeJob{}, scrape.ErrUnknownJob
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.job, nil
}

// ResolveWebhook is the watcher callback for a webhook or a definitive
// recheck probe.
func (o *Orchestrator) ResolveWebhook(_ context.Context, jobID string, outcome scrape.WebhookOutcome, payload []byte) {
	o.mu.RLock()
	st := o.jobs[jobID]
	o.mu.RUnlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.job.Status.Terminal() {
		return
	}
	if outcome == scrape.OutcomeSuccess {
		ref := resultRefFromPayload(payload)
		if ref == "" {
			ref = st.resultRef
		}
		o.finalizeLocked(st, scrape.JobStatusCompleted, "", ref)
		return
	}
	o.finalizeLocked(st, scrape.JobStatusFailed, "provider reported failure", "")
}

// ResolveTimeout is the watcher callback for an elapsed deadline.
func (o *Orchestrator) ResolveTimeout(_ context.Context, jobID string) {
	o.mu.RLock()
	st := o.jobs[jobID]
	o.mu.RUnlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.job.Status.Terminal() {
		return
	}
	o.finalizeLocked(st, scrape.JobStatusTimedOut, "webhook deadline elapsed", "")
}

// finalizeLocked applies the terminal status exactly once and records
// it downstream. The caller holds st.mu and has verified the job is not
// already terminal.
func (o *Orchestrator) finalizeLocked(st *jobState, status scrape.JobStatus, reason, resultRef string) {
	st.job.Status = status
	st.job.Reason = reason
	st.job.ResultRef = resultRef
	if st.awaiting {
		st.awaiting = false
		metrics.DecAwaitingWebhook()
	}
	metrics.ObserveJob(string(status))
	o.logger.Info("job finalized",
		zap.String("job_id", st.job.ID),
		zap.String("site_id", st.job.SiteID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)

	o.releaseTasks(st)
	if o.cfg.JobRetention > 0 {
		jobID := st.job.ID
		time.AfterFunc(o.cfg.JobRetention, func() { o.evictJob(jobID) })
	}

	o.recordResult(st.job.ID, status, resultRef)
	o.publishEvent(map[string]any{
		"type":       "job_finalized",
		"job_id":     st.job.ID,
		"site_id":    st.job.SiteID,
		"status":     string(status),
		"result_ref": resultRef,
		"reason":     reason,
	})
}

// recordResult writes the terminal record with bounded retry and
// backoff. Exhausted retries surface an observability event; the job's
// terminal state is never reverted.
func (o *Orchestrator) recordResult(jobID string, status scrape.JobStatus, resultRef string) {
	ctx := o.cfg.BaseContext
	backoff := o.cfg.SinkRetryBackoff
	var err error
	for attempt := 0; attempt <= o.cfg.SinkRetryMax; attempt++ {
		if attempt > 0 {
			metrics.ObserveSinkRetry()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
			backoff *= 2
		}
		if err = o.sink.RecordResult(ctx, jobID, status, resultRef); err == nil {
			return
		}
		o.logger.Warn("sink write failed",
			zap.String("job_id", jobID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	metrics.ObserveSinkFailure()
	o.logger.Error("sink write abandoned after retries",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Error(err),
	)
	o.publishEvent(map[string]any{
		"type":   "sink_write_failed",
		"job_id": jobID,
		"status": string(status),
		"error":  err.Error(),
	})
}

func (o *Orchestrator) publishEvent(payload map[string]any) {
	if o.publisher == nil {
		return
	}
	if _, err := o.publisher.Publish(o.cfg.BaseContext, o.cfg.EventTopic, payload); err != nil {
		o.logger.Warn("event publish failed", zap.Error(err))
	}
}

func (o *Orchestrator) newTask(
	jobID string,
	kind scrape.TaskKind,
	url string,
	params map[string]string,
	now time.Time,
) (scrape.Task, error) {
	taskID, err := o.idGen.NewID()
	if err != nil {
		return scrape.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	o.mu.Lock()
	o.tasks[taskID] = jobID
	if st := o.jobs[jobID]; st != nil {
		st.taskIDs = append(st.taskIDs, taskID)
	}
	o.mu.Unlock()
	return scrape.Task{
		ID:        taskID,
		JobID:     jobID,
		Kind:      kind,
		URL:       url,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}, nil
}

// releaseTasks drops the finalized job's task index entries; later
// reports for those tasks count as unknown and are ignored.
func (o *Orchestrator) releaseTasks(st *jobState) {
	o.mu.Lock()
	for _, taskID := range st.taskIDs {
		delete(o.tasks, taskID)
	}
	st.taskIDs = nil
	o.mu.Unlock()
}

// evictJob archives a finalized job out of memory once its retention
// window has elapsed.
func (o *Orchestrator) evictJob(jobID string) {
	o.mu.Lock()
	delete(o.jobs, jobID)
	o.mu.Unlock()
	o.logger.Debug("finalized job evicted", zap.String("job_id", jobID))
}

func resultRefFromPayload(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	var body struct {
		ResultRef string `json:"result_ref"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.ResultRef
}
