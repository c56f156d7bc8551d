// Package watch implements the bounded wait for provider webhooks.
package watch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// Resolver receives the watcher's verdict for an awaited job.
type Resolver interface {
	ResolveWebhook(ctx context.Context, jobID string, outcome scrape.WebhookOutcome, payload []byte)
	ResolveTimeout(ctx context.Context, jobID string)
}

// Config controls the per-job wait window.
//   - RecheckInterval: cadence of provider status rechecks while waiting.
//   - Timeout: the webhook deadline relative to the start of the wait.
//
// When RecheckInterval divides Timeout exactly, the tick landing on the
// deadline belongs to the deadline: the wait runs one fewer recheck
// rather than probing at the instant it times out.
type Config struct {
	RecheckInterval time.Duration
	Timeout         time.Duration
}

// Watcher suspends one goroutine per awaited job until a webhook event
// arrives, a recheck resolves the run, or the deadline elapses. Waits
// are independent; cancelling one never disturbs another.
type Watcher struct {
	cfg      Config
	prober   scrape.StatusProber
	resolver Resolver
	logger   *zap.Logger

	mu    sync.Mutex
	waits map[string]*wait
}

type wait struct {
	events chan scrape.WebhookEvent
	cancel chan struct{}
	once   sync.Once
}

// New constructs a Watcher. The prober may be nil, in which case
// rechecks are skipped and only the webhook or the deadline resolves a
// wait.
func New(cfg Config, prober scrape.StatusProber, resolver Resolver, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cfg:      cfg,
		prober:   prober,
		resolver: resolver,
		logger:   logger,
	}
}

// Watch arms the bounded wait for a job in awaiting-webhook state.
// Re-arming an already-watched job is a no-op.
func (w *Watcher) Watch(ctx context.Context, jobID string) {
	w.mu.Lock()
	if w.waits == nil {
		w.waits = make(map[string]*wait)
	}
	if _, exists := w.waits[jobID]; exists {
		w.mu.Unlock()
		return
	}
	wt := &wait{
		events: make(chan scrape.WebhookEvent, 1),
		cancel: make(chan struct{}),
	}
	w.waits[jobID] = wt
	w.mu.Unlock()

	go w.run(ctx, jobID, wt)
}

// Deliver hands a webhook event to the matching wait. It reports false
// when no wait exists for the job or an event is already pending.
func (w *Watcher) Deliver(event scrape.WebhookEvent) bool {
	w.mu.Lock()
	wt := w.waits[event.JobID]
	w.mu.Unlock()
	if wt == nil {
		return false
	}
	select {
	case wt.events <- event:
		return true
	default:
		return false
	}
}

// Cancel releases the wait for one job without resolving it. Timers are
// stopped when the wait goroutine exits; nothing is left orphaned.
func (w *Watcher) Cancel(jobID string) {
	w.mu.Lock()
	wt := w.waits[jobID]
	w.mu.Unlock()
	if wt == nil {
		return
	}
	wt.once.Do(func() { close(wt.cancel) })
}

// Waiting returns the number of jobs currently awaited.
func (w *Watcher) Waiting() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waits)
}

func (w *Watcher) remove(jobID string) {
	w.mu.Lock()
	delete(w.waits, jobID)
	w.mu.Unlock()
}

func (w *Watcher) run(ctx context.Context, jobID string, wt *wait) {
	defer w.remove(jobID)

	start := time.Now()
	deadline := time.NewTimer(w.cfg.Timeout)
	defer deadline.Stop()

	var recheck <-chan time.Time
	if w.prober != nil && w.cfg.RecheckInterval > 0 {
		ticker := time.NewTicker(w.cfg.RecheckInterval)
		defer ticker.Stop()
		recheck = ticker.C
	}

	for {
		select {
		case evt := <-wt.events:
			w.resolver.ResolveWebhook(ctx, jobID, evt.Outcome, evt.Payload)
			return
		case <-recheck:
			// A tick at or past the deadline is the deadline's, not a
			// probe's; otherwise the final recheck count would depend on
			// which timer the runtime drains first.
			if time.Since(start) >= w.cfg.Timeout {
				w.resolveDeadline(ctx, jobID, wt)
				return
			}
			outcome, resolved, err := w.prober.Probe(ctx, jobID)
			if err != nil {
				w.logger.Warn("provider recheck failed", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			if resolved {
				w.logger.Info("recheck resolved job without webhook",
					zap.String("job_id", jobID),
					zap.String("outcome", string(outcome)),
				)
				w.resolver.ResolveWebhook(ctx, jobID, outcome, nil)
				return
			}
		case <-deadline.C:
			w.resolveDeadline(ctx, jobID, wt)
			return
		case <-wt.cancel:
			return
		case <-ctx.Done():
			return
		}
	}
}

// resolveDeadline closes out an expired wait. A webhook that raced the
// deadline wins over timeout.
func (w *Watcher) resolveDeadline(ctx context.Context, jobID string, wt *wait) {
	select {
	case evt := <-wt.events:
		w.resolver.ResolveWebhook(ctx, jobID, evt.Outcome, evt.Payload)
	default:
		w.resolver.ResolveTimeout(ctx, jobID)
	}
}
