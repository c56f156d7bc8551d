// Package providerexecutor defers job_details tasks to the scraping provider.
package providerexecutor

import (
	"context"
	"fmt"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// RunStarter starts a provider run for a job.
type RunStarter interface {
	StartRun(ctx context.Context, jobID, url string, params map[string]string) error
}

// Executor hands detail-fetch tasks to the provider and defers the
// job's completion to the provider webhook.
type Executor struct {
	starter RunStarter
}

// New builds an Executor around a provider client.
func New(starter RunStarter) *Executor {
	return &Executor{starter: starter}
}

// Execute starts the provider run for the task's job. A successful
// start returns Deferred; the outcome arrives later via the webhook.
func (e *Executor) Execute(ctx context.Context, task scrape.Task) (scrape.TaskResult, error) {
	if e.starter == nil {
		return scrape.TaskResult{}, fmt.Errorf("no provider client configured")
	}
	if err := e.starter.StartRun(ctx, task.JobID, task.URL, task.Params); err != nil {
		return scrape.FailedResult(fmt.Sprintf("start provider run: %v", err)), nil
	}
	return scrape.DeferredResult(), nil
}
