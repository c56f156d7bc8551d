// Package collyexecutor implements the listing-page Executor using gocolly.
package collyexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

const defaultFetchTimeout = 15 * time.Second

// Executor fetches a listing page for a `general` task and runs the
// configured ContentMatcher over it. Matched item URLs come back as
// DetailURLs so the orchestrator can fan out per-item fetches.
type Executor struct {
	cfg           Config
	matcher       scrape.ContentMatcher
	baseCollector *colly.Collector
}

// New builds an Executor. The matcher may be nil, in which case the
// raw page is the whole result and no detail fan-out occurs.
func New(cfg Config, matcher scrape.ContentMatcher) *Executor {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	return &Executor{
		cfg:           cfg,
		matcher:       matcher,
		baseCollector: c,
	}
}

// Execute fetches task.URL and derives a TaskResult from the page.
// Fetch failures resolve to a Failed result with the reason preserved.
func (e *Executor) Execute(ctx context.Context, task scrape.Task) (scrape.TaskResult, error) {
	if task.URL == "" {
		return scrape.FailedResult("task has no url"), nil
	}

	body, err := e.fetch(ctx, task.URL)
	if err != nil {
		return scrape.FailedResult(err.Error()), nil
	}

	if e.matcher == nil {
		return scrape.CompletedResult(task.URL, body), nil
	}

	match, err := e.matcher.Match(ctx, body)
	if err != nil {
		return scrape.TaskResult{}, fmt.Errorf("match page content: %w", err)
	}
	if !match.Matched {
		// Nothing on the page; a normal completion with an empty set.
		return scrape.CompletedResult(task.URL, nil), nil
	}

	payload, err := json.Marshal(match)
	if err != nil {
		return scrape.TaskResult{}, fmt.Errorf("encode match result: %w", err)
	}
	result := scrape.CompletedResult(task.URL, payload)
	for _, item := range match.Items {
		result.DetailURLs = append(result.DetailURLs, item.URL)
	}
	return result, nil
}

func (e *Executor) fetch(ctx context.Context, url string) ([]byte, error) {
	collector := e.baseCollector.Clone()
	if e.cfg.UserAgent != "" {
		collector.UserAgent = e.cfg.UserAgent
	}
	timeout := e.cfg.Timeout
	if timeout == 0 {
		timeout = defaultFetchTimeout
	}
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("fetch %s: %w", url, err)
	})

	done := make(chan error, 1)
	go func() {
		err := collector.Visit(url)
		collector.Wait()
		done <- err
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w", url, ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", url, err)
		}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return body, nil
}
