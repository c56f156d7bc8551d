// Package schedule contains tests for schedule loading and triggering.
package schedule

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/harvestd/orchestrator/internal/scrape"
)

const sampleSchedules = `
sites:
  - site_id: acme-careers
    trigger: "30m"
    environment: prod
    enabled: true
    worker_kind: general
    url: https://acme.example/careers
    params:
      region: us
  - site_id: acme-careers-dev
    trigger: "@hourly"
    environment: dev
    enabled: true
    worker_kind: general
    url: https://staging.acme.example/careers
  - site_id: globex-details
    trigger: "0 6 * * *"
    environment: prod
    enabled: false
    worker_kind: job_details
    url: https://globex.example/jobs
`

func writeSchedules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write schedules: %v", err)
	}
	return path
}

// TestFileSourceFiltersEnvironment verifies only the requested
// environment's schedules are returned, disabled ones included.
func TestFileSourceFiltersEnvironment(t *testing.T) {
	t.Parallel()

	source := NewFileSource(writeSchedules(t, sampleSchedules))
	schedules, err := source.ListSchedules(context.Background(), scrape.EnvProd)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("expected 2 prod schedules, got %d", len(schedules))
	}
	if schedules[0].SiteID != "acme-careers" || schedules[0].Params["region"] != "us" {
		t.Fatalf("unexpected first schedule: %+v", schedules[0])
	}
	if schedules[1].SiteID != "globex-details" || schedules[1].Enabled {
		t.Fatalf("expected disabled globex-details, got %+v", schedules[1])
	}
}

// TestFileSourceRejectsInvalidEntries verifies malformed entries fail
// the whole listing.
func TestFileSourceRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing site_id": `
sites:
  - trigger: "30m"
    environment: prod
`,
		"missing trigger": `
sites:
  - site_id: acme
    environment: prod
`,
		"bad worker_kind": `
sites:
  - site_id: acme
    trigger: "30m"
    environment: prod
    worker_kind: mystery
`,
		"bad environment": `
sites:
  - site_id: acme
    trigger: "30m"
    environment: staging
`,
	}
	for name, content := range cases {
		source := NewFileSource(writeSchedules(t, content))
		if _, err := source.ListSchedules(context.Background(), scrape.EnvProd); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// TestParseTrigger covers durations, cron expressions, and rejects.
func TestParseTrigger(t *testing.T) {
	t.Parallel()

	for _, trigger := range []string{"30m", "6h30m", "@hourly", "@every 2h", "0 6 * * *"} {
		if _, err := ParseTrigger(trigger); err != nil {
			t.Errorf("trigger %q: unexpected error %v", trigger, err)
		}
	}
	for _, trigger := range []string{"", "-5m", "whenever", "* * *"} {
		if _, err := ParseTrigger(trigger); err == nil {
			t.Errorf("trigger %q: expected error", trigger)
		}
	}
}

type recordingTriggerer struct {
	mu    sync.Mutex
	calls []scrape.SiteSchedule
	fired chan struct{}
}

func (r *recordingTriggerer) Trigger(_ context.Context, sched scrape.SiteSchedule) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, sched)
	r.mu.Unlock()
	if r.fired != nil {
		select {
		case r.fired <- struct{}{}:
		default:
		}
	}
	return "job-1", nil
}

// TestRunnerFiresEnabledSchedules verifies the runner triggers on
// cadence and skips disabled entries.
func TestRunnerFiresEnabledSchedules(t *testing.T) {
	t.Parallel()

	path := writeSchedules(t, `
sites:
  - site_id: fast-site
    trigger: "10ms"
    environment: dev
    enabled: true
    worker_kind: general
    url: https://fast.example
  - site_id: disabled-site
    trigger: "10ms"
    environment: dev
    enabled: false
    worker_kind: general
    url: https://disabled.example
`)
	triggerer := &recordingTriggerer{fired: make(chan struct{}, 1)}
	runner := NewRunner(NewFileSource(path), triggerer, scrape.EnvDev, zap.NewNop())

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start runner: %v", err)
	}
	defer runner.Stop()

	select {
	case <-triggerer.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("schedule never fired")
	}

	triggerer.mu.Lock()
	defer triggerer.mu.Unlock()
	for _, call := range triggerer.calls {
		if call.SiteID != "fast-site" {
			t.Fatalf("disabled schedule fired: %+v", call)
		}
	}
}

// TestRunnerRejectsBadTrigger verifies startup fails fast on an
// unparseable enabled trigger.
func TestRunnerRejectsBadTrigger(t *testing.T) {
	t.Parallel()

	path := writeSchedules(t, `
sites:
  - site_id: broken
    trigger: "whenever"
    environment: dev
    enabled: true
    worker_kind: general
`)
	runner := NewRunner(NewFileSource(path), &recordingTriggerer{}, scrape.EnvDev, zap.NewNop())
	if err := runner.Start(context.Background()); err == nil {
		runner.Stop()
		t.Fatal("expected start to fail on bad trigger")
	}
}

// TestFireNow verifies manual triggering honors the enabled flag.
func TestFireNow(t *testing.T) {
	t.Parallel()

	triggerer := &recordingTriggerer{}
	runner := NewRunner(nil, triggerer, scrape.EnvDev, zap.NewNop())

	jobID, err := runner.FireNow(context.Background(), scrape.SiteSchedule{SiteID: "acme", Enabled: true})
	if err != nil || jobID != "job-1" {
		t.Fatalf("expected fire to succeed, got %q %v", jobID, err)
	}
	if _, err := runner.FireNow(context.Background(), scrape.SiteSchedule{SiteID: "acme"}); err == nil {
		t.Fatal("expected disabled schedule to be refused")
	}
}
