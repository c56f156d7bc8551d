package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// Triggerer starts a scrape job for one schedule.
type Triggerer interface {
	Trigger(ctx context.Context, sched scrape.SiteSchedule) (string, error)
}

// Runner registers each enabled schedule with a cron scheduler and
// fires the Triggerer on its cadence.
type Runner struct {
	source    scrape.ScheduleSource
	triggerer Triggerer
	env       scrape.Environment
	logger    *zap.Logger
	cron      *cron.Cron
}

// NewRunner creates a Runner for one environment.
func NewRunner(source scrape.ScheduleSource, triggerer Triggerer, env scrape.Environment, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		source:    source,
		triggerer: triggerer,
		env:       env,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start loads the environment's schedules and begins firing them. It
// returns an error if any enabled trigger fails to parse; nothing runs
// until every trigger is valid.
func (r *Runner) Start(ctx context.Context) error {
	schedules, err := r.source.ListSchedules(ctx, r.env)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	registered := 0
	for _, sched := range schedules {
		if !sched.Enabled {
			r.logger.Info("schedule disabled, skipping", zap.String("site_id", sched.SiteID))
			continue
		}
		spec, err := ParseTrigger(sched.Trigger)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", sched.SiteID, err)
		}
		sched := sched
		r.cron.Schedule(spec, cron.FuncJob(func() {
			r.fire(ctx, sched)
		}))
		registered++
	}

	r.cron.Start()
	r.logger.Info("schedule runner started",
		zap.String("environment", string(r.env)),
		zap.Int("schedules", registered),
	)
	return nil
}

// Stop halts the scheduler and waits for in-flight trigger callbacks.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// FireNow triggers a schedule immediately, outside its cadence.
func (r *Runner) FireNow(ctx context.Context, sched scrape.SiteSchedule) (string, error) {
	if !sched.Enabled {
		return "", fmt.Errorf("schedule %s is disabled", sched.SiteID)
	}
	return r.triggerer.Trigger(ctx, sched)
}

func (r *Runner) fire(ctx context.Context, sched scrape.SiteSchedule) {
	jobID, err := r.triggerer.Trigger(ctx, sched)
	if err != nil {
		r.logger.Error("scheduled trigger failed",
			zap.String("site_id", sched.SiteID),
			zap.Error(err),
		)
		return
	}
	r.logger.Info("scheduled trigger fired",
		zap.String("site_id", sched.SiteID),
		zap.String("job_id", jobID),
	)
}

// ParseTrigger accepts either a Go duration ("6h30m") or a standard
// five-field cron expression, including descriptors like "@hourly".
func ParseTrigger(trigger string) (cron.Schedule, error) {
	if d, err := time.ParseDuration(trigger); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("trigger interval must be positive, got %q", trigger)
		}
		return cron.Every(d), nil
	}
	spec, err := cron.ParseStandard(trigger)
	if err != nil {
		return nil, fmt.Errorf("parse trigger %q: %w", trigger, err)
	}
	return spec, nil
}
