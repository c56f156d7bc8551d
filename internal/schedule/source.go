// Package schedule loads site schedules and fires their triggers.
package schedule

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// FileSource reads site schedules from a YAML file. The file is read
// on every call so edits take effect on the next listing.
type FileSource struct {
	path string
}

type scheduleFile struct {
	Sites []scrape.SiteSchedule `yaml:"sites"`
}

// NewFileSource creates a FileSource for the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// ListSchedules returns the schedules configured for one environment.
// Entries for other environments are filtered out; disabled entries are
// kept so callers can report them.
func (s *FileSource) ListSchedules(_ context.Context, env scrape.Environment) ([]scrape.SiteSchedule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read schedules file: %w", err)
	}

	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schedules file: %w", err)
	}

	var out []scrape.SiteSchedule
	for i, sched := range file.Sites {
		if err := validateSchedule(sched); err != nil {
			return nil, fmt.Errorf("schedule %d (%s): %w", i, sched.SiteID, err)
		}
		if sched.Environment != env {
			continue
		}
		out = append(out, sched)
	}
	return out, nil
}

func validateSchedule(sched scrape.SiteSchedule) error {
	if sched.SiteID == "" {
		return fmt.Errorf("site_id is required")
	}
	if sched.Trigger == "" {
		return fmt.Errorf("trigger is required")
	}
	if sched.WorkerKind != "" && !sched.WorkerKind.Valid() {
		return fmt.Errorf("unknown worker_kind %q", sched.WorkerKind)
	}
	if sched.Environment != scrape.EnvDev && sched.Environment != scrape.EnvProd {
		return fmt.Errorf("unknown environment %q", sched.Environment)
	}
	return nil
}
