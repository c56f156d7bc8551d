// Package memory provides an in-memory result sink for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// Record is one terminal job record.
type Record struct {
	JobID      string
	Status     scrape.JobStatus
	ResultRef  string
	RecordedAt time.Time
}

// Sink stores terminal job records for inspection.
type Sink struct {
	mu      sync.RWMutex
	records []Record
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// RecordResult appends the terminal record.
func (s *Sink) RecordResult(_ context.Context, jobID string, status scrape.JobStatus, resultRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{
		JobID:      jobID,
		Status:     status,
		ResultRef:  resultRef,
		RecordedAt: time.Now().UTC(),
	})
	return nil
}

// Records returns a copy of everything recorded so far.
func (s *Sink) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ByJob returns the records written for one job.
func (s *Sink) ByJob(jobID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out
}
