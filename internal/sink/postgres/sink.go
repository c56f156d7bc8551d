// Package postgres provides the Postgres-backed result sink.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harvestd/orchestrator/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SinkConfig controls the Postgres connection pool used for job records.
type SinkConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes terminal job records into Postgres.
type Sink struct {
	pool  execCloser
	table string
}

// NewSink creates a Postgres-backed Sink using the provided config.
func NewSink(ctx context.Context, cfg SinkConfig) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scrape_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Sink{pool: pool, table: table}, nil
}

// NewSinkWithPool constructs a Sink from an existing pool (primarily for testing).
func NewSinkWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scrape_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{pool: pool, table: table}, nil
}

// RecordResult upserts the terminal record for a job. The primary key
// on job_id keeps the table exactly-once even under a retried write.
func (s *Sink) RecordResult(ctx context.Context, jobID string, status scrape.JobStatus, resultRef string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, status, result_ref, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO NOTHING;
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, jobID, string(status), resultRef, time.Now().UTC()); err != nil {
		return fmt.Errorf("record result for job %s: %w", jobID, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}
