// Package config contains tests for configuration loading.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// TestLoadDefaults verifies the zero-config defaults are sane.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != string(scrape.EnvDev) {
		t.Fatalf("expected dev environment, got %q", cfg.Environment)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Queue.MaxDepth != 64 || cfg.Queue.EnqueueWait != 5*time.Second {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.Workers.GeneralCount != 4 || cfg.Workers.JobDetailsCount != 4 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Workers)
	}
	if cfg.Workers.ExecutionTimeout != 5*time.Minute {
		t.Fatalf("unexpected execution timeout: %s", cfg.Workers.ExecutionTimeout)
	}
	if cfg.Webhook.RecheckInterval != 23*time.Hour || cfg.Webhook.Timeout != 24*time.Hour {
		t.Fatalf("unexpected webhook defaults: %+v", cfg.Webhook)
	}
	if cfg.Sink.Provider != "memory" || cfg.Sink.RetryMax != 3 {
		t.Fatalf("unexpected sink defaults: %+v", cfg.Sink)
	}
}

// TestLoadFromFile verifies YAML overrides are honored.
func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
environment: prod
server:
  port: 9090
queue:
  max_depth: 128
workers:
  general_count: 8
webhook:
  recheck_interval: 1h
  timeout: 2h
auth:
  enabled: true
  api_key: secret
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != string(scrape.EnvProd) || cfg.Server.Port != 9090 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Queue.MaxDepth != 128 || cfg.Workers.GeneralCount != 8 {
		t.Fatalf("overrides not applied: queue=%+v workers=%+v", cfg.Queue, cfg.Workers)
	}
	if cfg.Webhook.RecheckInterval != time.Hour || cfg.Webhook.Timeout != 2*time.Hour {
		t.Fatalf("webhook overrides not applied: %+v", cfg.Webhook)
	}
	// Defaults still fill the gaps.
	if cfg.Workers.JobDetailsCount != 4 {
		t.Fatalf("expected default job_details_count, got %d", cfg.Workers.JobDetailsCount)
	}
}

// TestValidateRejections covers the validation guard rails.
func TestValidateRejections(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load defaults: %v", err)
		}
		return cfg
	}

	cases := map[string]func(*Config){
		"bad environment":          func(c *Config) { c.Environment = "staging" },
		"zero port":                func(c *Config) { c.Server.Port = 0 },
		"zero queue depth":         func(c *Config) { c.Queue.MaxDepth = 0 },
		"zero general workers":     func(c *Config) { c.Workers.GeneralCount = 0 },
		"zero details workers":     func(c *Config) { c.Workers.JobDetailsCount = 0 },
		"zero recheck":             func(c *Config) { c.Webhook.RecheckInterval = 0 },
		"zero job retention":       func(c *Config) { c.Jobs.Retention = 0 },
		"recheck beyond timeout":   func(c *Config) { c.Webhook.RecheckInterval = 25 * time.Hour },
		"postgres without dsn":     func(c *Config) { c.Sink.Provider = "postgres" },
		"pubsub without project":   func(c *Config) { c.Publisher.Provider = "pubsub" },
		"auth enabled without key": func(c *Config) { c.Auth.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

// TestQueueNameFor verifies per-kind queue naming.
func TestQueueNameFor(t *testing.T) {
	cfg := Config{Queue: QueueConfig{TaskQueueName: "scrape_tasks"}}
	if got := cfg.QueueNameFor(scrape.KindGeneral); got != "scrape_tasks_general" {
		t.Fatalf("unexpected queue name %q", got)
	}
	if got := cfg.QueueNameFor(scrape.KindJobDetails); got != "scrape_tasks_job_details" {
		t.Fatalf("unexpected queue name %q", got)
	}
}
