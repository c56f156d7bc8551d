// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harvestd/orchestrator/internal/scrape"
)

// Config captures all service configuration knobs loaded via Viper.
// It is constructed once at process start and passed into components;
// nothing reads ambient global state.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Queue       QueueConfig     `mapstructure:"queue"`
	Workers     WorkersConfig   `mapstructure:"workers"`
	Webhook     WebhookConfig   `mapstructure:"webhook"`
	Jobs        JobsConfig      `mapstructure:"jobs"`
	Schedules   SchedulesConfig `mapstructure:"schedules"`
	Sink        SinkConfig      `mapstructure:"sink"`
	Publisher   PublisherConfig `mapstructure:"publisher"`
	Provider    ProviderConfig  `mapstructure:"provider"`
	Fetch       FetchConfig     `mapstructure:"fetch"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// QueueConfig bounds the per-pool task queues.
type QueueConfig struct {
	TaskQueueName string        `mapstructure:"task_queue_name"`
	MaxDepth      int           `mapstructure:"max_depth"`
	EnqueueWait   time.Duration `mapstructure:"enqueue_wait"`
}

// WorkersConfig sizes the two worker pools.
type WorkersConfig struct {
	GeneralCount     int           `mapstructure:"general_count"`
	JobDetailsCount  int           `mapstructure:"job_details_count"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// WebhookConfig governs the bounded wait for provider callbacks.
type WebhookConfig struct {
	RecheckInterval time.Duration `mapstructure:"recheck_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// JobsConfig bounds how long finalized job records stay in memory.
type JobsConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// SchedulesConfig locates the per-environment schedule definitions.
type SchedulesConfig struct {
	Path string `mapstructure:"path"`
}

// SinkConfig selects and tunes the result sink.
type SinkConfig struct {
	Provider     string        `mapstructure:"provider"`
	DSN          string        `mapstructure:"dsn"`
	RetryMax     int           `mapstructure:"retry_max"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// PublisherConfig selects the terminal-event publisher.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProviderConfig points at the scraping provider's REST API.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// FetchConfig tunes the listing-page fetch executor.
type FetchConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(scrape.EnvDev))
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("queue.task_queue_name", "scrape_tasks")
	v.SetDefault("queue.max_depth", 64)
	v.SetDefault("queue.enqueue_wait", "5s")
	v.SetDefault("workers.general_count", 4)
	v.SetDefault("workers.job_details_count", 4)
	v.SetDefault("workers.execution_timeout", "5m")
	v.SetDefault("webhook.recheck_interval", "23h")
	v.SetDefault("webhook.timeout", "24h")
	v.SetDefault("jobs.retention", "24h")
	v.SetDefault("schedules.path", "schedules.yaml")
	v.SetDefault("sink.provider", "memory")
	v.SetDefault("sink.retry_max", 3)
	v.SetDefault("sink.retry_backoff", "250ms")
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("provider.request_timeout", "30s")
	v.SetDefault("fetch.user_agent", "harvestd-bot/0.1")
	v.SetDefault("fetch.timeout", "15s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Environment != string(scrape.EnvDev) && c.Environment != string(scrape.EnvProd) {
		return fmt.Errorf("environment must be %q or %q", scrape.EnvDev, scrape.EnvProd)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Queue.MaxDepth <= 0 {
		return fmt.Errorf("queue.max_depth must be > 0")
	}
	if c.Workers.GeneralCount <= 0 {
		return fmt.Errorf("workers.general_count must be > 0")
	}
	if c.Workers.JobDetailsCount <= 0 {
		return fmt.Errorf("workers.job_details_count must be > 0")
	}
	if c.Webhook.RecheckInterval <= 0 {
		return fmt.Errorf("webhook.recheck_interval must be > 0")
	}
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("webhook.timeout must be > 0")
	}
	if c.Webhook.RecheckInterval > c.Webhook.Timeout {
		return fmt.Errorf("webhook.recheck_interval must not exceed webhook.timeout")
	}
	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("jobs.retention must be > 0")
	}
	if c.Sink.Provider == "postgres" && c.Sink.DSN == "" {
		return fmt.Errorf("sink.dsn must be set when sink.provider is postgres")
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic_name must be set when publisher.provider is pubsub")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// QueueNameFor derives the named queue for a task kind.
func (c Config) QueueNameFor(kind scrape.TaskKind) string {
	return fmt.Sprintf("%s_%s", c.Queue.TaskQueueName, kind)
}
