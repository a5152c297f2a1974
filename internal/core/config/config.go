package config

import (
	"time"

	redisclient "github.com/vietddude/stager/internal/infra/redis"
	"github.com/vietddude/stager/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Pipeline PipelineConfig     `yaml:"pipeline"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
	Retry    RetryConfig        `yaml:"retry"`
	Breaker  BreakerConfig      `yaml:"breaker"`
	Sweep    SweepConfig        `yaml:"sweep"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// PipelineConfig names the pipeline instance. The name scopes checkpoint
// rows, requeue keys and log records.
type PipelineConfig struct {
	Name string `yaml:"name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level        string        `yaml:"level"`         // debug, info, warn, error
	FallbackPath string        `yaml:"fallback_path"` // JSONL file sink path
	CriticalPath string        `yaml:"critical_path"` // plaintext last-resort path
	Retention    time.Duration `yaml:"retention"`     // DB log retention, 0 = keep forever
}

// RetryConfig holds retry policy settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxJitter   time.Duration `yaml:"max_jitter"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// SweepConfig holds month sweep settings.
type SweepConfig struct {
	SourceQuery        string        `yaml:"source_query"`         // SQL returning distinct year, month rows
	WatchInterval      time.Duration `yaml:"watch_interval"`       // 0 = one-shot
	Requeue            bool          `yaml:"requeue"`              // enable the Redis requeue channel
	MaxRequeueAttempts int           `yaml:"max_requeue_attempts"` // drop threshold for requeued months
}
