package config

import (
	"time"

	"github.com/vietddude/relay/internal/dispatch"
	"github.com/vietddude/relay/internal/infra/publisher"
	redisclient "github.com/vietddude/relay/internal/infra/redis"
	"github.com/vietddude/relay/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Dispatch  dispatch.Config    `yaml:"dispatch"`
	Publisher publisher.Config   `yaml:"publisher"`
	EventLog  EventLogConfig     `yaml:"eventlog"`
	Retention RetentionConfig    `yaml:"retention"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// EventLogConfig holds event log settings. The Redis and PostgreSQL mirrors
// are enabled when their connection URLs are set.
type EventLogConfig struct {
	Path        string `yaml:"path"`
	TailSize    int    `yaml:"tail_size"`
	RedisMaxLen int64  `yaml:"redis_max_len"`
}

// RetentionConfig holds pruning windows. 0 keeps records forever.
type RetentionConfig struct {
	Jobs   time.Duration `yaml:"jobs"`   // completed jobs in memory
	Events time.Duration `yaml:"events"` // rows in the PostgreSQL events table
}
