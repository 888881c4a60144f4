package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root of the syncd config file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "5m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Queue     QueueConfig     `json:"queue"`
	Jobs      JobsConfig      `json:"jobs"`
	HTTP      HTTPConfig      `json:"http"`

	// Notifier is optional; omitted means disabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the schedule and run-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/syncd.db" }
//
// Driver is one of "memory" (default), "sqlite" or "mysql". DSN is used by
// mysql only (do not log it).
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// SchedulerConfig controls the timer bank.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// StartupSpread delays each timer's first firing by a random amount
	// (at most min(interval, 30s)) so a restart doesn't fire every type at once.
	StartupSpread bool   `json:"startup_spread,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// QueueConfig controls the queue processor.
//
// Defaults (when fields are omitted):
//   - kick_interval: "30s"
//   - default_timeout: "10m"
//   - coalesce_scheduled: true
type QueueConfig struct {
	KickInterval      string `json:"kick_interval,omitempty"`
	DefaultTimeout    string `json:"default_timeout,omitempty"`
	CoalesceScheduled *bool  `json:"coalesce_scheduled,omitempty"`
}

// JobsConfig overrides the built-in per-type values and binds executors.
type JobsConfig struct {
	// DefaultActive is the one type active after seeding. Default: customer_sync.
	DefaultActive string                   `json:"default_active,omitempty"`
	Types         map[string]JobTypeConfig `json:"types,omitempty"`
}

type JobTypeConfig struct {
	// Interval in minutes; 0 keeps the built-in value.
	Interval   int    `json:"interval,omitempty"`
	MaxRetries *int   `json:"max_retries,omitempty"`
	Timeout    string `json:"timeout,omitempty"`

	// Command is run with "sh -c" for each execution. Empty means no executor
	// is bound and runs of this type fail permanently.
	Command string   `json:"command,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// HTTPConfig controls the admin API.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Pprof   bool   `json:"pprof,omitempty"`
}

// NotifierConfig controls job outcome messages.
type NotifierConfig struct {
	Enabled       bool           `json:"enabled"`
	OnlyFailures  bool           `json:"only_failures,omitempty"`
	QueueSize     int            `json:"queue_size,omitempty"`
	RatePerSec    float64        `json:"rate_per_sec,omitempty"`
	RetryMax      int            `json:"retry_max,omitempty"`
	RetryBase     string         `json:"retry_base,omitempty"`
	RetryMaxDelay string         `json:"retry_max_delay,omitempty"`
	Telegram      TelegramConfig `json:"telegram"`
}

// TelegramConfig is the Telegram sink. An empty token falls back to the log sink.
type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// Default is used when no config file exists.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Storage:   StorageConfig{Driver: "memory"},
		Scheduler: SchedulerConfig{Enabled: true},
	}
}

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
