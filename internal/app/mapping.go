package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"syncd/internal/config"
	"syncd/internal/executor"
	"syncd/internal/httpapi"
	"syncd/internal/job"
	"syncd/internal/notifier"
	"syncd/internal/storage"
	"syncd/internal/task/engine"
	"syncd/internal/task/manager"
	"syncd/internal/task/scheduler"
	logx "syncd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "mysql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=mysql")
		}
		return storage.Config{Driver: "mysql", DSN: strings.TrimSpace(sc.DSN)}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapManagerConfig(cfg *config.Config) (manager.Config, error) {
	kick, err := config.ParseDurationOrDefault("queue.kick_interval", cfg.Queue.KickInterval, 30*time.Second)
	if err != nil {
		return manager.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("queue.default_timeout", cfg.Queue.DefaultTimeout, 10*time.Minute)
	if err != nil {
		return manager.Config{}, err
	}
	coalesce := true
	if cfg.Queue.CoalesceScheduled != nil {
		coalesce = *cfg.Queue.CoalesceScheduled
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return manager.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return manager.Config{
		TimersEnabled: cfg.Scheduler.Enabled,
		Engine: engine.Config{
			KickInterval:      kick,
			DefaultTimeout:    timeout,
			CoalesceScheduled: coalesce,
		},
		Scheduler: scheduler.Config{
			StartupSpread: cfg.Scheduler.StartupSpread,
			Timezone:      cfg.Scheduler.Timezone,
		},
	}, nil
}

// mapCatalog returns the default active type and per-type overrides.
func mapCatalog(cfg *config.Config) (job.Type, map[job.Type]job.Override, error) {
	var def job.Type
	if raw := strings.TrimSpace(cfg.Jobs.DefaultActive); raw != "" {
		t, err := job.ParseType(raw)
		if err != nil {
			return "", nil, fmt.Errorf("jobs.default_active: %w", err)
		}
		def = t
	}
	overrides := make(map[job.Type]job.Override, len(cfg.Jobs.Types))
	for name, jc := range cfg.Jobs.Types {
		t, err := job.ParseType(name)
		if err != nil {
			return "", nil, fmt.Errorf("jobs.types: %w", err)
		}
		timeout, err := config.ParseDurationField("jobs.types."+name+".timeout", jc.Timeout)
		if err != nil {
			return "", nil, err
		}
		overrides[t] = job.Override{Interval: jc.Interval, MaxRetries: jc.MaxRetries, Timeout: timeout}
	}
	// validate against a scratch catalog so bad values fail here with context
	if _, err := job.NewCatalog(def, overrides); err != nil {
		return "", nil, fmt.Errorf("jobs: %w", err)
	}
	return def, overrides, nil
}

// bindExecutors replaces every binding in reg with the configured commands.
func bindExecutors(reg *executor.Registry, cfg *config.Config, log logx.Logger) (int, error) {
	for _, t := range reg.Types() {
		reg.Unregister(t)
	}
	n := 0
	for name, jc := range cfg.Jobs.Types {
		if strings.TrimSpace(jc.Command) == "" {
			continue
		}
		t, err := job.ParseType(name)
		if err != nil {
			return n, err
		}
		fn := executor.Command(executor.CommandSpec{Run: jc.Command, Dir: jc.Dir, Env: jc.Env}, log)
		if err := reg.Register(t, fn); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{}, nil
	}
	if nc.RatePerSec < 0 || nc.QueueSize < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: rate_per_sec, queue_size and retry_max must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		OnlyFailures:  nc.OnlyFailures,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

// buildSink returns the Telegram sink when a token is configured, else the log sink.
func buildSink(cfg *config.Config, log logx.Logger) (notifier.Sink, error) {
	if cfg.Notifier == nil || strings.TrimSpace(cfg.Notifier.Telegram.Token) == "" {
		return notifier.LogSink{Log: log.With(logx.String("comp", "notifier"))}, nil
	}
	tc := cfg.Notifier.Telegram
	timeout, err := config.ParseDurationField("notifier.telegram.timeout", tc.Timeout)
	if err != nil {
		return nil, err
	}
	tg, err := notifier.NewTelegram(notifier.TelegramConfig{
		Token:    tc.Token,
		ChatID:   tc.ChatID,
		ThreadID: tc.ThreadID,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	return tg, nil
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	return httpapi.Config{Addr: strings.TrimSpace(cfg.HTTP.Addr), Pprof: cfg.HTTP.Pprof}
}

// validate rejects a config before it is committed on hot reload.
func validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapManagerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapCatalog(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if cfg.Notifier != nil && strings.TrimSpace(cfg.Notifier.Telegram.Token) != "" && cfg.Notifier.Telegram.ChatID == 0 {
		return fmt.Errorf("notifier.telegram.chat_id is required when a token is set")
	}
	return nil
}
