package config

import (
	"reflect"
	"sort"
	"strings"

	logx "syncd/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Secrets (DSN, bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(oldS.Driver) != strings.TrimSpace(newS.Driver) ||
		strings.TrimSpace(oldS.Path) != strings.TrimSpace(newS.Path) ||
		strings.TrimSpace(oldS.BusyTimeout) != strings.TrimSpace(newS.BusyTimeout) ||
		oldS.DSN != newS.DSN {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newS.DSN) != ""),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Bool("scheduler.startup_spread", newCfg.Scheduler.StartupSpread),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.String("queue.kick_interval", strings.TrimSpace(newCfg.Queue.KickInterval)),
			logx.String("queue.default_timeout", strings.TrimSpace(newCfg.Queue.DefaultTimeout)),
		)
	}

	if jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs); len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.String("jobs.default_active", newCfg.Jobs.DefaultActive),
			logx.String("jobs.changed", strings.Join(jobs, ",")),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.String("http.addr", newCfg.HTTP.Addr))
	}

	on, nn := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Bool("notifier.only_failures", nn.OnlyFailures),
			logx.Bool("notifier.telegram_set", strings.TrimSpace(nn.Telegram.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// JobsChanged reports whether canonical per-type values or the default type differ.
func JobsChanged(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return oldCfg != newCfg
	}
	return len(diffJobs(oldCfg.Jobs, newCfg.Jobs)) > 0
}

// diffJobs lists the job types whose config changed. A changed default type
// is reported as "default_active".
func diffJobs(o, n JobsConfig) []string {
	var out []string
	if strings.TrimSpace(o.DefaultActive) != strings.TrimSpace(n.DefaultActive) {
		out = append(out, "default_active")
	}
	seen := map[string]struct{}{}
	for k := range o.Types {
		seen[k] = struct{}{}
	}
	for k := range n.Types {
		seen[k] = struct{}{}
	}
	for k := range seen {
		if !reflect.DeepEqual(o.Types[k], n.Types[k]) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}
