package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/syncd.db
scheduler:
  enabled: true
  startup_spread: true
queue:
  kick_interval: 15s
  coalesce_scheduled: false
jobs:
  default_active: order_sync
  types:
    order_sync:
      interval: 10
      max_retries: 0
      command: ./bin/sync-orders
http:
  enabled: true
  addr: 127.0.0.1:9090
notifier:
  enabled: true
  telegram:
    chat_id: -100123
    thread_id: 7
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "syncd.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Queue.KickInterval != "15s" || !cfg.Scheduler.StartupSpread {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Queue.CoalesceScheduled == nil || *cfg.Queue.CoalesceScheduled {
		t.Fatalf("coalesce_scheduled not decoded")
	}
	ot := cfg.Jobs.Types["order_sync"]
	if ot.Interval != 10 || ot.MaxRetries == nil || *ot.MaxRetries != 0 || ot.Command != "./bin/sync-orders" {
		t.Fatalf("order_sync = %+v", ot)
	}
	if cfg.Notifier == nil || cfg.Notifier.Telegram.ChatID != -100123 || cfg.Notifier.Telegram.ThreadID != 7 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"syncd.yaml": "queue:\n  workers: 4\n",
		"syncd.json": `{"queue":{"kick_interval":"1s"}}{"http":{}}`,
		"bad.json":   `{"storage":{"driver":"sqlite","pool":3}}`,
	}
	for name, content := range cases {
		m := NewConfigManager(writeFile(t, name, content))
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEmptyYAMLIsZeroConfig(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "syncd.yml", "# nothing yet\n"))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.Enabled || cfg.Notifier != nil {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, found, err := m.LoadOrDefault()
	if err != nil || found {
		t.Fatalf("found = %v, err = %v", found, err)
	}
	if !cfg.Scheduler.Enabled || cfg.Storage.Driver != "memory" {
		t.Fatalf("default cfg = %+v", cfg)
	}
}

func TestReloadValidatesAndPublishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := writeFile(t, "syncd.yaml", "http:\n  enabled: false\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if changed, err := m.Reload(ctx); err != nil || changed {
		t.Fatalf("unchanged reload: changed=%v err=%v", changed, err)
	}

	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.HTTP.Enabled && cfg.HTTP.Addr == "" {
			return errors.New("http.addr required")
		}
		return nil
	})
	_ = os.WriteFile(path, []byte("http:\n  enabled: true\n"), 0o644)
	if _, err := m.Reload(ctx); err == nil || !strings.Contains(err.Error(), "http.addr") {
		t.Fatalf("expected validator rejection, got %v", err)
	}
	if m.Get().HTTP.Enabled {
		t.Fatalf("rejected config was committed")
	}

	_ = os.WriteFile(path, []byte("http:\n  enabled: true\n  addr: :8081\n"), 0o644)
	if changed, err := m.Reload(ctx); err != nil || !changed {
		t.Fatalf("reload: changed=%v err=%v", changed, err)
	}
	select {
	case cfg := <-sub:
		if cfg.HTTP.Addr != ":8081" {
			t.Fatalf("published addr = %q", cfg.HTTP.Addr)
		}
	default:
		t.Fatalf("nothing published")
	}
}

func TestWatchPublishesFileChange(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "syncd.yaml", "logging:\n  level: info\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			// rewrite until the watcher is up and sees it
			_ = os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644)
		case <-deadline:
			t.Fatalf("no config published")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := Default()
	nw := Default()
	nw.Logging.Level = "debug"
	nw.Storage.DSN = "user:secret@tcp(db:3306)/syncd"
	nw.Jobs.Types = map[string]JobTypeConfig{"order_sync": {Interval: 5}}
	nw.Notifier = &NotifierConfig{Enabled: true}

	sections, attrs := SummarizeConfigChange(old, nw)
	want := []string{"jobs", "logging", "notifier", "storage"}
	if !slices.Equal(sections, want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
	if !JobsChanged(old, nw) || JobsChanged(old, Default()) {
		t.Fatalf("JobsChanged mismatch")
	}
	if s, _ := SummarizeConfigChange(old, Default()); len(s) != 0 {
		t.Fatalf("identical configs reported %v", s)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("queue.kick_interval", "", 30*time.Second); err != nil || d != 30*time.Second {
		t.Fatalf("default = %s, %v", d, err)
	}
	if d, err := ParseDurationField("x", " 2m "); err != nil || d != 2*time.Minute {
		t.Fatalf("2m = %s, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil || !strings.Contains(err.Error(), "x:") {
		t.Fatalf("err = %v", err)
	}
}
