package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"syncd/internal/config"
	"syncd/internal/job"
	logx "syncd/pkg/logx"
)

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Scheduler.Enabled = false
	cfg.Queue.KickInterval = "100ms"
	cfg.Jobs.Types = map[string]config.JobTypeConfig{
		"order_sync": {Command: `echo '{"processed":3,"failed":0}'`},
	}
	return cfg
}

func waitFor(t *testing.T, d time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		wantErr bool
	}{
		{name: "empty", in: config.StorageConfig{}, driver: "memory"},
		{name: "sqlite", in: config.StorageConfig{Driver: "SQLite", Path: "x.db"}, driver: "sqlite"},
		{name: "sqlite without path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "sqlite bad busy timeout", in: config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, wantErr: true},
		{name: "mysql", in: config.StorageConfig{Driver: "mysql", DSN: "u:p@tcp(db)/syncd"}, driver: "mysql"},
		{name: "mysql without dsn", in: config.StorageConfig{Driver: "mysql"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "postgres"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Storage = tc.in
			got, err := mapStorageConfig(cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Driver != tc.driver {
				t.Fatalf("driver: got %q want %q", got.Driver, tc.driver)
			}
		})
	}
}

func TestMapCatalog(t *testing.T) {
	t.Parallel()
	retries := 1
	cfg := config.Default()
	cfg.Jobs.DefaultActive = "order_sync"
	cfg.Jobs.Types = map[string]config.JobTypeConfig{
		"order_sync": {Interval: 20, MaxRetries: &retries, Timeout: "90s"},
	}
	def, overrides, err := mapCatalog(cfg)
	if err != nil {
		t.Fatalf("mapCatalog: %v", err)
	}
	if def != job.OrderSync {
		t.Fatalf("default active: got %q", def)
	}
	o := overrides[job.OrderSync]
	if o.Interval != 20 || o.MaxRetries == nil || *o.MaxRetries != 1 || o.Timeout != 90*time.Second {
		t.Fatalf("override: %+v", o)
	}

	cfg.Jobs.Types = map[string]config.JobTypeConfig{"refund_sync": {Interval: 5}}
	if _, _, err := mapCatalog(cfg); err == nil {
		t.Fatalf("expected unknown type error")
	}
	cfg.Jobs.Types = map[string]config.JobTypeConfig{"order_sync": {Interval: -1}}
	if _, _, err := mapCatalog(cfg); err == nil {
		t.Fatalf("expected negative interval error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if err := validate(context.Background(), cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.Scheduler.Timezone = "Mars/Olympus"
	if err := validate(context.Background(), cfg); err == nil {
		t.Fatalf("expected timezone error")
	}

	cfg = config.Default()
	cfg.Notifier = &config.NotifierConfig{Enabled: true, Telegram: config.TelegramConfig{Token: "123:abc"}}
	if err := validate(context.Background(), cfg); err == nil {
		t.Fatalf("expected chat_id error")
	}

	cfg.Notifier.RetryBase = "later"
	cfg.Notifier.Telegram.ChatID = 42
	if err := validate(context.Background(), cfg); err == nil {
		t.Fatalf("expected retry_base error")
	}
}

func TestAppRunsConfiguredCommand(t *testing.T) {
	a, err := NewApp(writeConfig(t, testConfig()))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	scheds, err := a.Manager().JobSchedules(ctx)
	if err != nil {
		t.Fatalf("JobSchedules: %v", err)
	}
	if len(scheds) != len(job.AllTypes()) {
		t.Fatalf("seeded schedules: got %d want %d", len(scheds), len(job.AllTypes()))
	}

	if _, err := a.Manager().RunManualJob(ctx, job.OrderSync, job.SourceOnline); err != nil {
		t.Fatalf("RunManualJob: %v", err)
	}
	var rec job.RunRecord
	waitFor(t, 5*time.Second, func() bool {
		runs, err := a.Manager().JobStatus(ctx, 10)
		if err != nil {
			return false
		}
		for _, r := range runs {
			if r.Type == job.OrderSync && r.Status == job.RunCompleted {
				rec = r
				return true
			}
		}
		return false
	})
	if rec.RecordsProcessed != 3 || rec.Source != job.SourceOnline {
		t.Fatalf("run record: %+v", rec)
	}
}

func TestApplyConfigReconcilesJobs(t *testing.T) {
	a, err := NewApp(writeConfig(t, testConfig()))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	oldCfg := a.cfgm.Get()
	newCfg := testConfig()
	newCfg.Jobs.Types = map[string]config.JobTypeConfig{
		"order_sync":    {Interval: 20, Command: "true"},
		"customer_sync": {Command: "true"},
	}
	a.applyConfig(ctx, oldCfg, newCfg)

	scheds, err := a.Manager().JobSchedules(ctx)
	if err != nil {
		t.Fatalf("JobSchedules: %v", err)
	}
	found := false
	for _, s := range scheds {
		if s.Type == job.OrderSync {
			found = true
			if s.Interval != 20 {
				t.Fatalf("order_sync interval: got %d want 20", s.Interval)
			}
		}
	}
	if !found {
		t.Fatalf("order_sync schedule missing")
	}
	if got := len(a.execs.Types()); got != 2 {
		t.Fatalf("bound executors: got %d want 2", got)
	}
}

func TestOpenAdmin(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Jobs.DefaultActive = "inventory_sync"
	ad, err := OpenAdmin(writeConfig(t, cfg), logx.Nop())
	if err != nil {
		t.Fatalf("OpenAdmin: %v", err)
	}
	defer ad.Close()

	n, err := ad.ResetToDefaultSchedules(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 0 {
		t.Fatalf("reset on empty store: got %d want 0", n)
	}
	st, err := ad.AutomationStatus(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.TotalJobs != 0 || st.DefaultActive != job.InventorySync {
		t.Fatalf("status: %+v", st)
	}
	if st.Intervals[job.OrderSync] != 15 {
		t.Fatalf("order_sync interval: got %d want 15", st.Intervals[job.OrderSync])
	}
}
