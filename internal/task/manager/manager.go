// Package manager exposes the scheduler's host entry points. It owns the
// schedule registry, the timer bank, the queue processor and the automation
// facade, and wires them in the right order on Initialize and Destroy.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"syncd/internal/eventbus"
	"syncd/internal/job"
	"syncd/internal/storage"
	"syncd/internal/task/automation"
	"syncd/internal/task/engine"
	"syncd/internal/task/registry"
	"syncd/internal/task/scheduler"
	logx "syncd/pkg/logx"
)

const defaultStatusLimit = 50

// Config carries the runtime settings of the owned services.
type Config struct {
	// TimersEnabled controls whether the timer bank fires. Manual jobs work either way.
	TimersEnabled bool
	Engine        engine.Config
	Scheduler     scheduler.Config
}

// QueueStatus combines the processor view with the armed timers.
type QueueStatus struct {
	engine.Status
	Timers []scheduler.Timer `json:"timers"`
}

type Manager struct {
	mu          sync.Mutex
	cfg         Config
	initialized bool

	log      logx.Logger
	store    storage.Store
	catalog  *job.Catalog
	registry *registry.Service
	timers   *scheduler.Service
	engine   *engine.Service
	facade   *automation.Service
}

// New builds the owned services. exec runs jobs; bus may be nil.
func New(cfg Config, store storage.Store, catalog *job.Catalog, exec engine.Executor, bus eventbus.Bus, log logx.Logger) *Manager {
	if catalog == nil {
		catalog = job.DefaultCatalog()
	}
	eng := engine.New(cfg.Engine, log, engine.Deps{
		Catalog:  catalog,
		Executor: exec,
		Runs:     store,
		Bus:      bus,
	})
	timers := scheduler.New(cfg.Scheduler, eng, log)
	reg := registry.New(store, catalog, timers, log)
	eng.SetMarker(reg)

	return &Manager{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "manager")),
		store:    store,
		catalog:  catalog,
		registry: reg,
		timers:   timers,
		engine:   eng,
		facade:   automation.New(store, reg, timers, log),
	}
}

// Initialize seeds or reconciles schedules, starts the processor and the
// timer bank, then arms every active schedule. Calling it twice is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	rep := m.registry.EnsureDefaultSchedules(ctx)
	m.engine.Start(ctx)
	armed := 0
	if m.cfg.TimersEnabled {
		m.timers.Start(ctx)
		armed = m.registry.StartActiveJobs(ctx)
	}
	m.initialized = true
	m.log.Info("scheduler initialized",
		logx.Int("inserted", rep.Inserted),
		logx.Int("corrected", rep.Corrected),
		logx.Int("armed", armed),
		logx.Bool("timers", m.cfg.TimersEnabled),
	)
	return nil
}

// Destroy disarms all timers, stops the timer bank and the processor and clears
// the pending queue. A drain still inside an attempt keeps the draining guard
// until that attempt returns.
func (m *Manager) Destroy(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.timers.DisarmAll()
	m.timers.Stop(ctx)
	m.engine.Stop(ctx)
	dropped := m.engine.Reset()
	m.initialized = false
	m.log.Info("scheduler destroyed", logx.Int("disarmed", n), logx.Int("dropped", dropped))
}

// Apply swaps runtime settings. Toggling TimersEnabled starts or stops the
// timer bank while initialized.
func (m *Manager) Apply(ctx context.Context, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.cfg.TimersEnabled
	m.cfg = cfg
	m.engine.Apply(cfg.Engine)
	m.timers.Apply(cfg.Scheduler)
	if !m.initialized || prev == cfg.TimersEnabled {
		return
	}
	if cfg.TimersEnabled {
		m.timers.Start(ctx)
		n := m.registry.StartActiveJobs(ctx)
		m.log.Info("timers enabled via config", logx.Int("armed", n))
		return
	}
	m.timers.DisarmAll()
	m.timers.Stop(ctx)
	m.log.Info("timers disabled via config")
}

// ApplyCatalog swaps canonical per-type values, reconciles the store against
// them and re-arms timers.
func (m *Manager) ApplyCatalog(ctx context.Context, defaultActive job.Type, overrides map[job.Type]job.Override) error {
	if err := m.catalog.Apply(defaultActive, overrides); err != nil {
		return err
	}
	rep := m.registry.EnsureDefaultSchedules(ctx)
	m.mu.Lock()
	rearm := m.initialized && m.cfg.TimersEnabled
	m.mu.Unlock()
	if !rearm {
		return nil
	}
	n, err := m.registry.Rearm(ctx)
	if err != nil {
		return fmt.Errorf("re-arm timers: %w", err)
	}
	m.log.Info("job catalog applied", logx.Int("corrected", rep.Corrected), logx.Int("inserted", rep.Inserted), logx.Int("armed", n))
	return nil
}

// JobStatus returns the most recent run records, newest first.
func (m *Manager) JobStatus(ctx context.Context, limit int) ([]job.RunRecord, error) {
	if limit <= 0 {
		limit = defaultStatusLimit
	}
	runs, err := m.store.RecentRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return runs, nil
}

func (m *Manager) JobSchedules(ctx context.Context) ([]job.Schedule, error) {
	list, err := m.store.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return list, nil
}

func (m *Manager) QueueStatus() QueueStatus {
	return QueueStatus{Status: m.engine.Status(), Timers: m.timers.Armed()}
}

// RunManualJob enqueues t at its own priority. An empty source means online.
func (m *Manager) RunManualJob(ctx context.Context, t job.Type, src job.Source) (job.QueueItem, error) {
	return m.enqueueManual(ctx, t, "", src)
}

// AddManualJob enqueues t with the requested priority when it ranks above the
// type's own priority; otherwise the type priority is used.
func (m *Manager) AddManualJob(ctx context.Context, t job.Type, p job.Priority, src job.Source) (job.QueueItem, error) {
	if p != "" && p.Rank() == 0 {
		return job.QueueItem{}, fmt.Errorf("%w: %q", job.ErrUnknownPriority, string(p))
	}
	d, ok := m.catalog.Lookup(t)
	if !ok {
		return job.QueueItem{}, fmt.Errorf("%w: %q", job.ErrUnknownType, string(t))
	}
	if p.Rank() <= d.Priority.Rank() {
		p = ""
	}
	return m.enqueueManual(ctx, t, p, src)
}

func (m *Manager) enqueueManual(_ context.Context, t job.Type, p job.Priority, src job.Source) (job.QueueItem, error) {
	if src == "" {
		src = job.SourceOnline
	}
	it, err := m.engine.Enqueue(engine.Request{Type: t, Priority: p, Source: src})
	if err != nil {
		if !errors.Is(err, job.ErrUnknownType) {
			m.log.Warn("manual enqueue failed", logx.String("job", t.String()), logx.Err(err))
		}
		return job.QueueItem{}, err
	}
	m.log.Info("manual job queued", logx.String("job", t.String()), logx.String("id", it.ID),
		logx.String("priority", it.Priority.String()), logx.String("source", string(src)))
	return it, nil
}

func (m *Manager) UpdateJobSchedule(ctx context.Context, id string, p job.SchedulePatch) (job.Schedule, error) {
	return m.facade.UpdateJobSchedule(ctx, id, p)
}

func (m *Manager) ResetToDefaultSchedules(ctx context.Context) (int, error) {
	return m.facade.ResetToDefaultSchedules(ctx)
}

func (m *Manager) CleanupDuplicateSchedules(ctx context.Context) (automation.CleanupReport, error) {
	return m.facade.CleanupDuplicateSchedules(ctx)
}

func (m *Manager) AutomationStatus(ctx context.Context) (automation.Status, error) {
	return m.facade.Status(ctx)
}
