// Package app wires config, storage, the sync manager, the notifier and the
// admin API into one process and fans config reloads out to them.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"syncd/internal/config"
	"syncd/internal/eventbus"
	"syncd/internal/executor"
	"syncd/internal/httpapi"
	"syncd/internal/job"
	"syncd/internal/notifier"
	rtsup "syncd/internal/runtime/supervisor"
	"syncd/internal/storage"
	"syncd/internal/task/manager"
	logx "syncd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger // comp=app
	base  logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	execs *executor.Registry
	mgr   *manager.Manager
	notif *notifier.Service
	http  *httpapi.Server
}

// NewApp loads cfgPath (falling back to defaults when the file is missing)
// and builds every component without starting any of them.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, fromFile, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, base := logx.New(mapLoggingConfig(cfg))
	log := base.With(logx.String("comp", "app"))
	if !fromFile {
		log.Warn("config file not found, using defaults", logx.String("path", cfgPath))
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, base)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a, err := build(cfgm, cfg, store, logSvc, base)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.ConfigManager, cfg *config.Config, store storage.Store, logSvc *logx.Service, log logx.Logger) (*App, error) {
	mcfg, err := mapManagerConfig(cfg)
	if err != nil {
		return nil, err
	}
	def, overrides, err := mapCatalog(cfg)
	if err != nil {
		return nil, err
	}
	catalog, err := job.NewCatalog(def, overrides)
	if err != nil {
		return nil, err
	}

	execs := executor.NewRegistry()
	n, err := bindExecutors(execs, cfg, log.With(logx.String("comp", "executor")))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		log.Warn("no job commands configured; every run will fail")
	}

	bus := eventbus.New()
	mgr := manager.New(mcfg, store, catalog, execs, bus, log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := buildSink(cfg, log)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, sink, bus, log)

	var srv *httpapi.Server
	if cfg.HTTP.Enabled {
		srv = httpapi.New(mapHTTPConfig(cfg), mgr, log)
	}

	return &App{
		cfgm:  cfgm,
		log:   log.With(logx.String("comp", "app")),
		base:  log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		execs: execs,
		mgr:   mgr,
		notif: notif,
		http:  srv,
	}, nil
}

func (a *App) Manager() *manager.Manager { return a.mgr }

// HTTP returns the admin server, or nil when http.enabled is false.
func (a *App) HTTP() *httpapi.Server { return a.http }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.base.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	if err := a.mgr.Initialize(a.sup.Context()); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// keep only the latest of a burst
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})

	if a.cfgm.Path() != "" {
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started", logx.Bool("http", a.http != nil), logx.Bool("notifier", a.notif.Enabled()))
	return nil
}

// applyConfig pushes a committed config to every live component.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if s == "storage" || s == "http" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if mcfg, err := mapManagerConfig(newCfg); err != nil {
		a.log.Warn("invalid queue/scheduler config; keeping previous", logx.Err(err))
	} else {
		a.mgr.Apply(ctx, mcfg)
	}

	if config.JobsChanged(oldCfg, newCfg) {
		if n, err := bindExecutors(a.execs, newCfg, a.base.With(logx.String("comp", "executor"))); err != nil {
			a.log.Warn("rebinding job commands failed", logx.Err(err))
		} else {
			a.log.Debug("job commands rebound", logx.Int("bound", n))
		}
		if def, overrides, err := mapCatalog(newCfg); err != nil {
			a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
		} else if err := a.mgr.ApplyCatalog(ctx, def, overrides); err != nil {
			a.log.Warn("applying jobs config failed", logx.Err(err))
		}
	}

	prevNotif := a.notif.Enabled()
	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		if sink, err := buildSink(newCfg, a.base); err != nil {
			a.log.Warn("notifier sink rebuild failed; keeping previous", logx.Err(err))
		} else {
			a.notif.SetSink(sink)
		}
		a.notif.Apply(ncfg)
		switch {
		case prevNotif && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevNotif && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "manager", 4*time.Second, func(c context.Context) error { a.mgr.Destroy(c); return nil })
	a.step(ctx, "notifier", 1*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and by the caller's deadline.
// A step that overruns is logged and left running.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && stepCtx.Err() == nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
