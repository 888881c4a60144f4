package app

import (
	"context"

	"syncd/internal/config"
	"syncd/internal/executor"
	"syncd/internal/job"
	"syncd/internal/storage"
	"syncd/internal/task/manager"
	logx "syncd/pkg/logx"
)

// Admin is a manager over the configured store that is never initialized:
// no timers fire and nothing is processed. CLI subcommands use it to inspect
// and repair schedules while the daemon may be running elsewhere.
type Admin struct {
	*manager.Manager
	store storage.Store
}

func OpenAdmin(cfgPath string, log logx.Logger) (*Admin, error) {
	cfg, _, err := config.NewConfigManager(cfgPath).LoadOrDefault()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
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
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	mcfg.TimersEnabled = false
	return &Admin{
		Manager: manager.New(mcfg, store, catalog, executor.NewRegistry(), nil, log),
		store:   store,
	}, nil
}

func (a *Admin) Close() error { return a.store.Close() }
