// Package registry keeps the persisted schedules in line with the catalog and
// arms the timer bank from them.
package registry

import (
	"context"
	"fmt"
	"time"

	"syncd/internal/job"
	"syncd/internal/storage"
	logx "syncd/pkg/logx"
)

// Timers is the subset of the timer bank the registry drives.
type Timers interface {
	Arm(t job.Type, intervalMinutes int) error
	Disarm(t job.Type) bool
	DisarmAll() int
}

// SeedReport summarizes one EnsureDefaultSchedules pass.
type SeedReport struct {
	Inserted  int `json:"inserted"`
	Corrected int `json:"corrected"`
	Unknown   int `json:"unknown"`
}

type Service struct {
	store   storage.ScheduleStore
	catalog *job.Catalog
	timers  Timers
	log     logx.Logger
	now     func() time.Time
}

func New(store storage.ScheduleStore, catalog *job.Catalog, timers Timers, log logx.Logger) *Service {
	if catalog == nil {
		catalog = job.DefaultCatalog()
	}
	return &Service{
		store:   store,
		catalog: catalog,
		timers:  timers,
		log:     log.With(logx.String("comp", "registry")),
		now:     time.Now,
	}
}

func (r *Service) Catalog() *job.Catalog { return r.catalog }

// EnsureDefaultSchedules seeds an empty store with one schedule per type, or
// forces existing records back to their canonical interval and active flag.
// Types missing from a non-empty store are inserted. Store errors are logged
// and swallowed; the returned report reflects what was attempted.
func (r *Service) EnsureDefaultSchedules(ctx context.Context) SeedReport {
	var rep SeedReport
	list, err := r.store.ListSchedules(ctx)
	if err != nil {
		r.log.Error("list schedules failed", logx.Err(err))
		return rep
	}

	now := r.now()
	var ops []storage.ScheduleOp
	seen := make(map[job.Type]bool, len(list))
	for _, s := range list {
		if !s.Type.Valid() {
			rep.Unknown++
			r.log.Warn("schedule with unknown type left untouched", logx.String("id", s.ID), logx.String("type", string(s.Type)))
			continue
		}
		seen[s.Type] = true
		if p, drifted := r.catalog.Drift(s); drifted {
			ops = append(ops, storage.UpdateOp(s.ID, p))
			rep.Corrected++
		}
	}
	for _, t := range job.AllTypes() {
		if seen[t] {
			continue
		}
		sc, err := r.catalog.NewSchedule(t, now)
		if err != nil {
			r.log.Error("build default schedule failed", logx.String("job", t.String()), logx.Err(err))
			continue
		}
		ops = append(ops, storage.InsertOp(sc))
		rep.Inserted++
	}

	if len(ops) == 0 {
		r.log.Debug("schedules already canonical", logx.Int("schedules", len(list)))
		return rep
	}
	if err := r.store.ApplySchedules(ctx, ops); err != nil {
		r.log.Error("seed schedules failed", logx.Err(err))
		return SeedReport{Unknown: rep.Unknown}
	}
	r.log.Info("schedules seeded",
		logx.Int("inserted", rep.Inserted),
		logx.Int("corrected", rep.Corrected),
		logx.String("default_active", r.catalog.DefaultActive().String()),
	)
	return rep
}

// StartActiveJobs arms a timer for each active schedule and returns how many
// types were armed. With duplicate active records the first one wins.
func (r *Service) StartActiveJobs(ctx context.Context) int {
	list, err := r.store.ListSchedules(ctx)
	if err != nil {
		r.log.Error("list schedules failed", logx.Err(err))
		return 0
	}
	return r.arm(list)
}

// Rearm clears every timer and arms again from the current store state.
func (r *Service) Rearm(ctx context.Context) (int, error) {
	list, err := r.store.ListSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}
	if r.timers != nil {
		r.timers.DisarmAll()
	}
	return r.arm(list), nil
}

func (r *Service) arm(list []job.Schedule) int {
	if r.timers == nil {
		return 0
	}
	armed := make(map[job.Type]string, len(list))
	for _, s := range list {
		if !s.IsActive || !s.Type.Valid() {
			continue
		}
		if first, dup := armed[s.Type]; dup {
			r.log.Warn("duplicate active schedule ignored", logx.String("job", s.Type.String()),
				logx.String("id", s.ID), logx.String("kept", first))
			continue
		}
		if err := r.timers.Arm(s.Type, s.Interval); err != nil {
			r.log.Error("arm timer failed", logx.String("job", s.Type.String()), logx.Err(err))
			continue
		}
		armed[s.Type] = s.ID
		r.log.Info("job scheduled", logx.String("job", s.Type.String()), logx.Int("interval_min", s.Interval))
	}
	return len(armed)
}

// ScheduleFor returns the first stored schedule of type t.
func (r *Service) ScheduleFor(ctx context.Context, t job.Type) (job.Schedule, error) {
	list, err := r.store.ListSchedules(ctx)
	if err != nil {
		return job.Schedule{}, err
	}
	for _, s := range list {
		if s.Type == t {
			return s, nil
		}
	}
	return job.Schedule{}, fmt.Errorf("schedule for %s: %w", t, storage.ErrNotFound)
}

// MarkRun records a successful scheduled run: lastRun = at, nextRun = at + interval.
func (r *Service) MarkRun(ctx context.Context, t job.Type, at time.Time, retryCount int) error {
	s, err := r.ScheduleFor(ctx, t)
	if err != nil {
		return err
	}
	next := at.Add(time.Duration(s.Interval) * time.Minute)
	return r.store.UpdateSchedule(ctx, s.ID, job.SchedulePatch{
		LastRun:    &at,
		NextRun:    &next,
		RetryCount: job.Ptr(retryCount),
	})
}
