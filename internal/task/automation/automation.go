// Package automation holds the operator-facing schedule administration:
// status, reset to canonical, duplicate cleanup and single-record updates.
package automation

import (
	"context"
	"fmt"

	"syncd/internal/job"
	"syncd/internal/storage"
	"syncd/internal/task/registry"
	logx "syncd/pkg/logx"
)

// Status is computed fresh from the store on every call.
type Status struct {
	TotalJobs     int              `json:"total_jobs"`
	ActiveJobs    int              `json:"active_jobs"`
	ActiveTypes   []job.Type       `json:"active_types"`
	Intervals     map[job.Type]int `json:"intervals"`
	DefaultActive job.Type         `json:"default_active"`
	Armed         []job.Type       `json:"armed,omitempty"`
}

// CleanupReport describes a duplicate cleanup pass.
type CleanupReport struct {
	Removed int            `json:"removed"`
	Kept    int            `json:"kept"`
	Types   map[string]int `json:"types,omitempty"` // removed per type
}

// ArmedLister reports which types currently have a timer. Optional.
type ArmedLister interface {
	IsArmed(t job.Type) bool
}

type Service struct {
	store    storage.ScheduleStore
	registry *registry.Service
	timers   registry.Timers
	armed    ArmedLister
	log      logx.Logger
}

func New(store storage.ScheduleStore, reg *registry.Service, timers registry.Timers, log logx.Logger) *Service {
	s := &Service{
		store:    store,
		registry: reg,
		timers:   timers,
		log:      log.With(logx.String("comp", "automation")),
	}
	if al, ok := timers.(ArmedLister); ok {
		s.armed = al
	}
	return s
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	list, err := s.store.ListSchedules(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list schedules: %w", err)
	}
	cat := s.registry.Catalog()
	st := Status{
		TotalJobs:     len(list),
		ActiveTypes:   []job.Type{},
		Intervals:     cat.Intervals(),
		DefaultActive: cat.DefaultActive(),
	}
	seen := map[job.Type]bool{}
	for _, sc := range list {
		if !sc.IsActive {
			continue
		}
		st.ActiveJobs++
		if !seen[sc.Type] {
			seen[sc.Type] = true
			st.ActiveTypes = append(st.ActiveTypes, sc.Type)
		}
	}
	if s.armed != nil {
		for _, t := range job.AllTypes() {
			if s.armed.IsArmed(t) {
				st.Armed = append(st.Armed, t)
			}
		}
	}
	return st, nil
}

// ResetToDefaultSchedules forces every known-type record to its canonical
// interval and active flag in one batch, then re-arms timers from the result.
func (s *Service) ResetToDefaultSchedules(ctx context.Context) (int, error) {
	list, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.log.Error("reset: list schedules failed", logx.Err(err))
		return 0, fmt.Errorf("list schedules: %w", err)
	}
	cat := s.registry.Catalog()
	var ops []storage.ScheduleOp
	for _, sc := range list {
		if p, drifted := cat.Drift(sc); drifted {
			ops = append(ops, storage.UpdateOp(sc.ID, p))
		}
	}
	if len(ops) > 0 {
		if err := s.store.ApplySchedules(ctx, ops); err != nil {
			s.log.Error("reset: apply failed", logx.Err(err))
			return 0, fmt.Errorf("reset schedules: %w", err)
		}
	}
	armed, err := s.registry.Rearm(ctx)
	if err != nil {
		s.log.Error("reset: re-arm failed", logx.Err(err))
		return len(ops), err
	}
	s.log.Info("schedules reset to defaults", logx.Int("corrected", len(ops)), logx.Int("armed", armed))
	return len(ops), nil
}

// CleanupDuplicateSchedules keeps the first record of each type (store order)
// and deletes the rest in one batch.
func (s *Service) CleanupDuplicateSchedules(ctx context.Context) (CleanupReport, error) {
	list, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.log.Error("cleanup: list schedules failed", logx.Err(err))
		return CleanupReport{}, fmt.Errorf("list schedules: %w", err)
	}
	rep := CleanupReport{Types: map[string]int{}}
	seen := map[job.Type]bool{}
	var ops []storage.ScheduleOp
	for _, sc := range list {
		if !seen[sc.Type] {
			seen[sc.Type] = true
			rep.Kept++
			continue
		}
		ops = append(ops, storage.DeleteOp(sc.ID))
		rep.Types[string(sc.Type)]++
	}
	if len(ops) == 0 {
		rep.Types = nil
		s.log.Debug("cleanup: no duplicate schedules", logx.Int("kept", rep.Kept))
		return rep, nil
	}
	if err := s.store.ApplySchedules(ctx, ops); err != nil {
		s.log.Error("cleanup: delete failed", logx.Err(err))
		return CleanupReport{}, fmt.Errorf("delete duplicates: %w", err)
	}
	rep.Removed = len(ops)
	if _, err := s.registry.Rearm(ctx); err != nil {
		s.log.Warn("cleanup: re-arm failed", logx.Err(err))
	}
	s.log.Info("duplicate schedules removed", logx.Int("removed", rep.Removed), logx.Int("kept", rep.Kept), logx.Any("types", rep.Types))
	return rep, nil
}

// UpdateJobSchedule applies p to the record with id and re-arms or disarms its type.
func (s *Service) UpdateJobSchedule(ctx context.Context, id string, p job.SchedulePatch) (job.Schedule, error) {
	if err := p.Validate(); err != nil {
		return job.Schedule{}, err
	}
	if err := s.store.UpdateSchedule(ctx, id, p); err != nil {
		s.log.Error("update schedule failed", logx.String("id", id), logx.Err(err))
		return job.Schedule{}, fmt.Errorf("update schedule: %w", err)
	}
	sc, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return job.Schedule{}, fmt.Errorf("reload schedule: %w", err)
	}
	if s.timers == nil || !sc.Type.Valid() {
		return sc, nil
	}
	if sc.IsActive {
		if err := s.timers.Arm(sc.Type, sc.Interval); err != nil {
			return sc, fmt.Errorf("arm %s: %w", sc.Type, err)
		}
		s.log.Info("schedule updated", logx.String("job", sc.Type.String()), logx.Int("interval_min", sc.Interval), logx.Bool("active", true))
	} else {
		if err := s.disarmUnlessCovered(ctx, sc); err != nil {
			return sc, err
		}
		s.log.Info("schedule updated", logx.String("job", sc.Type.String()), logx.Bool("active", false))
	}
	return sc, nil
}

// disarmUnlessCovered drops the type's timer only when no other active record
// of that type remains; otherwise the first remaining one is re-armed.
func (s *Service) disarmUnlessCovered(ctx context.Context, sc job.Schedule) error {
	list, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	for _, other := range list {
		if other.ID == sc.ID || other.Type != sc.Type || !other.IsActive {
			continue
		}
		if err := s.timers.Arm(other.Type, other.Interval); err != nil {
			return fmt.Errorf("arm %s: %w", other.Type, err)
		}
		s.log.Warn("type still active through a duplicate schedule", logx.String("job", sc.Type.String()), logx.String("kept_id", other.ID))
		return nil
	}
	s.timers.Disarm(sc.Type)
	return nil
}
