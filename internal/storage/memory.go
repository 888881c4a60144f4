package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"syncd/internal/job"
)

// memoryStore keeps everything in insertion-ordered slices.
type memoryStore struct {
	mu        sync.Mutex
	closed    bool
	schedules []job.Schedule
	runs      []job.RunRecord
	now       func() time.Time
}

// NewMemory returns an empty process-local store.
func NewMemory() Store {
	return &memoryStore{now: time.Now}
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) ListSchedules(ctx context.Context) ([]job.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]job.Schedule, len(m.schedules))
	copy(out, m.schedules)
	return out, nil
}

func (m *memoryStore) GetSchedule(ctx context.Context, id string) (job.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return job.Schedule{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return job.Schedule{}, ErrClosed
	}
	i := m.indexLocked(id)
	if i < 0 {
		return job.Schedule{}, fmt.Errorf("schedule %q: %w", id, ErrNotFound)
	}
	return m.schedules[i], nil
}

func (m *memoryStore) InsertSchedule(ctx context.Context, s job.Schedule) (job.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return job.Schedule{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return job.Schedule{}, ErrClosed
	}
	return m.insertLocked(s), nil
}

func (m *memoryStore) UpdateSchedule(ctx context.Context, id string, p job.SchedulePatch) error {
	return m.ApplySchedules(ctx, []ScheduleOp{UpdateOp(id, p)})
}

func (m *memoryStore) DeleteSchedule(ctx context.Context, id string) error {
	return m.ApplySchedules(ctx, []ScheduleOp{DeleteOp(id)})
}

// ApplySchedules works on a copy and swaps it in only when every op succeeded.
func (m *memoryStore) ApplySchedules(ctx context.Context, ops []ScheduleOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	orig := m.schedules
	m.schedules = append([]job.Schedule(nil), orig...)
	for _, op := range ops {
		if err := m.applyLocked(op); err != nil {
			m.schedules = orig
			return err
		}
	}
	return nil
}

func (m *memoryStore) applyLocked(op ScheduleOp) error {
	switch op.Kind {
	case OpInsert:
		m.insertLocked(op.Schedule)
	case OpUpdate:
		if err := op.Patch.Validate(); err != nil {
			return err
		}
		i := m.indexLocked(op.ID)
		if i < 0 {
			return fmt.Errorf("schedule %q: %w", op.ID, ErrNotFound)
		}
		s := op.Patch.ApplyTo(m.schedules[i])
		s.UpdatedAt = m.now()
		m.schedules[i] = s
	case OpDelete:
		i := m.indexLocked(op.ID)
		if i < 0 {
			return fmt.Errorf("schedule %q: %w", op.ID, ErrNotFound)
		}
		m.schedules = append(m.schedules[:i], m.schedules[i+1:]...)
	default:
		return fmt.Errorf("unsupported schedule op %d", op.Kind)
	}
	return nil
}

func (m *memoryStore) insertLocked(s job.Schedule) job.Schedule {
	now := m.now()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	m.schedules = append(m.schedules, s)
	return s
}

func (m *memoryStore) indexLocked(id string) int {
	for i := range m.schedules {
		if m.schedules[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *memoryStore) AppendRun(ctx context.Context, r job.RunRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartTime.IsZero() {
		r.StartTime = m.now()
	}
	m.runs = append(m.runs, r)
	return r.ID, nil
}

func (m *memoryStore) PatchRun(ctx context.Context, id string, p job.RunPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].ID == id {
			m.runs[i] = p.ApplyTo(m.runs[i])
			return nil
		}
	}
	return fmt.Errorf("run %q: %w", id, ErrNotFound)
}

func (m *memoryStore) RecentRuns(ctx context.Context, limit int) ([]job.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	n := len(m.runs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]job.RunRecord, 0, n)
	for i := len(m.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}
