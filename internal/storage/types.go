package storage

import (
	"context"
	"errors"
	"time"

	"syncd/internal/job"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps; lost on restart
//   - "sqlite": SQLite database file at Path
//   - "mysql": DSN in the go-sql-driver/mysql format
//
// If Driver is empty, memory is used.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ScheduleOp is one step of an ApplySchedules batch.
// Insert uses Schedule; Update uses ID and Patch; Delete uses ID.
type ScheduleOp struct {
	Kind     OpKind
	ID       string
	Schedule job.Schedule
	Patch    job.SchedulePatch
}

func InsertOp(s job.Schedule) ScheduleOp { return ScheduleOp{Kind: OpInsert, Schedule: s} }
func UpdateOp(id string, p job.SchedulePatch) ScheduleOp {
	return ScheduleOp{Kind: OpUpdate, ID: id, Patch: p}
}
func DeleteOp(id string) ScheduleOp { return ScheduleOp{Kind: OpDelete, ID: id} }

// ScheduleStore lists schedules in insertion order.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]job.Schedule, error)
	GetSchedule(ctx context.Context, id string) (job.Schedule, error)
	// InsertSchedule assigns an ID when s.ID is empty and returns the stored record.
	InsertSchedule(ctx context.Context, s job.Schedule) (job.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, p job.SchedulePatch) error
	DeleteSchedule(ctx context.Context, id string) error
	// ApplySchedules runs ops all-or-nothing.
	ApplySchedules(ctx context.Context, ops []ScheduleOp) error
}

type RunStore interface {
	AppendRun(ctx context.Context, r job.RunRecord) (string, error)
	PatchRun(ctx context.Context, id string, p job.RunPatch) error
	// RecentRuns returns up to limit records, newest first. limit <= 0 means all.
	RecentRuns(ctx context.Context, limit int) ([]job.RunRecord, error)
}

type Store interface {
	ScheduleStore
	RunStore
	Close() error
}
