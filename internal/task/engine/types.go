package engine

import (
	"context"
	"time"

	"syncd/internal/job"
)

// Config controls the queue processor.
type Config struct {
	// KickInterval is how often the loop checks for pending work that no
	// drain is handling. Defaults to 30s.
	KickInterval time.Duration
	// DefaultTimeout applies to job types whose catalog timeout is 0.
	DefaultTimeout time.Duration
	// CoalesceScheduled drops a timer firing when its type is already queued.
	CoalesceScheduled bool
}

func (c Config) withDefaults() Config {
	if c.KickInterval <= 0 {
		c.KickInterval = 30 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Minute
	}
	return c
}

// Executor runs one job type once.
type Executor interface {
	Execute(ctx context.Context, t job.Type) (job.Result, error)
}

// ScheduleMarker records a successful scheduled run against the type's schedule.
type ScheduleMarker interface {
	MarkRun(ctx context.Context, t job.Type, at time.Time, retryCount int) error
}

// Request asks for one execution of a job type.
// An empty Priority means the type's own priority.
type Request struct {
	Type      job.Type
	Priority  job.Priority
	Source    job.Source
	Scheduled bool
}

type Counters struct {
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Retried   uint64 `json:"retried"`
	Failed    uint64 `json:"failed"`
	Coalesced uint64 `json:"coalesced"`
}

// Status is a point-in-time view for operators.
type Status struct {
	Running  bool            `json:"running"`
	Draining bool            `json:"draining"`
	Current  *job.QueueItem  `json:"current,omitempty"`
	Pending  []job.QueueItem `json:"pending"`
	Counters Counters        `json:"counters"`
}

// JobEvent is the bus payload for started/retry/skipped events.
type JobEvent struct {
	ItemID   string        `json:"item_id"`
	JobType  job.Type      `json:"job_type"`
	Priority job.Priority  `json:"priority"`
	Source   job.Source    `json:"source"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func eventFor(it job.QueueItem) JobEvent {
	return JobEvent{ItemID: it.ID, JobType: it.JobType, Priority: it.Priority, Source: it.Source, Attempt: it.RetryCount + 1}
}
