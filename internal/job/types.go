package job

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies a unit of sync work. The set is closed: see AllTypes.
type Type string

const (
	OrderSync       Type = "order_sync"
	CustomerSync    Type = "customer_sync"
	InventorySync   Type = "inventory_sync"
	OnlineOrderSync Type = "online_order_sync"
	POSOrderSync    Type = "pos_order_sync"
)

// AllTypes returns every known job type in canonical order.
func AllTypes() []Type {
	return []Type{OrderSync, CustomerSync, InventorySync, OnlineOrderSync, POSOrderSync}
}

func (t Type) Valid() bool {
	switch t {
	case OrderSync, CustomerSync, InventorySync, OnlineOrderSync, POSOrderSync:
		return true
	default:
		return false
	}
}

func (t Type) String() string { return string(t) }

func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
	return t, nil
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities for dispatch: critical(4) > high(3) > medium(2) > low(1).
// Unknown values rank 0 and are dispatched last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

func (p Priority) String() string { return string(p) }

func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if p.Rank() == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownPriority, raw)
	}
	return p, nil
}

// Source tags where a queue item came from. Informational only.
type Source string

const (
	SourceOnline Source = "online"
	SourcePOS    Source = "pos"
	SourceSystem Source = "system"
)

func ParseSource(raw string) (Source, error) {
	switch s := Source(strings.ToLower(strings.TrimSpace(raw))); s {
	case SourceOnline, SourcePOS, SourceSystem:
		return s, nil
	default:
		return "", fmt.Errorf("unknown source %q", raw)
	}
}

type ItemStatus string

const (
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Schedule is the persisted recurring policy for one job type.
type Schedule struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	Interval   int        `json:"interval"` // minutes
	IsActive   bool       `json:"is_active"`
	Priority   Priority   `json:"priority"`
	MaxRetries int        `json:"max_retries"`
	RetryCount int        `json:"retry_count"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SchedulePatch is a partial update; nil fields are left untouched.
type SchedulePatch struct {
	Interval   *int       `json:"interval,omitempty"`
	IsActive   *bool      `json:"is_active,omitempty"`
	Priority   *Priority  `json:"priority,omitempty"`
	MaxRetries *int       `json:"max_retries,omitempty"`
	RetryCount *int       `json:"retry_count,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

func (p SchedulePatch) IsEmpty() bool {
	return p.Interval == nil && p.IsActive == nil && p.Priority == nil && p.MaxRetries == nil &&
		p.RetryCount == nil && p.LastRun == nil && p.NextRun == nil
}

// Validate rejects values that would break schedule invariants.
func (p SchedulePatch) Validate() error {
	if p.Interval != nil && *p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0 minutes, got %d", ErrInvalidSchedule, *p.Interval)
	}
	if p.MaxRetries != nil && *p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalidSchedule, *p.MaxRetries)
	}
	if p.RetryCount != nil && *p.RetryCount < 0 {
		return fmt.Errorf("%w: retry_count must be >= 0, got %d", ErrInvalidSchedule, *p.RetryCount)
	}
	if p.Priority != nil && p.Priority.Rank() == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownPriority, string(*p.Priority))
	}
	return nil
}

// ApplyTo returns s with the patch applied.
func (p SchedulePatch) ApplyTo(s Schedule) Schedule {
	if p.Interval != nil {
		s.Interval = *p.Interval
	}
	if p.IsActive != nil {
		s.IsActive = *p.IsActive
	}
	if p.Priority != nil {
		s.Priority = *p.Priority
	}
	if p.MaxRetries != nil {
		s.MaxRetries = *p.MaxRetries
	}
	if p.RetryCount != nil {
		s.RetryCount = *p.RetryCount
	}
	if p.LastRun != nil {
		t := *p.LastRun
		s.LastRun = &t
	}
	if p.NextRun != nil {
		t := *p.NextRun
		s.NextRun = &t
	}
	return s
}

// QueueItem is one pending or in-flight request to run a job type once.
type QueueItem struct {
	ID          string     `json:"id"`
	JobType     Type       `json:"job_type"`
	Priority    Priority   `json:"priority"`
	Status      ItemStatus `json:"status"`
	Source      Source     `json:"source"`
	Scheduled   bool       `json:"scheduled"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
}

// RunRecord is an audit entry for one execution attempt.
type RunRecord struct {
	ID               string        `json:"id"`
	Type             Type          `json:"type"`
	Status           RunStatus     `json:"status"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          *time.Time    `json:"end_time,omitempty"`
	Duration         time.Duration `json:"duration"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsFailed    int           `json:"records_failed"`
	Error            string        `json:"error,omitempty"`
	Priority         Priority      `json:"priority"`
	Source           Source        `json:"source"`
	ItemID           string        `json:"item_id,omitempty"`
	Attempt          int           `json:"attempt"`
}

type RunPatch struct {
	Status           *RunStatus
	EndTime          *time.Time
	Duration         *time.Duration
	RecordsProcessed *int
	RecordsFailed    *int
	Error            *string
}

func (p RunPatch) ApplyTo(r RunRecord) RunRecord {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.EndTime != nil {
		t := *p.EndTime
		r.EndTime = &t
	}
	if p.Duration != nil {
		r.Duration = *p.Duration
	}
	if p.RecordsProcessed != nil {
		r.RecordsProcessed = *p.RecordsProcessed
	}
	if p.RecordsFailed != nil {
		r.RecordsFailed = *p.RecordsFailed
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	return r
}

// Result is what an executor reports for one run.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Completion is published once per completed execution.
type Completion struct {
	JobType   Type          `json:"job_type"`
	RecordID  string        `json:"record_id"`
	ItemID    string        `json:"item_id"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Source    Source        `json:"source"`
	Attempts  int           `json:"attempts"`
}

// Failure is published once per terminally failed item.
type Failure struct {
	JobType  Type   `json:"job_type"`
	RecordID string `json:"record_id"`
	ItemID   string `json:"item_id"`
	Source   Source `json:"source"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

func Ptr[T any](v T) *T { return &v }
