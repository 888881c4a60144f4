// Package engine is the queue processor: it owns the priority queue, drains
// it one item at a time and applies the retry policy.
//
// Timers and operators only enqueue. Exactly one item is processing at any
// moment; a draining guard keeps concurrent Drain calls from overlapping.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"syncd/internal/eventbus"
	"syncd/internal/job"
	rtsup "syncd/internal/runtime/supervisor"
	"syncd/internal/storage"
	"syncd/internal/task/queue"
	logx "syncd/pkg/logx"
)

type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	catalog *job.Catalog
	exec    Executor
	runs    storage.RunStore
	marker  ScheduleMarker

	q        *queue.Queue
	kick     chan struct{}
	draining atomic.Bool
	closed   bool
	current  *job.QueueItem

	sup *rtsup.Supervisor

	enqueued  atomic.Uint64
	completed atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
	coalesced atomic.Uint64

	now func() time.Time
}

// Deps are the collaborators of the processor. Marker and Bus may be nil.
type Deps struct {
	Catalog  *job.Catalog
	Executor Executor
	Runs     storage.RunStore
	Marker   ScheduleMarker
	Bus      eventbus.Bus
}

func New(cfg Config, log logx.Logger, d Deps) *Service {
	if d.Catalog == nil {
		d.Catalog = job.DefaultCatalog()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log.With(logx.String("comp", "engine")),
		bus:     d.Bus,
		catalog: d.Catalog,
		exec:    d.Executor,
		runs:    d.Runs,
		marker:  d.Marker,
		q:       queue.New(),
		kick:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// SetMarker wires the schedule registry after construction.
func (s *Service) SetMarker(m ScheduleMarker) {
	s.mu.Lock()
	s.marker = m
	s.mu.Unlock()
}

// Apply swaps runtime settings. The kick interval takes effect on the next tick.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start launches the drain loop under a supervisor. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.closed = false
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup := s.sup
	s.mu.Unlock()

	if s.draining.Load() {
		s.log.Warn("previous drain still running; dispatch resumes when it returns")
	}
	sup.GoRestart("queue.loop", func(c context.Context) error {
		s.loop(c)
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("queue loop exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	s.log.Info("queue processor started", logx.Duration("kick_interval", s.config().KickInterval), logx.Int("pending", s.q.Len()))
}

// Stop rejects new work and waits for the loop to exit. An in-flight
// execution sees its context canceled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("queue processor stop", logx.Bool("draining", s.draining.Load()), logx.Err(err))
	}
	s.log.Info("queue processor stopped", logx.Int("pending", s.q.Len()))
}

// Reset clears every pending item. The draining guard is not touched: it is
// released by the drain that holds it, so a drain that outlived Stop keeps
// any later Start from dispatching until its attempt returns.
func (s *Service) Reset() int {
	n := s.q.Clear()
	if n > 0 {
		s.log.Info("queue cleared", logx.Int("dropped", n))
	}
	return n
}

// Enqueue validates req, builds a queue item and wakes the drain loop.
func (s *Service) Enqueue(req Request) (job.QueueItem, error) {
	d, ok := s.catalog.Lookup(req.Type)
	if !ok {
		return job.QueueItem{}, fmt.Errorf("%w: %q", job.ErrUnknownType, string(req.Type))
	}
	prio := d.Priority
	if req.Priority != "" {
		if req.Priority.Rank() == 0 {
			return job.QueueItem{}, fmt.Errorf("%w: %q", job.ErrUnknownPriority, string(req.Priority))
		}
		prio = req.Priority
	}
	src := req.Source
	if src == "" {
		src = job.SourceSystem
	}

	s.mu.Lock()
	closed := s.closed
	coalesce := s.cfg.CoalesceScheduled
	s.mu.Unlock()
	if closed {
		return job.QueueItem{}, ErrStopped
	}

	it := job.QueueItem{
		ID:         uuid.NewString(),
		JobType:    req.Type,
		Priority:   prio,
		Status:     job.ItemQueued,
		Source:     src,
		Scheduled:  req.Scheduled,
		CreatedAt:  s.now(),
		MaxRetries: d.MaxRetries,
	}

	if req.Scheduled && coalesce && s.q.CountType(req.Type) > 0 {
		s.coalesced.Add(1)
		s.publish(eventbus.JobSkipped, JobEvent{ItemID: it.ID, JobType: it.JobType, Priority: prio, Source: src, Error: "coalesced"})
		s.log.Debug("job.skipped", logx.String("job", it.JobType.String()), logx.String("reason", "coalesced"))
		return it, ErrCoalesced
	}

	s.q.Push(it)
	s.enqueued.Add(1)
	s.publish(eventbus.JobEnqueued, eventFor(it))
	s.log.Debug("job.enqueued", logx.String("job", it.JobType.String()), logx.String("id", it.ID),
		logx.String("priority", prio.String()), logx.String("source", string(src)), logx.Bool("scheduled", it.Scheduled))
	s.Kick()
	return it, nil
}

// Kick wakes the drain loop without blocking.
func (s *Service) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Service) Status() Status {
	s.mu.Lock()
	running := s.sup != nil
	var cur *job.QueueItem
	if s.current != nil {
		c := *s.current
		cur = &c
	}
	s.mu.Unlock()

	return Status{
		Running:  running,
		Draining: s.draining.Load(),
		Current:  cur,
		Pending:  s.q.Snapshot(),
		Counters: Counters{
			Enqueued:  s.enqueued.Load(),
			Completed: s.completed.Load(),
			Retried:   s.retried.Load(),
			Failed:    s.failed.Load(),
			Coalesced: s.coalesced.Load(),
		},
	}
}

// Pending reports the number of queued items.
func (s *Service) Pending() int { return s.q.Len() }

func (s *Service) setCurrent(it *job.QueueItem) {
	s.mu.Lock()
	s.current = it
	s.mu.Unlock()
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
