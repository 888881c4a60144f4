package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"syncd/internal/job"
	"syncd/internal/task/engine"
	logx "syncd/pkg/logx"
)

// Config controls the timer bank.
type Config struct {
	// StartupSpread adds a random delay (at most min(interval, 30s)) to the
	// first firing of each timer.
	StartupSpread bool
	// Timezone is an IANA name used for reported fire times; empty means local.
	Timezone string
}

// Enqueuer accepts timer firings. *engine.Service implements it.
type Enqueuer interface {
	Enqueue(req engine.Request) (job.QueueItem, error)
}

// Timer describes one armed job type.
type Timer struct {
	Type     job.Type      `json:"type"`
	Interval time.Duration `json:"interval"`
	Spread   time.Duration `json:"spread,omitempty"`
	ArmedAt  time.Time     `json:"armed_at"`
	Next     time.Time     `json:"next,omitempty"`
	Prev     time.Time     `json:"prev,omitempty"`
}

type timerDef struct {
	typ     job.Type
	every   time.Duration
	spread  time.Duration
	armedAt time.Time
	entryID cron.EntryID
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	loc  *time.Location
	c    *cron.Cron
	defs map[job.Type]*timerDef
	enq  Enqueuer

	enqMu       sync.Mutex
	lastEnqWarn map[job.Type]time.Time

	fired atomic.Uint64
	now   func() time.Time
}

func New(cfg Config, enq Enqueuer, log logx.Logger) *Service {
	return &Service{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "scheduler")),
		defs:        map[job.Type]*timerDef{},
		enq:         enq,
		lastEnqWarn: map[job.Type]time.Time{},
		now:         time.Now,
	}
}

// Apply swaps the config. A timezone change restarts cron and re-registers
// every armed timer.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Start begins triggering. Timers armed before Start are registered now.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("timer bank started", logx.String("tz", s.loc.String()), logx.Int("timers", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.addCronLocked(d)
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	s.startLocked()
	s.log.Info("timer bank restarted", logx.String("tz", s.loc.String()))
}

// Stop stops triggering. Armed definitions are kept; Start re-registers them.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("timer bank stopped")
}

// Arm installs a recurring timer for t, replacing any existing one.
func (s *Service) Arm(t job.Type, intervalMinutes int) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", job.ErrUnknownType, string(t))
	}
	if intervalMinutes <= 0 {
		return fmt.Errorf("%s: interval must be > 0 minutes, got %d", t, intervalMinutes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(t)
	d := &timerDef{typ: t, every: time.Duration(intervalMinutes) * time.Minute, armedAt: s.now()}
	s.defs[t] = d
	if s.c != nil {
		s.addCronLocked(d)
		s.log.Debug("timer armed", logx.String("job", t.String()), logx.Duration("every", d.every),
			logx.Duration("spread", d.spread), logx.Time("next", s.c.Entry(d.entryID).Next))
	}
	return nil
}

// Disarm removes the timer for t and reports whether one existed.
func (s *Service) Disarm(t job.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(t)
	if ok {
		s.log.Debug("timer disarmed", logx.String("job", t.String()))
	}
	return ok
}

// DisarmAll removes every timer and returns how many were removed.
func (s *Service) DisarmAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for t := range s.defs {
		if s.removeLocked(t) {
			n++
		}
	}
	return n
}

// Armed returns the armed timers sorted by type.
func (s *Service) Armed() []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Timer, 0, len(s.defs))
	for _, d := range s.defs {
		tm := Timer{Type: d.typ, Interval: d.every, Spread: d.spread, ArmedAt: d.armedAt}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			tm.Next, tm.Prev = e.Next, e.Prev
		}
		out = append(out, tm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// IsArmed reports whether t has a timer.
func (s *Service) IsArmed(t job.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[t]
	return ok
}

// Fired counts timer firings since construction.
func (s *Service) Fired() uint64 { return s.fired.Load() }

func (s *Service) removeLocked(t job.Type) bool {
	d, ok := s.defs[t]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, t)
	return true
}

func (s *Service) addCronLocked(d *timerDef) {
	t := d.typ
	sched, jitter := intervalSchedule(d.every, s.now().In(s.loc), s.cfg.StartupSpread)
	d.spread = jitter
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(t) }))
}

func (s *Service) fire(t job.Type) {
	s.fired.Add(1)
	if s.enq == nil {
		return
	}
	_, err := s.enq.Enqueue(engine.Request{Type: t, Source: job.SourceSystem, Scheduled: true})
	if err != nil {
		s.reportEnqueueError(t, err)
		return
	}
	s.log.Debug("timer fired", logx.String("job", t.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
