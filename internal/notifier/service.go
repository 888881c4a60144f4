package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"syncd/internal/eventbus"
	"syncd/internal/job"
	rtsup "syncd/internal/runtime/supervisor"
	logx "syncd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	historySize = 100
	sendTimeout = 10 * time.Second
)

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	bus  eventbus.Bus
	sink Sink

	cfg     Config
	limiter *rate.Limiter

	queue chan string
	sup   *rtsup.Supervisor

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sink Sink, bus eventbus.Bus, log logx.Logger) *Service {
	s := &Service{
		log:  log.With(logx.String("comp", "notifier")),
		bus:  bus,
		sink: sink,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Queue size changes take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetSink replaces the delivery sink.
func (s *Service) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

// Start subscribes to job outcomes and launches the sender. It is idempotent
// and does nothing while disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan string, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(64, eventbus.JobCompleted, eventbus.JobFailed)
		sup.Go("notifier.events", func(c context.Context) error {
			defer unsub()
			s.eventLoop(c, events)
			return nil
		})
	}
	sup.GoRestart("notifier.sender", func(c context.Context) error {
		s.senderLoop(c, q)
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("notifier sender exited unexpectedly")
	})
	s.log.Debug("notifier started")
}

// Stop cancels the sender. Queued messages that were not sent are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.queue = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("notifier stop", logx.Err(err))
	}
}

// Notify queues text for delivery without blocking.
func (s *Service) Notify(text string) error {
	s.mu.Lock()
	enabled, q := s.cfg.Enabled, s.queue
	s.mu.Unlock()
	if !enabled {
		return ErrDisabled
	}
	if q == nil {
		return ErrStopped
	}
	select {
	case q <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// History returns recently delivered (or failed) messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			text := s.format(e)
			if text == "" {
				continue
			}
			if err := s.Notify(text); err != nil {
				s.log.Warn("notification dropped", logx.String("event", e.Type), logx.Err(err))
			}
		}
	}
}

func (s *Service) format(e eventbus.Event) string {
	s.mu.Lock()
	onlyFailures := s.cfg.OnlyFailures
	s.mu.Unlock()
	switch d := e.Data.(type) {
	case job.Completion:
		if onlyFailures {
			return ""
		}
		return formatCompletion(d)
	case *job.Completion:
		if onlyFailures || d == nil {
			return ""
		}
		return formatCompletion(*d)
	case job.Failure:
		return formatFailure(d)
	case *job.Failure:
		if d == nil {
			return ""
		}
		return formatFailure(*d)
	default:
		return ""
	}
}

func (s *Service) senderLoop(ctx context.Context, q <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, text)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, text string) {
	s.mu.Lock()
	cfg, lim, sink := s.cfg, s.limiter, s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryMax+1; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		lastErr = sink.Send(callCtx, text)
		cancel()
		if lastErr == nil {
			s.appendHistory(text, nil)
			return
		}
		s.log.Debug("notify send failed", logx.Int("attempt", attempt), logx.Err(lastErr))
		if attempt > cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	s.appendHistory(text, lastErr)
	s.log.Warn("notification not delivered", logx.Int("attempts", cfg.RetryMax+1), logx.Err(lastErr))
}

func (s *Service) appendHistory(text string, err error) {
	it := HistoryItem{At: time.Now(), Text: text}
	if err != nil {
		it.Err = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
