package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"syncd/internal/eventbus"
	"syncd/internal/job"
	logx "syncd/pkg/logx"
)

type recordingSink struct {
	mu    sync.Mutex
	texts []string
	fails int
}

func (r *recordingSink) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return errors.New("bad gateway")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSink) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func waitSent(t *testing.T, r *recordingSink, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.sent(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink received %d messages, want %d", len(r.sent()), n)
	return nil
}

func fastConfig() Config {
	return Config{Enabled: true, RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestCompletionAndFailureAreDelivered(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sink := &recordingSink{}
	s := New(fastConfig(), sink, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.JobCompleted, Data: job.Completion{
		JobType: job.CustomerSync, Processed: 42, Failed: 1, Duration: 1500 * time.Millisecond, Source: job.SourceSystem, Attempts: 2,
	}})
	bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: job.Failure{
		JobType: job.OrderSync, Attempts: 3, Error: "connection refused",
	}})

	got := waitSent(t, sink, 2)
	if !strings.Contains(got[0], "customer_sync completed") || !strings.Contains(got[0], "processed: 42") || !strings.Contains(got[0], "attempts: 2") {
		t.Fatalf("completion text = %q", got[0])
	}
	if !strings.Contains(got[1], "order_sync failed after 3 attempts") || !strings.Contains(got[1], "connection refused") {
		t.Fatalf("failure text = %q", got[1])
	}
}

func TestOnlyFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sink := &recordingSink{}
	cfg := fastConfig()
	cfg.OnlyFailures = true
	s := New(cfg, sink, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.JobCompleted, Data: job.Completion{JobType: job.OrderSync}})
	bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: &job.Failure{JobType: job.InventorySync, Attempts: 1, Error: "boom"}})

	got := waitSent(t, sink, 1)
	time.Sleep(20 * time.Millisecond)
	if n := len(sink.sent()); n != 1 {
		t.Fatalf("sent %d messages, want 1", n)
	}
	if !strings.Contains(got[0], "inventory_sync failed after 1 attempt\n") {
		t.Fatalf("text = %q", got[0])
	}
}

func TestSendIsRetried(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{fails: 2}
	s := New(fastConfig(), sink, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify("hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitSent(t, sink, 1)
	h := s.History()
	if len(h) != 1 || h[0].Text != "hello" || h[0].Err != "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &recordingSink{}, nil, logx.Nop())
	if err := s.Notify("x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	s.Apply(Config{Enabled: true})
	if err := s.Notify("x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v", err)
	}
}

func TestRetryDelayIsCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > time.Second {
			t.Fatalf("attempt %d delay = %s", attempt, d)
		}
	}
}
