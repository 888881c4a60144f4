package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"syncd/internal/job"
	"syncd/internal/storage"
	logx "syncd/pkg/logx"
)

// flakyRuns panics on its first AppendRun and delegates afterwards.
type flakyRuns struct {
	storage.RunStore
	appends atomic.Int32
}

func (f *flakyRuns) AppendRun(ctx context.Context, r job.RunRecord) (string, error) {
	if f.appends.Add(1) == 1 {
		panic("history store bug")
	}
	return f.RunStore.AppendRun(ctx, r)
}

func eventually(t *testing.T, d time.Duration, what string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s not reached within %s", what, d)
}

func TestHistoryPanicFailsItemAndLoopKeepsDraining(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	ex := &fakeExec{}
	svc := New(Config{KickInterval: 50 * time.Millisecond, DefaultTimeout: time.Second}, logx.Nop(), Deps{
		Executor: ex,
		Runs:     &flakyRuns{RunStore: st},
	})
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	if _, err := svc.Enqueue(Request{Type: job.OrderSync}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	eventually(t, 2*time.Second, "order_sync failed", func() bool { return svc.Status().Counters.Failed == 1 })

	if _, err := svc.Enqueue(Request{Type: job.InventorySync}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	eventually(t, 2*time.Second, "inventory_sync completed", func() bool { return svc.Status().Counters.Completed == 1 })

	if calls := ex.Calls(); len(calls) != 1 || calls[0] != job.InventorySync {
		t.Fatalf("executor calls = %v", calls)
	}
	st2 := svc.Status()
	if st2.Draining || len(st2.Pending) != 0 || st2.Current != nil {
		t.Fatalf("status after recovery = %+v", st2)
	}

	runs, err := st.RecentRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	var failed int
	for _, r := range runs {
		if r.Type == job.OrderSync && r.Status == job.RunFailed {
			failed++
			if !strings.Contains(r.Error, "history store bug") {
				t.Fatalf("failed record error = %q", r.Error)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("order_sync failed records = %d, runs = %+v", failed, runs)
	}
}

func TestRestartWhileAttemptInFlightKeepsSingleFlight(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 2)
	ex := &fakeExec{fn: func(context.Context, job.Type, int) (job.Result, error) {
		started <- struct{}{}
		time.Sleep(600 * time.Millisecond) // ignores cancellation
		return job.Result{Processed: 1}, nil
	}}
	svc, _ := newTestService(t, nil, ex, nil, nil)
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	if _, err := svc.Enqueue(Request{Type: job.OrderSync}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first attempt never started")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	svc.Stop(stopCtx)
	cancel()
	svc.Reset()
	if !svc.Status().Draining {
		t.Fatalf("draining guard released while an attempt is still running")
	}

	svc.Start(context.Background())
	if _, err := svc.Enqueue(Request{Type: job.InventorySync}); err != nil {
		t.Fatalf("Enqueue after restart: %v", err)
	}
	eventually(t, 3*time.Second, "second attempt", func() bool { return len(ex.Calls()) == 2 })
	if m := ex.maxSeen.Load(); m != 1 {
		t.Fatalf("max concurrent executions = %d", m)
	}
	eventually(t, 2*time.Second, "both completed", func() bool { return svc.Status().Counters.Completed == 2 })
}
