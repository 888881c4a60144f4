package queue

import (
	"sync"
	"testing"

	"syncd/internal/job"
)

func item(id string, t job.Type, p job.Priority) job.QueueItem {
	return job.QueueItem{ID: id, JobType: t, Priority: p, Status: job.ItemQueued}
}

func TestPopOrdersByPriority(t *testing.T) {
	q := New()
	q.Push(item("a", job.CustomerSync, job.PriorityLow))
	q.Push(item("b", job.OnlineOrderSync, job.PriorityCritical))
	q.Push(item("c", job.InventorySync, job.PriorityMedium))

	var got []job.Priority
	for {
		it, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, it.Priority)
	}
	want := []job.Priority{job.PriorityCritical, job.PriorityMedium, job.PriorityLow}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New()
	for _, id := range []string{"1", "2", "3", "4"} {
		q.Push(item(id, job.OrderSync, job.PriorityHigh))
	}
	q.Push(item("crit", job.POSOrderSync, job.PriorityCritical))

	snap := q.Snapshot()
	if q.Len() != 5 {
		t.Fatalf("snapshot consumed items")
	}
	order := ""
	for _, it := range snap {
		order += it.ID + ","
	}
	if order != "crit,1,2,3,4," {
		t.Fatalf("dispatch order = %s", order)
	}
}

func TestRepushGoesToBackOfClass(t *testing.T) {
	q := New()
	q.Push(item("first", job.OrderSync, job.PriorityHigh))
	q.Push(item("second", job.OrderSync, job.PriorityHigh))

	it, _ := q.Pop()
	q.Push(it)

	next, _ := q.Pop()
	if next.ID != "second" {
		t.Fatalf("re-pushed item jumped ahead: got %s", next.ID)
	}
}

func TestCountTypeAndClear(t *testing.T) {
	q := New()
	q.Push(item("1", job.OrderSync, job.PriorityHigh))
	q.Push(item("2", job.OrderSync, job.PriorityLow))
	q.Push(item("3", job.CustomerSync, job.PriorityMedium))

	if n := q.CountType(job.OrderSync); n != 2 {
		t.Fatalf("CountType = %d", n)
	}
	if n := q.Clear(); n != 3 {
		t.Fatalf("Clear = %d", n)
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("queue not empty after Clear")
	}
}

func TestConcurrentPush(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(item("x", job.OrderSync, job.PriorityMedium))
			}
		}()
	}
	wg.Wait()
	if q.Len() != 800 {
		t.Fatalf("Len = %d", q.Len())
	}
}
