// Package queue is the in-memory priority queue of pending job executions.
//
// Items are ordered by priority rank (critical first) and, within a rank,
// by the order they were pushed. Re-pushing an item gives it a fresh
// sequence number, so a retried item goes to the back of its class.
package queue

import (
	"container/heap"
	"sync"

	"syncd/internal/job"
)

type entry struct {
	item job.QueueItem
	rank int
	seq  uint64
}

// itemHeap implements heap.Interface. The root is the next item to dispatch.
type itemHeap []entry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank > h[j].rank
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return x
}

// Queue is a concurrency-safe priority queue.
type Queue struct {
	mu  sync.Mutex
	h   itemHeap
	seq uint64
}

func New() *Queue { return &Queue{} }

func (q *Queue) Push(it job.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.h, entry{item: it, rank: it.Priority.Rank(), seq: q.seq})
}

// Pop removes the highest-ranked, oldest item.
func (q *Queue) Pop() (job.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return job.QueueItem{}, false
	}
	e := heap.Pop(&q.h).(entry)
	return e.item, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// CountType reports how many pending items have the given type.
func (q *Queue) CountType(t job.Type) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.h {
		if e.item.JobType == t {
			n++
		}
	}
	return n
}

// Snapshot returns pending items in dispatch order without removing them.
func (q *Queue) Snapshot() []job.QueueItem {
	q.mu.Lock()
	cp := make(itemHeap, len(q.h))
	copy(cp, q.h)
	q.mu.Unlock()

	out := make([]job.QueueItem, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(entry).item)
	}
	return out
}

// Clear drops every pending item and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.h)
	q.h = nil
	return n
}
