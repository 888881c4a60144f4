// Package executor maps job types to the code that performs them.
//
// The business logic of a sync lives outside this repository; syncd only
// needs something that runs a type once and reports processed/failed counts.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"syncd/internal/job"
)

// ErrNoExecutor is returned (wrapped with job.NoRetry) for unregistered types.
var ErrNoExecutor = errors.New("no executor registered")

// Func runs one job type once.
type Func func(ctx context.Context, t job.Type) (job.Result, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[job.Type]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[job.Type]Func)}
}

// Register installs or replaces the executor for t.
func (r *Registry) Register(t job.Type, fn Func) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", job.ErrUnknownType, string(t))
	}
	if fn == nil {
		return fmt.Errorf("executor for %s is nil", t)
	}
	r.mu.Lock()
	r.funcs[t] = fn
	r.mu.Unlock()
	return nil
}

func (r *Registry) Unregister(t job.Type) {
	r.mu.Lock()
	delete(r.funcs, t)
	r.mu.Unlock()
}

func (r *Registry) Lookup(t job.Type) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[t]
	return fn, ok
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []job.Type {
	r.mu.RLock()
	out := make([]job.Type, 0, len(r.funcs))
	for t := range r.funcs {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute dispatches to the executor registered for t.
func (r *Registry) Execute(ctx context.Context, t job.Type) (job.Result, error) {
	fn, ok := r.Lookup(t)
	if !ok {
		return job.Result{}, job.NoRetry(fmt.Errorf("%w for %s", ErrNoExecutor, t))
	}
	return fn(ctx, t)
}
