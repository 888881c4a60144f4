package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"syncd/internal/eventbus"
	"syncd/internal/job"
	logx "syncd/pkg/logx"
)

const historyWriteTimeout = 5 * time.Second

func (s *Service) loop(ctx context.Context) {
	every := s.config().KickInterval
	t := time.NewTicker(every)
	defer t.Stop()

	s.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.Drain(ctx)
		case <-t.C:
			if s.q.Len() > 0 && !s.draining.Load() {
				s.log.Debug("queue kick", logx.Int("pending", s.q.Len()))
				s.Drain(ctx)
			}
			if next := s.config().KickInterval; next != every {
				every = next
				t.Reset(every)
			}
		}
	}
}

// Drain processes queued items until the queue is empty or ctx is done.
// It returns immediately when another drain is already running.
func (s *Service) Drain(ctx context.Context) int {
	n := 0
	for {
		done, ok := s.drainPass(ctx)
		n += done
		if !ok {
			return n
		}
		// An enqueue may have landed between the last Pop and releasing the guard.
		if s.q.Len() == 0 {
			return n
		}
		if ctx.Err() != nil {
			// hand leftovers to whichever loop runs next
			s.Kick()
			return n
		}
	}
}

// drainPass holds the draining guard for one pass. The guard is released
// on every exit path, so a drain that outlives Stop keeps it until it ends.
func (s *Service) drainPass(ctx context.Context) (int, bool) {
	if !s.draining.CompareAndSwap(false, true) {
		return 0, false
	}
	defer s.draining.Store(false)
	n := 0
	for ctx.Err() == nil {
		it, ok := s.q.Pop()
		if !ok {
			break
		}
		s.processGuarded(ctx, it)
		n++
	}
	return n, true
}

// processGuarded turns a panic outside the executor (history store, marker,
// bus) into a terminal failure of the item instead of unwinding the drain.
func (s *Service) processGuarded(ctx context.Context, it job.QueueItem) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job.panic", logx.String("job", it.JobType.String()), logx.String("id", it.ID),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.failAfterPanic(ctx, it, r)
		}
	}()
	s.processOne(ctx, it)
}

func (s *Service) failAfterPanic(ctx context.Context, it job.QueueItem, r any) {
	msg := fmt.Sprintf("panic: %v", r)
	end := s.now()
	attempts := it.RetryCount + 1
	s.failed.Add(1)

	var recID string
	func() {
		defer func() {
			if r2 := recover(); r2 != nil {
				s.log.Error("job.failed record lost", logx.String("job", it.JobType.String()), logx.String("id", it.ID), logx.Any("panic", r2))
			}
		}()
		recID = s.appendRun(ctx, job.RunRecord{
			Type:      it.JobType,
			Status:    job.RunFailed,
			StartTime: it.CreatedAt,
			EndTime:   &end,
			Duration:  end.Sub(it.CreatedAt),
			Error:     msg,
			Priority:  it.Priority,
			Source:    it.Source,
			ItemID:    it.ID,
			Attempt:   attempts,
		})
	}()
	func() {
		defer func() { _ = recover() }()
		s.publish(eventbus.JobFailed, job.Failure{
			JobType:  it.JobType,
			RecordID: recID,
			ItemID:   it.ID,
			Source:   it.Source,
			Attempts: attempts,
			Error:    msg,
		})
	}()
	s.log.Error("job.failed", logx.String("job", it.JobType.String()), logx.String("id", it.ID), logx.Int("attempts", attempts), logx.String("err", msg))
}

func (s *Service) processOne(ctx context.Context, it job.QueueItem) {
	start := s.now()
	it.Status = job.ItemProcessing
	it.StartedAt = start
	attempt := it.RetryCount + 1
	s.setCurrent(&it)
	defer s.setCurrent(nil)

	recID := s.appendRun(ctx, job.RunRecord{
		Type:      it.JobType,
		Status:    job.RunRunning,
		StartTime: start,
		Priority:  it.Priority,
		Source:    it.Source,
		ItemID:    it.ID,
		Attempt:   attempt,
	})

	log := s.log.With(logx.String("job", it.JobType.String()), logx.String("id", it.ID), logx.Int("attempt", attempt))
	log.Debug("job.started", logx.Duration("queue_delay", start.Sub(it.CreatedAt)))
	s.publish(eventbus.JobStarted, eventFor(it))

	res, err := s.execute(ctx, it.JobType)
	end := s.now()
	dur := end.Sub(start)

	if err == nil {
		s.onSuccess(ctx, log, it, recID, res, end, dur)
		return
	}
	s.onFailure(ctx, log, it, recID, err, end, dur)
}

// execute runs the executor with the type's timeout and turns panics into errors.
func (s *Service) execute(ctx context.Context, t job.Type) (res job.Result, err error) {
	if s.exec == nil {
		return job.Result{}, job.NoRetry(errors.New("no executor configured"))
	}
	timeout := s.config().DefaultTimeout
	if d, ok := s.catalog.Lookup(t); ok && d.Timeout > 0 {
		timeout = d.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job.panic", logx.String("job", t.String()), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	res, err = s.exec.Execute(runCtx, t)
	if err == nil && ctx.Err() == nil && runCtx.Err() != nil {
		// The executor ignored its deadline and returned late without error.
		err = fmt.Errorf("timed out after %s: %w", timeout, runCtx.Err())
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w (timed out after %s)", err, timeout)
	}
	return res, err
}

func (s *Service) onSuccess(ctx context.Context, log logx.Logger, it job.QueueItem, recID string, res job.Result, end time.Time, dur time.Duration) {
	s.patchRun(ctx, recID, job.RunPatch{
		Status:           job.Ptr(job.RunCompleted),
		EndTime:          &end,
		Duration:         &dur,
		RecordsProcessed: job.Ptr(res.Processed),
		RecordsFailed:    job.Ptr(res.Failed),
	})
	it.Status = job.ItemCompleted
	it.CompletedAt = end

	s.mu.Lock()
	marker := s.marker
	s.mu.Unlock()
	if it.Scheduled && marker != nil {
		hctx, cancel := historyContext(ctx)
		if err := marker.MarkRun(hctx, it.JobType, end, it.RetryCount); err != nil {
			log.Warn("mark run failed", logx.Err(err))
		}
		cancel()
	}

	s.completed.Add(1)
	s.publish(eventbus.JobCompleted, job.Completion{
		JobType:   it.JobType,
		RecordID:  recID,
		ItemID:    it.ID,
		Processed: res.Processed,
		Failed:    res.Failed,
		Duration:  dur,
		Source:    it.Source,
		Attempts:  it.RetryCount + 1,
	})

	fields := []logx.Field{logx.Int("processed", res.Processed), logx.Int("failed", res.Failed), logx.Duration("dur", dur)}
	if dur >= 750*time.Millisecond {
		log.Info("job.completed", fields...)
	} else {
		log.Debug("job.completed", fields...)
	}
}

func (s *Service) onFailure(ctx context.Context, log logx.Logger, it job.QueueItem, recID string, err error, end time.Time, dur time.Duration) {
	interrupted := ctx.Err() != nil
	if interrupted {
		err = fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	msg := err.Error()

	s.patchRun(ctx, recID, job.RunPatch{
		Status:   job.Ptr(job.RunPending),
		EndTime:  &end,
		Duration: &dur,
		Error:    &msg,
	})

	it.RetryCount++
	it.LastError = msg
	terminal := interrupted || job.IsNoRetry(err) || it.RetryCount >= it.MaxRetries

	if !terminal {
		it.Status = job.ItemQueued
		it.StartedAt = time.Time{}
		s.q.Push(it)
		s.retried.Add(1)
		ev := eventFor(it)
		ev.Duration = dur
		ev.Error = msg
		s.publish(eventbus.JobRetry, ev)
		log.Warn("job.retry", logx.Int("retry_count", it.RetryCount), logx.Int("max_retries", it.MaxRetries), logx.Duration("dur", dur), logx.Err(err))
		return
	}

	it.Status = job.ItemFailed
	it.CompletedAt = end
	failedID := s.appendRun(ctx, job.RunRecord{
		Type:      it.JobType,
		Status:    job.RunFailed,
		StartTime: it.CreatedAt,
		EndTime:   &end,
		Duration:  end.Sub(it.CreatedAt),
		Error:     msg,
		Priority:  it.Priority,
		Source:    it.Source,
		ItemID:    it.ID,
		Attempt:   it.RetryCount,
	})

	s.failed.Add(1)
	s.publish(eventbus.JobFailed, job.Failure{
		JobType:  it.JobType,
		RecordID: failedID,
		ItemID:   it.ID,
		Source:   it.Source,
		Attempts: it.RetryCount,
		Error:    msg,
	})
	log.Error("job.failed", logx.Int("attempts", it.RetryCount), logx.Bool("no_retry", job.IsNoRetry(err)), logx.Bool("interrupted", interrupted), logx.Err(err))
}

// historyContext survives shutdown of the loop context so the final record of
// an interrupted attempt still lands.
func historyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
}

func (s *Service) appendRun(ctx context.Context, r job.RunRecord) string {
	if s.runs == nil {
		return ""
	}
	hctx, cancel := historyContext(ctx)
	defer cancel()
	id, err := s.runs.AppendRun(hctx, r)
	if err != nil {
		s.log.Warn("run history append failed", logx.String("job", r.Type.String()), logx.String("status", string(r.Status)), logx.Err(err))
		return ""
	}
	return id
}

func (s *Service) patchRun(ctx context.Context, id string, p job.RunPatch) {
	if s.runs == nil || id == "" {
		return
	}
	hctx, cancel := historyContext(ctx)
	defer cancel()
	if err := s.runs.PatchRun(hctx, id, p); err != nil {
		s.log.Warn("run history patch failed", logx.String("run", id), logx.Err(err))
	}
}
