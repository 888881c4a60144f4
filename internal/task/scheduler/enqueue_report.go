package scheduler

import (
	"errors"
	"time"

	"syncd/internal/job"
	"syncd/internal/task/engine"
	logx "syncd/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(t job.Type, err error) {
	if err == nil {
		return
	}
	// A type still waiting from its previous firing is normal under load.
	if errors.Is(err, engine.ErrCoalesced) {
		s.log.Debug("timer firing coalesced", logx.String("job", t.String()))
		return
	}

	now := s.now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[t]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[t] = now
	s.enqMu.Unlock()

	s.log.Warn("timer failed to enqueue job", logx.String("job", t.String()), logx.Err(err))
}
