package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays the first firing of an interval schedule by a random
// jitter, then follows the base schedule.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalSchedule returns a cron schedule firing every interval. With spread
// enabled the first firing lands in [now+every, now+every+min(every, 30s)).
func intervalSchedule(every time.Duration, now time.Time, spread bool) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	if !spread {
		return base, 0
	}
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	jitter := time.Duration(rand.Int64N(int64(window)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}
