package scheduler

import (
	"context"
	"time"

	"github.com/ramparthq/rampart/logger"
)

// Job is one recurring maintenance task.
type Job struct {
	Name string
	// Next computes the next run strictly after the given time.
	Next func(after time.Time) time.Time
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs serially from a single goroutine. The next tick of a
// job is computed after its run completes, so a slow run defers the schedule
// instead of stacking missed ticks.
type Scheduler struct {
	jobs []Job
	now  func() time.Time
}

// Every fires on a fixed interval.
func Every(interval time.Duration) func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		return after.Add(interval)
	}
}

// DailyAt fires once a day at the given local hour.
func DailyAt(hour int) func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		next := time.Date(after.Year(), after.Month(), after.Day(), hour, 0, 0, 0, after.Location())
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// HourlyOnTheHour fires at minute zero so aggregation periods line up with
// whole clock hours.
func HourlyOnTheHour() func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		return after.Truncate(time.Hour).Add(time.Hour)
	}
}

// Run blocks until the context is cancelled, dispatching whichever job is
// due next. Job failures are logged and the job keeps its schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		<-ctx.Done()
		return nil
	}

	next := make([]time.Time, len(s.jobs))
	for i, job := range s.jobs {
		next[i] = job.Next(s.now())
	}

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		idx := soonestIndex(next)
		wait := next[idx].Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		job := s.jobs[idx]
		started := s.now()
		if err := job.Run(ctx); err != nil {
			logger.GetLogger().Error().Err(err).Str("job", job.Name).Msg("scheduled job failed")
		} else {
			logger.GetLogger().Debug().
				Str("job", job.Name).
				Dur("elapsed", s.now().Sub(started)).
				Msg("scheduled job finished")
		}
		next[idx] = job.Next(s.now())
	}
}

func soonestIndex(next []time.Time) int {
	soonest := 0
	for i := 1; i < len(next); i++ {
		if next[i].Before(next[soonest]) {
			soonest = i
		}
	}
	return soonest
}
